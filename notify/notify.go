// Package notify delivers push notifications through an Expo-compatible
// relay and records device tokens in the participant directory.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cipherchat/backend"
)

// DefaultPushEndpoint is the hosted Expo push gateway.
const DefaultPushEndpoint = "https://exp.host/--/api/v2/push/send"

const requestTimeout = 10 * time.Second

// Client posts notification payloads to the relay and mirrors device
// tokens into the directory collection so peers can address this device.
type Client struct {
	endpoint   string
	store      backend.Store
	httpClient *http.Client
}

// NewClient builds a relay client. An empty endpoint selects the hosted
// gateway.
func NewClient(endpoint string, store backend.Store) *Client {
	if endpoint == "" {
		endpoint = DefaultPushEndpoint
	}
	return &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		store:      store,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// RegisterToken stores the device push token on the participant's
// directory document so other clients can notify this device.
func (c *Client) RegisterToken(ctx context.Context, participantID, token, platform string) error {
	if participantID == "" || token == "" {
		return fmt.Errorf("participant id and token are required")
	}

	data := map[string]any{
		"pushToken": token,
		"platform":  platform,
	}
	if err := c.store.Set(ctx, backend.CollectionUsers, participantID, data, true); err != nil {
		return fmt.Errorf("record push token: %w", err)
	}
	return nil
}

type pushMessage struct {
	To    string            `json:"to"`
	Sound string            `json:"sound"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type pushReceipt struct {
	Data struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"data"`
}

// Send posts one notification to the relay. The body is the plaintext
// preview the recipient sees, so callers pass already-decrypted text.
func (c *Client) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	if token == "" {
		return fmt.Errorf("push token is required")
	}

	payload, err := json.Marshal(pushMessage{
		To:    token,
		Sound: "default",
		Title: title,
		Body:  body,
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("marshal push message: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("deliver push message: %w", err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read push receipt: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("push relay returned status %d", response.StatusCode)
	}

	var receipt pushReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return fmt.Errorf("parse push receipt: %w", err)
	}
	if receipt.Data.Status == "error" {
		return fmt.Errorf("push relay rejected message: %s", receipt.Data.Message)
	}
	return nil
}
