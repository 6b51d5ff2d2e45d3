// Package auth is the identity provider client. It speaks the provider's
// REST API (Firebase-compatible identitytoolkit endpoints) and surfaces
// failures as the classified AuthError taxonomy.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"cipherchat/backend"
	"cipherchat/models"
)

const (
	defaultRequestTimeout = 15 * time.Second
	stateBuffer           = 8
)

// Client authenticates against the identity provider and tracks the current
// session. It implements backend.Identity.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client

	mu      sync.Mutex
	current *models.Participant
	states  chan *models.Participant
}

// NewClient creates a client for the given REST endpoint and API key.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		states:     make(chan *models.Participant, stateBuffer),
	}
}

// Current returns the signed-in participant, or nil.
func (c *Client) Current() *models.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	participant := *c.current
	return &participant
}

// States emits the participant on sign-in and nil on sign-out.
func (c *Client) States() <-chan *models.Participant {
	return c.states
}

// Login authenticates an existing account and records the session.
func (c *Client) Login(ctx context.Context, email, password string) (models.Participant, error) {
	return c.authenticate(ctx, "accounts:signInWithPassword", email, password)
}

// Register creates a new account and signs it in.
func (c *Client) Register(ctx context.Context, email, password string) (models.Participant, error) {
	return c.authenticate(ctx, "accounts:signUp", email, password)
}

// SignOut clears the current session.
func (c *Client) SignOut() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	c.emit(nil)
}

type credentialsRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type sessionResponse struct {
	LocalID string `json:"localId"`
	Email   string `json:"email"`
	IDToken string `json:"idToken"`
}

type providerError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) authenticate(ctx context.Context, action, email, password string) (models.Participant, error) {
	if email == "" || password == "" {
		return models.Participant{}, &backend.AuthError{
			Code:    backend.AuthInvalidCredentials,
			Message: "email and password are required",
		}
	}

	payload, err := json.Marshal(credentialsRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	})
	if err != nil {
		return models.Participant{}, fmt.Errorf("marshal credentials: %w", err)
	}

	url := fmt.Sprintf("%s/%s?key=%s", c.endpoint, action, c.apiKey)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return models.Participant{}, fmt.Errorf("build auth request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return models.Participant{}, &backend.AuthError{
			Code:    backend.AuthNetwork,
			Message: "identity provider unreachable",
			Err:     err,
		}
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return models.Participant{}, &backend.AuthError{
			Code:    backend.AuthNetwork,
			Message: "read identity provider response",
			Err:     err,
		}
	}

	if response.StatusCode != http.StatusOK {
		return models.Participant{}, classifyProviderError(body)
	}

	var session sessionResponse
	if err := json.Unmarshal(body, &session); err != nil {
		return models.Participant{}, fmt.Errorf("parse session response: %w", err)
	}
	if session.LocalID == "" {
		return models.Participant{}, fmt.Errorf("session response missing participant id")
	}

	participant := models.Participant{UID: session.LocalID, Email: session.Email}
	if participant.Email == "" {
		participant.Email = email
	}

	c.mu.Lock()
	c.current = &participant
	c.mu.Unlock()
	c.emit(&participant)

	return participant, nil
}

func classifyProviderError(body []byte) error {
	var decoded providerError
	_ = json.Unmarshal(body, &decoded)
	message := decoded.Error.Message

	switch {
	case message == "EMAIL_EXISTS":
		return &backend.AuthError{Code: backend.AuthEmailInUse, Message: "email is already registered"}
	case strings.HasPrefix(message, "WEAK_PASSWORD"):
		return &backend.AuthError{Code: backend.AuthWeakPassword, Message: "password is too weak"}
	case message == "EMAIL_NOT_FOUND", message == "INVALID_PASSWORD", message == "INVALID_LOGIN_CREDENTIALS", message == "USER_DISABLED":
		return &backend.AuthError{Code: backend.AuthInvalidCredentials, Message: "invalid email or password"}
	default:
		return &backend.AuthError{
			Code:    backend.AuthNetwork,
			Message: fmt.Sprintf("identity provider error %q", message),
		}
	}
}

func (c *Client) emit(state *models.Participant) {
	select {
	case c.states <- state:
	default:
	}
}
