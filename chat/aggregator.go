package chat

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cipherchat/backend"
	"cipherchat/crypto"
	"cipherchat/models"
)

const (
	snapshotBuffer = 16

	// DefaultMarkReadTimeout bounds each fire-and-forget read-receipt write.
	DefaultMarkReadTimeout = 5 * time.Second
	// DefaultSendTimeout bounds the asynchronous send write.
	DefaultSendTimeout = 10 * time.Second
)

var (
	// ErrNotOpen indicates no conversation is currently open.
	ErrNotOpen = errors.New("chat: no open conversation")
	// ErrEmptyMessage indicates a message with neither text nor image payload.
	ErrEmptyMessage = errors.New("chat: message needs text or an image")
)

// MessageCache mirrors decrypted conversation history so previously synced
// conversations render without a live feed. All cache failures are
// best-effort: logged and ignored.
type MessageCache interface {
	SaveMessages(conversationKey string, messages []models.Message) error
}

// AggregatorOptions configures a conversation stream aggregator.
type AggregatorOptions struct {
	Store backend.Store
	Codec *crypto.Codec
	Self  models.Participant

	// Typing, when set, is cleared by the send path.
	Typing *TypingNotifier
	// Cache, when set, receives each decrypted snapshot.
	Cache MessageCache

	MarkReadTimeout time.Duration
	SendTimeout     time.Duration
}

// Aggregator owns the materialized, newest-first message list of at most one
// open conversation. It folds every remote snapshot into a fresh list
// (decrypting each item anew), emits the result on Updates, and issues
// fire-and-forget read-receipt writes for unread messages from the other
// party. Nothing else may mutate the list.
type Aggregator struct {
	store backend.Store
	codec *crypto.Codec
	self  models.Participant

	typing *TypingNotifier
	cache  MessageCache

	markReadTimeout time.Duration
	sendTimeout     time.Duration

	updates chan []models.Message

	mu              sync.Mutex
	conversationKey string
	sub             backend.Subscription
	loopDone        chan struct{}
}

// NewAggregator creates an aggregator with validated options.
func NewAggregator(options AggregatorOptions) (*Aggregator, error) {
	if options.Store == nil {
		return nil, errors.New("chat: aggregator requires a store")
	}
	if options.Codec == nil {
		return nil, errors.New("chat: aggregator requires a codec")
	}
	if options.Self.UID == "" {
		return nil, errors.New("chat: aggregator requires the local participant")
	}
	if options.MarkReadTimeout <= 0 {
		options.MarkReadTimeout = DefaultMarkReadTimeout
	}
	if options.SendTimeout <= 0 {
		options.SendTimeout = DefaultSendTimeout
	}

	return &Aggregator{
		store:           options.Store,
		codec:           options.Codec,
		self:            options.Self,
		typing:          options.Typing,
		cache:           options.Cache,
		markReadTimeout: options.MarkReadTimeout,
		sendTimeout:     options.SendTimeout,
		updates:         make(chan []models.Message, snapshotBuffer),
	}, nil
}

// Updates emits the full decrypted message list, newest first, on every
// remote snapshot. Slices are never mutated after emission.
func (a *Aggregator) Updates() <-chan []models.Message {
	return a.updates
}

// ConversationKey returns the open conversation key, or empty.
func (a *Aggregator) ConversationKey() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conversationKey
}

// Open subscribes to one conversation's message feed. An already open
// conversation is torn down first, so at most one subscription is ever live.
func (a *Aggregator) Open(ctx context.Context, conversationKey string) error {
	if conversationKey == "" {
		return errors.New("chat: conversation key is required")
	}

	a.Close()

	sub, err := a.store.Subscribe(ctx, backend.Query{
		Collection: backend.MessagesCollection(conversationKey),
		OrderBy:    "createdAt",
		Desc:       true,
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.conversationKey = conversationKey
	a.sub = sub
	a.loopDone = make(chan struct{})
	loopDone := a.loopDone
	a.mu.Unlock()

	go a.loop(conversationKey, sub, loopDone)
	return nil
}

// Close tears down the current subscription, if any, and waits for the
// snapshot loop to drain. Safe to call when nothing is open.
func (a *Aggregator) Close() {
	a.mu.Lock()
	sub := a.sub
	loopDone := a.loopDone
	a.sub = nil
	a.conversationKey = ""
	a.loopDone = nil
	a.mu.Unlock()

	if sub == nil {
		return
	}
	if err := sub.Close(); err != nil {
		log.Printf("close message subscription: %v", err)
	}
	if loopDone != nil {
		<-loopDone
	}
}

// Send encrypts and writes one outgoing message. The remote write is
// fire-and-forget: it happens asynchronously and failures are logged, never
// surfaced. The local typing signal is cleared concurrently. The returned
// error covers local validation only.
func (a *Aggregator) Send(message models.Message) error {
	a.mu.Lock()
	conversationKey := a.conversationKey
	a.mu.Unlock()

	if conversationKey == "" {
		return ErrNotOpen
	}
	if message.Text == "" && message.ImageURL == "" {
		return ErrEmptyMessage
	}

	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	message.Sender = a.self

	encrypted := models.EncryptedMessage{
		ID:        message.ID,
		Sender:    message.Sender,
		ImageURL:  message.ImageURL,
		CreatedAt: message.CreatedAt,
	}
	if message.Text != "" {
		ciphertext, err := a.codec.EncryptText(message.Text)
		if err != nil {
			return err
		}
		encrypted.Text = ciphertext
	}

	if a.typing != nil {
		go a.typing.Clear()
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.sendTimeout)
		defer cancel()

		collection := backend.MessagesCollection(conversationKey)
		if err := a.store.Set(ctx, collection, encrypted.ID, encrypted.Doc(), false); err != nil {
			log.Printf("send message %s failed: %v", encrypted.ID, err)
		}
	}()

	return nil
}

func (a *Aggregator) loop(conversationKey string, sub backend.Subscription, done chan struct{}) {
	defer close(done)

	for snapshot := range sub.Snapshots() {
		messages := a.fold(snapshot)
		a.emit(messages)
		a.markUnread(conversationKey, snapshot)
		a.mirror(conversationKey, messages)
	}
}

// fold materializes one snapshot into the UI-ready list. Decryption is
// re-applied to every item on every snapshot; decrypted results are not
// cached across snapshots.
func (a *Aggregator) fold(snapshot backend.Snapshot) []models.Message {
	messages := make([]models.Message, 0, len(snapshot.Docs))
	for _, doc := range snapshot.Docs {
		encrypted := models.EncryptedMessageFromDoc(doc.ID, doc.Data)

		message := models.Message{
			ID:        encrypted.ID,
			Sender:    encrypted.Sender,
			ImageURL:  encrypted.ImageURL,
			CreatedAt: encrypted.CreatedAt,
			Read:      encrypted.Read,
		}
		if encrypted.Text != "" {
			plaintext, ok := a.codec.DecryptText(encrypted.Text)
			if !ok {
				log.Printf("decrypt failed for message %s, rendering stored value", encrypted.ID)
			}
			message.Text = plaintext
		}
		messages = append(messages, message)
	}

	// The feed is requested newest first; re-sort in case the backend was
	// looser than asked.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.After(messages[j].CreatedAt)
	})

	return messages
}

// markUnread issues one independent, best-effort read-receipt write per
// unread message from the other party. Failures are logged and never
// retried; one failure does not block another.
func (a *Aggregator) markUnread(conversationKey string, snapshot backend.Snapshot) {
	collection := backend.MessagesCollection(conversationKey)

	for _, doc := range snapshot.Docs {
		encrypted := models.EncryptedMessageFromDoc(doc.ID, doc.Data)
		if encrypted.Sender.UID == "" || encrypted.Sender.UID == a.self.UID || encrypted.Read {
			continue
		}

		go func(messageID string) {
			ctx, cancel := context.WithTimeout(context.Background(), a.markReadTimeout)
			defer cancel()

			data := map[string]any{"read": true}
			if err := a.store.Set(ctx, collection, messageID, data, true); err != nil {
				log.Printf("mark read failed for message %s: %v", messageID, err)
			}
		}(encrypted.ID)
	}
}

// emit delivers the newest list. A lagging consumer loses the oldest
// buffered snapshot, never the newest, so the final state always lands.
func (a *Aggregator) emit(messages []models.Message) {
	for {
		select {
		case a.updates <- messages:
			return
		default:
		}
		select {
		case <-a.updates:
		default:
		}
	}
}

func (a *Aggregator) mirror(conversationKey string, messages []models.Message) {
	if a.cache == nil {
		return
	}
	if err := a.cache.SaveMessages(conversationKey, messages); err != nil {
		log.Printf("cache conversation %s: %v", conversationKey, err)
	}
}
