package chat

import (
	"context"
	"log"
	"sync"
	"time"

	"cipherchat/backend"
	"cipherchat/models"
)

const (
	// DefaultTypingQuietPeriod is how long input must stay idle before the
	// typing signal is withdrawn.
	DefaultTypingQuietPeriod = time.Second

	publishTimeout = 5 * time.Second
)

// TypingNotifier debounces the local participant's typing signal for one
// conversation. The first non-empty keystroke publishes typing=true; every
// keystroke restarts the quiet timer; typing=false is published exactly once
// after the quiet period. This is a debounce, not a throttle: keystrokes
// never republish typing=true while the signal is active.
type TypingNotifier struct {
	store           backend.Store
	conversationKey string
	participantID   string
	quiet           time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	active bool
}

// NewTypingNotifier creates a notifier for one conversation. A quiet period
// of zero or less selects DefaultTypingQuietPeriod.
func NewTypingNotifier(store backend.Store, conversationKey, participantID string, quiet time.Duration) *TypingNotifier {
	if quiet <= 0 {
		quiet = DefaultTypingQuietPeriod
	}
	return &TypingNotifier{
		store:           store,
		conversationKey: conversationKey,
		participantID:   participantID,
		quiet:           quiet,
	}
}

// InputChanged reports the current text-input content. Empty input is
// ignored; the quiet timer withdraws the signal on its own.
func (n *TypingNotifier) InputChanged(text string) {
	if text == "" {
		return
	}

	n.mu.Lock()
	publish := !n.active
	n.active = true
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.quiet, n.expire)
	n.mu.Unlock()

	if publish {
		n.publish(true)
	}
}

// Clear withdraws the typing signal immediately. Called by the send path and
// on conversation teardown; a no-op when the signal is not active.
func (n *TypingNotifier) Clear() {
	n.mu.Lock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	wasActive := n.active
	n.active = false
	n.mu.Unlock()

	if wasActive {
		n.publish(false)
	}
}

func (n *TypingNotifier) expire() {
	n.mu.Lock()
	if !n.active {
		n.mu.Unlock()
		return
	}
	n.active = false
	n.timer = nil
	n.mu.Unlock()

	n.publish(false)
}

func (n *TypingNotifier) publish(flag bool) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	data := map[string]any{n.participantID: flag}
	if err := n.store.Set(ctx, backend.CollectionTyping, n.conversationKey, data, true); err != nil {
		log.Printf("typing publish failed for conversation %s: %v", n.conversationKey, err)
	}
}

// TypingWatch observes the typing document of one conversation and emits the
// participant-to-flag map on every change.
type TypingWatch struct {
	conversationKey string
	sub             backend.Subscription
	updates         chan map[string]bool
	closeOnce       sync.Once
}

// WatchTyping subscribes to the conversation's typing flags.
func WatchTyping(ctx context.Context, store backend.Store, conversationKey string) (*TypingWatch, error) {
	sub, err := store.Subscribe(ctx, backend.Query{Collection: backend.CollectionTyping})
	if err != nil {
		return nil, err
	}

	watch := &TypingWatch{
		conversationKey: conversationKey,
		sub:             sub,
		updates:         make(chan map[string]bool, snapshotBuffer),
	}
	go watch.loop()

	return watch, nil
}

// Updates emits the typing state per participant for the watched
// conversation.
func (w *TypingWatch) Updates() <-chan map[string]bool {
	return w.updates
}

// Close tears down the subscription. Safe to call more than once.
func (w *TypingWatch) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.sub.Close()
	})
	return err
}

func (w *TypingWatch) loop() {
	defer close(w.updates)

	for snapshot := range w.sub.Snapshots() {
		state := make(map[string]bool)
		for _, doc := range snapshot.Docs {
			if doc.ID != w.conversationKey {
				continue
			}
			state = models.TypingFromDoc(doc.Data)
		}

		select {
		case w.updates <- state:
		default:
		}
	}
}
