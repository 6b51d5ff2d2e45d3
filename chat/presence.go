package chat

import (
	"context"
	"sync"
	"time"

	"cipherchat/backend"
	"cipherchat/models"
)

// PresenceTracker publishes the local participant's presence record and
// watches everyone else's. Presence is set-on-enter/set-on-exit with no
// heartbeat: an abnormal process exit leaves the record online until the
// next clean teardown.
type PresenceTracker struct {
	store backend.Store
	self  models.Participant
}

// NewPresenceTracker creates a tracker for the local participant.
func NewPresenceTracker(store backend.Store, self models.Participant) *PresenceTracker {
	return &PresenceTracker{store: store, self: self}
}

// Online marks the local participant online. Called on session start.
func (p *PresenceTracker) Online(ctx context.Context) error {
	return p.publish(ctx, true)
}

// Offline marks the local participant offline with a last-seen timestamp.
// Called on session teardown.
func (p *PresenceTracker) Offline(ctx context.Context) error {
	return p.publish(ctx, false)
}

func (p *PresenceTracker) publish(ctx context.Context, online bool) error {
	record := models.PresenceRecord{
		UID:      p.self.UID,
		IsOnline: online,
		LastSeen: time.Now(),
	}
	return p.store.Set(ctx, backend.CollectionUserStatus, p.self.UID, record.Doc(), true)
}

// Watch subscribes to all presence records.
func (p *PresenceTracker) Watch(ctx context.Context) (*PresenceWatch, error) {
	sub, err := p.store.Subscribe(ctx, backend.Query{Collection: backend.CollectionUserStatus})
	if err != nil {
		return nil, err
	}

	watch := &PresenceWatch{
		sub:     sub,
		updates: make(chan map[string]models.PresenceRecord, snapshotBuffer),
	}
	go watch.loop()

	return watch, nil
}

// PresenceWatch streams the presence state of every participant keyed by
// UID.
type PresenceWatch struct {
	sub       backend.Subscription
	updates   chan map[string]models.PresenceRecord
	closeOnce sync.Once
}

// Updates emits the full presence map on every change.
func (w *PresenceWatch) Updates() <-chan map[string]models.PresenceRecord {
	return w.updates
}

// Close tears down the subscription. Safe to call more than once.
func (w *PresenceWatch) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.sub.Close()
	})
	return err
}

func (w *PresenceWatch) loop() {
	defer close(w.updates)

	for snapshot := range w.sub.Snapshots() {
		statuses := make(map[string]models.PresenceRecord, len(snapshot.Docs))
		for _, doc := range snapshot.Docs {
			statuses[doc.ID] = models.PresenceFromDoc(doc.ID, doc.Data)
		}

		select {
		case w.updates <- statuses:
		default:
		}
	}
}
