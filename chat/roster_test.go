package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"cipherchat/backend"
	"cipherchat/backend/memstore"
	"cipherchat/models"
)

// Roster tests run against the in-memory store so the uid filter and the
// two-feed merge are exercised end to end.

func TestRosterMergesDirectoryAndPresence(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	seedUser := func(uid, email string) {
		t.Helper()
		if err := store.Set(ctx, backend.CollectionUsers, uid, map[string]any{"uid": uid, "email": email}, false); err != nil {
			t.Fatalf("seed user %s: %v", uid, err)
		}
	}
	seedUser("u1", "alice@x.com")
	seedUser("u2", "bob@x.com")
	seedUser("u3", "carol@x.com")

	roster, err := OpenRoster(ctx, RosterOptions{Store: store, Self: alice})
	if err != nil {
		t.Fatalf("open roster: %v", err)
	}
	defer roster.Close()

	contacts := awaitContacts(t, roster, func(contacts []models.Contact) bool {
		return len(contacts) == 2
	})
	if contacts[0].Participant.Email != "bob@x.com" || contacts[1].Participant.Email != "carol@x.com" {
		t.Fatalf("roster must exclude self and sort by email: %+v", contacts)
	}
	if contacts[0].Online {
		t.Fatalf("bob must be offline before any presence record")
	}

	// Bob comes online; the roster reflects it without a directory change.
	if err := NewPresenceTracker(store, bob).Online(ctx); err != nil {
		t.Fatalf("publish presence: %v", err)
	}

	awaitContacts(t, roster, func(contacts []models.Contact) bool {
		return len(contacts) == 2 && contacts[0].Online
	})
}

// recordingContactCache captures every mirrored roster snapshot.
type recordingContactCache struct {
	mu    sync.Mutex
	saved [][]models.Contact
	fail  bool
}

func (c *recordingContactCache) SaveContacts(contacts []models.Contact) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return context.DeadlineExceeded
	}
	c.saved = append(c.saved, contacts)
	return nil
}

func (c *recordingContactCache) latest() []models.Contact {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.saved) == 0 {
		return nil
	}
	return c.saved[len(c.saved)-1]
}

func TestRosterMirrorsContactsIntoCache(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	cache := &recordingContactCache{}

	if err := store.Set(ctx, backend.CollectionUsers, "u2", map[string]any{"uid": "u2", "email": "bob@x.com"}, false); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	roster, err := OpenRoster(ctx, RosterOptions{Store: store, Self: alice, Cache: cache})
	if err != nil {
		t.Fatalf("open roster: %v", err)
	}
	defer roster.Close()

	awaitContacts(t, roster, func(contacts []models.Contact) bool {
		return len(contacts) == 1
	})

	waitFor(t, 2*time.Second, func() bool {
		latest := cache.latest()
		return len(latest) == 1 && latest[0].Participant.UID == "u2"
	}, "merged contact list mirrored into the cache")

	// Presence changes reach the cache too.
	if err := NewPresenceTracker(store, bob).Online(ctx); err != nil {
		t.Fatalf("publish presence: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		latest := cache.latest()
		return len(latest) == 1 && latest[0].Online
	}, "presence change mirrored into the cache")
}

func TestRosterCacheFailureStaysSilent(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	cache := &recordingContactCache{fail: true}

	if err := store.Set(ctx, backend.CollectionUsers, "u2", map[string]any{"uid": "u2", "email": "bob@x.com"}, false); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	roster, err := OpenRoster(ctx, RosterOptions{Store: store, Self: alice, Cache: cache})
	if err != nil {
		t.Fatalf("open roster: %v", err)
	}
	defer roster.Close()

	// Updates still flow while every cache write fails.
	awaitContacts(t, roster, func(contacts []models.Contact) bool {
		return len(contacts) == 1
	})
}

func TestRosterCloseReleasesBothSubscriptions(t *testing.T) {
	store := memstore.New()

	roster, err := OpenRoster(context.Background(), RosterOptions{Store: store, Self: alice})
	if err != nil {
		t.Fatalf("open roster: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return store.SubscriberCount() == 2
	}, "roster holds two subscriptions")

	if err := roster.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := roster.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return store.SubscriberCount() == 0
	}, "roster released its subscriptions")

	// Updates channel drains after close.
	for range roster.Updates() {
	}
}

func TestEnsureProfileWritesDirectoryDocument(t *testing.T) {
	store := newFakeStore()

	if err := EnsureProfile(context.Background(), store, bob); err != nil {
		t.Fatalf("ensure profile: %v", err)
	}

	calls := store.setCallsTo(backend.CollectionUsers)
	if len(calls) != 1 {
		t.Fatalf("expected 1 directory write, got %d", len(calls))
	}
	if calls[0].ID != bob.UID || calls[0].Data["email"] != bob.Email {
		t.Fatalf("unexpected directory document: %+v", calls[0])
	}
}

func awaitContacts(t *testing.T, roster *Roster, accept func([]models.Contact) bool) []models.Contact {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case contacts, ok := <-roster.Updates():
			if !ok {
				t.Fatalf("roster updates closed before condition held")
			}
			if accept(contacts) {
				return contacts
			}
		case <-deadline:
			t.Fatalf("timed out waiting for roster update")
		}
	}
}
