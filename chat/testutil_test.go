package chat

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"cipherchat/backend"
	"cipherchat/crypto"
	"cipherchat/models"
)

func newTestCodec(t *testing.T) *crypto.Codec {
	t.Helper()

	key := make([]byte, crypto.KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate codec key: %v", err)
	}
	codec, err := crypto.NewCodec(key)
	if err != nil {
		t.Fatalf("create codec: %v", err)
	}
	return codec
}

type setCall struct {
	Collection string
	ID         string
	Data       map[string]any
	Merge      bool
	At         time.Time
}

// fakeStore records writes and hands out manually driven subscriptions so
// tests control exactly which snapshots arrive and when.
type fakeStore struct {
	mu      sync.Mutex
	sets    []setCall
	setErr  func(collection, id string) error
	subs    []*fakeSub
	creates []setCall
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (s *fakeStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates = append(s.creates, setCall{Collection: collection, Data: data, At: time.Now()})
	return "generated-id", nil
}

func (s *fakeStore) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	s.mu.Lock()
	failure := s.setErr
	s.sets = append(s.sets, setCall{Collection: collection, ID: id, Data: data, Merge: merge, At: time.Now()})
	s.mu.Unlock()

	if failure != nil {
		return failure(collection, id)
	}
	return nil
}

func (s *fakeStore) Subscribe(ctx context.Context, query backend.Query) (backend.Subscription, error) {
	sub := &fakeSub{
		query: query,
		snaps: make(chan backend.Snapshot, 16),
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	return sub, nil
}

func (s *fakeStore) setCalls() []setCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]setCall, len(s.sets))
	copy(out, s.sets)
	return out
}

func (s *fakeStore) setCallsTo(collection string) []setCall {
	var out []setCall
	for _, call := range s.setCalls() {
		if call.Collection == collection {
			out = append(out, call)
		}
	}
	return out
}

func (s *fakeStore) openSubs() []*fakeSub {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*fakeSub
	for _, sub := range s.subs {
		if !sub.isClosed() {
			out = append(out, sub)
		}
	}
	return out
}

type fakeSub struct {
	query backend.Query
	snaps chan backend.Snapshot

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func (f *fakeSub) Snapshots() <-chan backend.Snapshot {
	return f.snaps
}

func (f *fakeSub) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.snaps)
	})
	return nil
}

func (f *fakeSub) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Push injects one snapshot as if the backend had notified a change.
func (f *fakeSub) Push(t *testing.T, snapshot backend.Snapshot) {
	t.Helper()

	select {
	case f.snaps <- snapshot:
	case <-time.After(2 * time.Second):
		t.Fatalf("snapshot push blocked")
	}
}

func receiveUpdate(t *testing.T, updates <-chan []models.Message) []models.Message {
	t.Helper()

	select {
	case messages := <-updates:
		return messages
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message list update")
		return nil
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, message)
}
