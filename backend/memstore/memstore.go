// Package memstore is an in-memory implementation of the backend document
// store used by tests and offline development. It supports the same query
// surface the chat core relies on: equality/inequality filters, single-field
// ordering, limits, and realtime snapshot fan-out on every mutation.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cipherchat/backend"
)

const snapshotBuffer = 64

// Store holds documents per collection and fans snapshots out to
// subscribers whenever a matching collection changes.
type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	subs        map[int]*subscription
	nextSubID   int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]map[string]any),
		subs:        make(map[int]*subscription),
	}
}

// Create inserts a document under a generated ID.
func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if collection == "" {
		return "", fmt.Errorf("memstore create: collection is required")
	}

	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.collections[collection]
	if docs == nil {
		docs = make(map[string]map[string]any)
		s.collections[collection] = docs
	}
	docs[id] = copyData(data)
	s.broadcastLocked(collection)

	return id, nil
}

// Set writes a document at a known ID, merging with stored fields when merge
// is true.
func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if collection == "" || id == "" {
		return fmt.Errorf("memstore set: collection and id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.collections[collection]
	if docs == nil {
		docs = make(map[string]map[string]any)
		s.collections[collection] = docs
	}

	if merge {
		existing := docs[id]
		if existing == nil {
			existing = make(map[string]any)
			docs[id] = existing
		}
		for key, value := range data {
			existing[key] = value
		}
	} else {
		docs[id] = copyData(data)
	}

	s.broadcastLocked(collection)
	return nil
}

// Subscribe opens a realtime feed; the initial snapshot is delivered before
// Subscribe returns.
func (s *Store) Subscribe(ctx context.Context, query backend.Query) (backend.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if query.Collection == "" {
		return nil, fmt.Errorf("memstore subscribe: collection is required")
	}

	s.mu.Lock()
	sub := &subscription{
		store:     s,
		id:        s.nextSubID,
		query:     query,
		snapshots: make(chan backend.Snapshot, snapshotBuffer),
		closed:    make(chan struct{}),
	}
	s.nextSubID++
	s.subs[sub.id] = sub
	sub.emit(s.evaluateLocked(query))
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.closed:
		}
	}()

	return sub, nil
}

// SubscriberCount reports the number of live subscriptions. Test hook.
func (s *Store) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Store) broadcastLocked(collection string) {
	for _, sub := range s.subs {
		if sub.query.Collection != collection {
			continue
		}
		sub.emit(s.evaluateLocked(sub.query))
	}
}

func (s *Store) evaluateLocked(query backend.Query) backend.Snapshot {
	var docs []backend.Document
	for id, data := range s.collections[query.Collection] {
		if !matches(data, query.Filters) {
			continue
		}
		docs = append(docs, backend.Document{ID: id, Data: copyData(data)})
	}

	if query.OrderBy != "" {
		sort.SliceStable(docs, func(i, j int) bool {
			cmp := compareValues(docs[i].Data[query.OrderBy], docs[j].Data[query.OrderBy])
			if query.Desc {
				return cmp > 0
			}
			return cmp < 0
		})
	} else {
		sort.SliceStable(docs, func(i, j int) bool {
			return docs[i].ID < docs[j].ID
		})
	}

	if query.Limit > 0 && len(docs) > query.Limit {
		docs = docs[:query.Limit]
	}

	return backend.Snapshot{Docs: docs}
}

func (s *Store) removeSub(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

type subscription struct {
	store     *Store
	id        int
	query     backend.Query
	snapshots chan backend.Snapshot

	closeOnce sync.Once
	closed    chan struct{}
}

func (sub *subscription) Snapshots() <-chan backend.Snapshot {
	return sub.snapshots
}

func (sub *subscription) Close() error {
	sub.closeOnce.Do(func() {
		sub.store.removeSub(sub.id)
		close(sub.closed)
		close(sub.snapshots)
	})
	return nil
}

// emit delivers a snapshot without blocking the mutating caller; a slow
// consumer loses intermediate snapshots, never the stream.
func (sub *subscription) emit(snapshot backend.Snapshot) {
	select {
	case sub.snapshots <- snapshot:
	default:
	}
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for key, value := range data {
		if nested, ok := value.(map[string]any); ok {
			out[key] = copyData(nested)
			continue
		}
		out[key] = value
	}
	return out
}

func matches(data map[string]any, filters []backend.Filter) bool {
	for _, filter := range filters {
		equal := reflect.DeepEqual(data[filter.Field], filter.Value)
		switch filter.Op {
		case backend.OpEqual:
			if !equal {
				return false
			}
		case backend.OpNotEqual:
			if equal {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func compareValues(a, b any) int {
	switch left := a.(type) {
	case time.Time:
		right, ok := b.(time.Time)
		if !ok {
			return 1
		}
		switch {
		case left.Before(right):
			return -1
		case left.After(right):
			return 1
		default:
			return 0
		}
	case string:
		right, _ := b.(string)
		switch {
		case left < right:
			return -1
		case left > right:
			return 1
		default:
			return 0
		}
	case int:
		right, _ := b.(int)
		switch {
		case left < right:
			return -1
		case left > right:
			return 1
		default:
			return 0
		}
	case int64:
		right, _ := b.(int64)
		switch {
		case left < right:
			return -1
		case left > right:
			return 1
		default:
			return 0
		}
	case float64:
		right, _ := b.(float64)
		switch {
		case left < right:
			return -1
		case left > right:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}
