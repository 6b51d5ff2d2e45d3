// Package firestoredb adapts Google Cloud Firestore to the backend.Store
// contract. It is the production document store; memstore covers tests
// and offline development.
package firestoredb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"cipherchat/backend"
)

// Store wraps a Firestore client.
type Store struct {
	client *firestore.Client
}

// Options configures the Firestore connection.
type Options struct {
	// ProjectID is the Google Cloud project hosting the database.
	ProjectID string
	// CredentialsPath points at a service-account JSON file. Empty selects
	// application default credentials.
	CredentialsPath string
}

// New connects to Firestore.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("firestore project id is required")
	}

	var clientOpts []option.ClientOption
	if opts.CredentialsPath != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsPath))
	}

	client, err := firestore.NewClient(ctx, opts.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to firestore: %w", err)
	}
	return &Store{client: client}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// splitCollectionPath validates a possibly nested collection path such as
// chats/{key}/messages. Collection paths always have an odd segment count.
func splitCollectionPath(path string) ([]string, error) {
	parts := strings.Split(path, "/")
	if len(parts)%2 == 0 {
		return nil, fmt.Errorf("collection path %q has an even number of segments", path)
	}
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("collection path %q has an empty segment", path)
		}
	}
	return parts, nil
}

func (s *Store) collection(path string) (*firestore.CollectionRef, error) {
	parts, err := splitCollectionPath(path)
	if err != nil {
		return nil, err
	}

	ref := s.client.Collection(parts[0])
	for i := 1; i < len(parts); i += 2 {
		ref = ref.Doc(parts[i]).Collection(parts[i+1])
	}
	return ref, nil
}

// Create inserts a document with a store-generated ID.
func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	ref, err := s.collection(collection)
	if err != nil {
		return "", err
	}

	doc, _, err := ref.Add(ctx, data)
	if err != nil {
		return "", fmt.Errorf("create document in %s: %w", collection, err)
	}
	return doc.ID, nil
}

// Set writes a document at a known ID, merging when requested.
func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	ref, err := s.collection(collection)
	if err != nil {
		return err
	}

	var opts []firestore.SetOption
	if merge {
		opts = append(opts, firestore.MergeAll)
	}
	if _, err := ref.Doc(id).Set(ctx, data, opts...); err != nil {
		return fmt.Errorf("set document %s/%s: %w", collection, id, err)
	}
	return nil
}

// Subscribe opens a realtime feed over a Firestore query snapshot iterator.
func (s *Store) Subscribe(ctx context.Context, query backend.Query) (backend.Subscription, error) {
	ref, err := s.collection(query.Collection)
	if err != nil {
		return nil, err
	}

	q := ref.Query
	for _, filter := range query.Filters {
		q = q.Where(filter.Field, filter.Op, filter.Value)
	}
	if query.OrderBy != "" {
		direction := firestore.Asc
		if query.Desc {
			direction = firestore.Desc
		}
		q = q.OrderBy(query.OrderBy, direction)
	}
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		iter:      q.Snapshots(subCtx),
		cancel:    cancel,
		snapshots: make(chan backend.Snapshot, snapshotBuffer),
		done:      make(chan struct{}),
	}
	go sub.run(query.Collection)

	return sub, nil
}

const snapshotBuffer = 16

type subscription struct {
	iter      *firestore.QuerySnapshotIterator
	cancel    context.CancelFunc
	snapshots chan backend.Snapshot
	done      chan struct{}
	closeOnce sync.Once
}

func (sub *subscription) Snapshots() <-chan backend.Snapshot {
	return sub.snapshots
}

func (sub *subscription) Close() error {
	sub.closeOnce.Do(func() {
		sub.cancel()
		<-sub.done
		close(sub.snapshots)
	})
	return nil
}

func (sub *subscription) run(collection string) {
	defer close(sub.done)
	defer sub.iter.Stop()

	for {
		qs, err := sub.iter.Next()
		if err != nil {
			// Cancellation surfaces here on Close; anything else is a feed
			// failure worth noting.
			if status.Code(err) != codes.Canceled && !errors.Is(err, context.Canceled) {
				log.Printf("firestore feed for %s ended: %v", collection, err)
			}
			return
		}

		docs, err := qs.Documents.GetAll()
		if err != nil {
			log.Printf("read firestore snapshot for %s: %v", collection, err)
			continue
		}

		snapshot := backend.Snapshot{Docs: make([]backend.Document, 0, len(docs))}
		for _, ds := range docs {
			snapshot.Docs = append(snapshot.Docs, backend.Document{
				ID:   ds.Ref.ID,
				Data: ds.Data(),
			})
		}

		// A lagging consumer loses the oldest buffered snapshot, never the
		// newest; each snapshot carries the full result set.
		for delivered := false; !delivered; {
			select {
			case sub.snapshots <- snapshot:
				delivered = true
			default:
				select {
				case <-sub.snapshots:
				default:
				}
			}
		}
	}
}
