package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore implements Store on a Firestore collection with one
// document per session key. Transactions make PutIf atomic.
//
// Session keys contain characters Firestore forbids in document ids ("/"
// never appears, but "|" and "#" are fine), so keys map directly to
// document ids.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	mu         sync.RWMutex
	closed     bool
}

// FirestoreConfig holds Firestore store configuration.
type FirestoreConfig struct {
	// ProjectID is the GCP project (required).
	ProjectID string
	// Collection is the Firestore collection name (default: "sessions").
	Collection string
	// CredentialsFile is a service account key path (optional; otherwise
	// Application Default Credentials are used).
	CredentialsFile string
}

// NewFirestoreStore creates a Firestore-backed session store.
func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore project id is required")
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "sessions"
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	return &FirestoreStore{client: client, collection: collection}, nil
}

func (s *FirestoreStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *FirestoreStore) doc(sessionKey string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(sessionKey)
}

// Get retrieves the current record for a key.
func (s *FirestoreStore) Get(ctx context.Context, sessionKey string) (*Record, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	snap, err := s.doc(sessionKey).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}

	var rec Record
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}

	return &rec, nil
}

// Put writes a record unconditionally.
func (s *FirestoreStore) Put(ctx context.Context, rec *Record) error {
	if err := s.guard(); err != nil {
		return err
	}

	if _, err := s.doc(rec.SessionKey).Set(ctx, rec); err != nil {
		return fmt.Errorf("set document: %w", err)
	}
	return nil
}

// PutIf writes a record only if the stored version matches expectedVersion.
func (s *FirestoreStore) PutIf(ctx context.Context, rec *Record, expectedVersion int64) error {
	if err := s.guard(); err != nil {
		return err
	}

	ref := s.doc(rec.SessionKey)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			if expectedVersion != 0 {
				return ErrVersionConflict
			}
		case err != nil:
			return fmt.Errorf("get document: %w", err)
		default:
			var current Record
			if err := snap.DataTo(&current); err != nil {
				return fmt.Errorf("unmarshal document: %w", err)
			}
			if current.Version != expectedVersion {
				return ErrVersionConflict
			}
		}

		return tx.Set(ref, rec)
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ErrVersionConflict
		}
		return fmt.Errorf("conditional set: %w", err)
	}

	return nil
}

// Touch updates only LastActivity on the current record.
func (s *FirestoreStore) Touch(ctx context.Context, sessionKey string, now int64) error {
	if err := s.guard(); err != nil {
		return err
	}

	_, err := s.doc(sessionKey).Update(ctx, []firestore.Update{
		{Path: "last_activity", Value: now},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrRecordNotFound
		}
		return fmt.Errorf("update document: %w", err)
	}

	return nil
}

// Close closes the connection to Firestore.
func (s *FirestoreStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.client.Close()
}
