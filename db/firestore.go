package db

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewFirebaseApp initializes the Firebase app shared by the store and the
// identity provider. An empty credentials path falls back to application
// default credentials (and to the emulators when their hosts are set).
func NewFirebaseApp(ctx context.Context, projectID, credentialsPath string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}
	return app, nil
}

// FirestoreStore implements Store on Cloud Firestore.
type FirestoreStore struct {
	client   *firestore.Client
	attempts int
	log      zerolog.Logger
}

// NewFirestoreStore opens a Firestore client from the Firebase app.
// attempts bounds how often a transaction is retried on contention.
func NewFirestoreStore(ctx context.Context, app *firebase.App, attempts int, log zerolog.Logger) (*FirestoreStore, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firestore client: %w", err)
	}
	if attempts <= 0 {
		attempts = 5
	}
	return &FirestoreStore{client: client, attempts: attempts, log: log}, nil
}

// Close closes the Firestore client
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) Create(ctx context.Context, collection string, data interface{}) (string, error) {
	ref, _, err := s.client.Collection(collection).Add(ctx, data)
	if err != nil {
		return "", fmt.Errorf("failed to create %s document: %w", collection, err)
	}
	return ref.ID, nil
}

func (s *FirestoreStore) Put(ctx context.Context, collection, id string, data interface{}) error {
	if _, err := s.client.Collection(collection).Doc(id).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, collection, id string) (Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return snapshotDocument(snap), nil
}

func (s *FirestoreStore) Update(ctx context.Context, collection, id string, updates map[string]interface{}) error {
	_, err := s.client.Collection(collection).Doc(id).Update(ctx, fieldUpdates(updates))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FirestoreStore) Merge(ctx context.Context, collection, id string, data map[string]interface{}) error {
	if _, err := s.client.Collection(collection).Doc(id).Set(ctx, data, firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to merge %s/%s: %w", collection, id, err)
	}
	return nil
}

// Transact reads the document and applies fn's update in one transaction.
// Contention is retried up to the configured attempts, then reported as ErrConflict.
func (s *FirestoreStore) Transact(ctx context.Context, collection, id string, fn UpdateFunc) error {
	ref := s.client.Collection(collection).Doc(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}

		updates, err := fn(snapshotDocument(snap))
		if err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Update(ref, fieldUpdates(updates))
	}, firestore.MaxAttempts(s.attempts))

	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.Aborted:
		return fmt.Errorf("%w: %s/%s", ErrConflict, collection, id)
	}
	return err
}

func (s *FirestoreStore) Find(ctx context.Context, collection, field string, value interface{}, limit int) ([]Document, error) {
	q := s.client.Collection(collection).Where(field, "==", value)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return s.collect(ctx, collection, q)
}

func (s *FirestoreStore) List(ctx context.Context, collection string, order Order) ([]Document, error) {
	return s.collect(ctx, collection, s.query(collection, order))
}

// Subscribe attaches a snapshot listener. The first snapshot is awaited so
// Initial is populated before the call returns.
func (s *FirestoreStore) Subscribe(ctx context.Context, collection string, order Order) (*Subscription, error) {
	it := s.query(collection, order).Snapshots(ctx)

	qs, err := it.Next()
	if err != nil {
		it.Stop()
		return nil, fmt.Errorf("failed to listen on %s: %w", collection, err)
	}
	initial, err := s.snapshotDocuments(qs)
	if err != nil {
		it.Stop()
		return nil, err
	}

	sub := newSubscription(initial, it.Stop)
	go func() {
		for {
			qs, err := it.Next()
			if err != nil {
				select {
				case <-sub.Done():
					sub.finish(nil)
					return
				default:
				}
				if errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
					sub.finish(nil)
					return
				}
				s.log.Error().Err(err).Str("collection", collection).Msg("snapshot listener failed")
				sub.finish(err)
				return
			}

			docs, err := s.snapshotDocuments(qs)
			if err != nil {
				s.log.Warn().Err(err).Str("collection", collection).Msg("failed to read snapshot")
				continue
			}
			sub.push(docs)
		}
	}()
	return sub, nil
}

func (s *FirestoreStore) query(collection string, order Order) firestore.Query {
	q := s.client.Collection(collection).Query
	if order.Field != "" {
		dir := firestore.Asc
		if order.Desc {
			dir = firestore.Desc
		}
		q = q.OrderBy(order.Field, dir)
	}
	if order.Limit > 0 {
		q = q.Limit(order.Limit)
	}
	return q
}

func (s *FirestoreStore) collect(ctx context.Context, collection string, q firestore.Query) ([]Document, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var docs []Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate %s: %w", collection, err)
		}
		docs = append(docs, snapshotDocument(snap))
	}
	return docs, nil
}

func (s *FirestoreStore) snapshotDocuments(qs *firestore.QuerySnapshot) ([]Document, error) {
	snaps, err := qs.Documents.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot documents: %w", err)
	}
	docs := make([]Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, snapshotDocument(snap))
	}
	return docs, nil
}

func snapshotDocument(snap *firestore.DocumentSnapshot) Document {
	return Document{ID: snap.Ref.ID, decode: snap.DataTo}
}

func fieldUpdates(updates map[string]interface{}) []firestore.Update {
	out := make([]firestore.Update, 0, len(updates))
	for field, value := range updates {
		out = append(out, firestore.Update{FieldPath: firestore.FieldPath{field}, Value: value})
	}
	return out
}
