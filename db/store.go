package db

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a transactional update keeps losing to concurrent writers.
	ErrConflict = errors.New("document changed concurrently")
	// ErrClosed is returned by a store after Close.
	ErrClosed = errors.New("store closed")
)

// Order describes how a listing or subscription is sorted and truncated.
type Order struct {
	Field string
	Desc  bool
	Limit int
}

// UpdateFunc computes a partial update from the current document.
// Returning an error aborts the write.
type UpdateFunc func(current Document) (map[string]interface{}, error)

// Store is the document store port. Collections map generated ids to documents;
// updates are merge-style and scoped to a single document.
type Store interface {
	Create(ctx context.Context, collection string, data interface{}) (string, error)
	Put(ctx context.Context, collection, id string, data interface{}) error
	Get(ctx context.Context, collection, id string) (Document, error)
	Update(ctx context.Context, collection, id string, updates map[string]interface{}) error
	Merge(ctx context.Context, collection, id string, data map[string]interface{}) error
	Transact(ctx context.Context, collection, id string, fn UpdateFunc) error
	Find(ctx context.Context, collection, field string, value interface{}, limit int) ([]Document, error)
	List(ctx context.Context, collection string, order Order) ([]Document, error)
	Subscribe(ctx context.Context, collection string, order Order) (*Subscription, error)
	Close() error
}

// Document is a raw stored document.
type Document struct {
	ID     string
	decode func(out interface{}) error
}

// DataTo decodes the document fields into out.
func (d Document) DataTo(out interface{}) error {
	if d.decode == nil {
		return errors.New("document has no data")
	}
	return d.decode(out)
}
