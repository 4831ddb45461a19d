package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Entity is implemented by documents that carry their store id.
type Entity interface {
	SetID(id string)
}

// Collection is a typed view over one store collection with its default ordering.
type Collection[T any] struct {
	store Store
	name  string
	order Order
	log   zerolog.Logger
}

// NewCollection binds a typed collection to a store.
func NewCollection[T any](store Store, name string, order Order, log zerolog.Logger) *Collection[T] {
	return &Collection[T]{
		store: store,
		name:  name,
		order: order,
		log:   log.With().Str("collection", name).Logger(),
	}
}

// Name returns the underlying collection name.
func (c *Collection[T]) Name() string { return c.name }

// Store returns the backing store.
func (c *Collection[T]) Store() Store { return c.store }

// Create stores v under a generated id and sets the id on v.
func (c *Collection[T]) Create(ctx context.Context, v *T) (string, error) {
	id, err := c.store.Create(ctx, c.name, v)
	if err != nil {
		return "", err
	}
	if e, ok := any(v).(Entity); ok {
		e.SetID(id)
	}
	return id, nil
}

// Put stores v under id, replacing any existing document.
func (c *Collection[T]) Put(ctx context.Context, id string, v *T) error {
	if err := c.store.Put(ctx, c.name, id, v); err != nil {
		return err
	}
	if e, ok := any(v).(Entity); ok {
		e.SetID(id)
	}
	return nil
}

func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	doc, err := c.store.Get(ctx, c.name, id)
	if err != nil {
		return nil, err
	}
	return c.decode(doc)
}

func (c *Collection[T]) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	return c.store.Update(ctx, c.name, id, updates)
}

// Transact decodes the current document, applies fn's update atomically and
// returns the document as written.
func (c *Collection[T]) Transact(ctx context.Context, id string, fn func(current *T) (map[string]interface{}, error)) (*T, error) {
	err := c.store.Transact(ctx, c.name, id, func(doc Document) (map[string]interface{}, error) {
		current, err := c.decode(doc)
		if err != nil {
			return nil, err
		}
		return fn(current)
	})
	if err != nil {
		return nil, err
	}
	return c.Get(ctx, id)
}

// Find returns documents whose field equals value.
func (c *Collection[T]) Find(ctx context.Context, field string, value interface{}, limit int) ([]T, error) {
	docs, err := c.store.Find(ctx, c.name, field, value, limit)
	if err != nil {
		return nil, err
	}
	return c.decodeAll(docs), nil
}

// List returns the collection in its default order.
func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	docs, err := c.store.List(ctx, c.name, c.order)
	if err != nil {
		return nil, err
	}
	return c.decodeAll(docs), nil
}

// Watch subscribes to the collection in its default order.
func (c *Collection[T]) Watch(ctx context.Context) (*Live[T], error) {
	sub, err := c.store.Subscribe(ctx, c.name, c.order)
	if err != nil {
		return nil, err
	}

	live := &Live[T]{
		sub:     sub,
		initial: c.decodeAll(sub.Initial()),
		updates: make(chan []T),
	}
	go func() {
		defer close(live.updates)
		for docs := range sub.Updates() {
			select {
			case live.updates <- c.decodeAll(docs):
			case <-sub.Done():
				return
			}
		}
	}()
	return live, nil
}

func (c *Collection[T]) decode(doc Document) (*T, error) {
	var v T
	if err := doc.DataTo(&v); err != nil {
		return nil, fmt.Errorf("failed to parse %s/%s: %w", c.name, doc.ID, err)
	}
	if e, ok := any(&v).(Entity); ok {
		e.SetID(doc.ID)
	}
	return &v, nil
}

func (c *Collection[T]) decodeAll(docs []Document) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := c.decode(doc)
		if err != nil {
			c.log.Warn().Err(err).Str("id", doc.ID).Msg("skipping unreadable document")
			continue
		}
		out = append(out, *v)
	}
	return out
}

// Live is a typed subscription.
type Live[T any] struct {
	sub     *Subscription
	initial []T
	updates chan []T
}

// Initial returns the snapshot at subscribe time.
func (l *Live[T]) Initial() []T { return l.initial }

// Updates delivers each later snapshot; it is closed when the subscription ends.
func (l *Live[T]) Updates() <-chan []T { return l.updates }

// Cancel stops the subscription. Idempotent.
func (l *Live[T]) Cancel() { l.sub.Cancel() }

// Err reports a producer failure, if any.
func (l *Live[T]) Err() error { return l.sub.Err() }
