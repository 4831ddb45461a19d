package db

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// MemoryStore is an in-process Store used for local development and tests.
// Documents are kept as JSON field maps so they decode the same way Firestore
// documents do; every write fans a fresh snapshot out to the collection's
// subscribers while the store lock is held, so subscribers observe writes in
// commit order.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*memDoc
	subscribers map[string]map[*memSubscriber]struct{}
	closed      bool
}

type memDoc struct {
	fields  map[string]interface{}
	version int64
}

type memSubscriber struct {
	order Order
	sub   *Subscription
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]*memDoc),
		subscribers: make(map[string]map[*memSubscriber]struct{}),
	}
}

func (m *MemoryStore) Create(ctx context.Context, collection string, data interface{}) (string, error) {
	fields, err := toFields(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}

	id := ksuid.New().String()
	m.collection(collection)[id] = &memDoc{fields: fields, version: 1}
	m.broadcast(collection)
	return id, nil
}

func (m *MemoryStore) Put(ctx context.Context, collection, id string, data interface{}) error {
	fields, err := toFields(data)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	docs := m.collection(collection)
	version := int64(1)
	if existing, ok := docs[id]; ok {
		version = existing.version + 1
	}
	docs[id] = &memDoc{fields: fields, version: version}
	m.broadcast(collection)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Document{}, ErrClosed
	}

	doc, ok := m.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return memDocument(id, doc.fields), nil
}

func (m *MemoryStore) Update(ctx context.Context, collection, id string, updates map[string]interface{}) error {
	fields, err := toFields(updates)
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	doc, ok := m.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	m.apply(doc, fields)
	m.broadcast(collection)
	return nil
}

func (m *MemoryStore) Merge(ctx context.Context, collection, id string, data map[string]interface{}) error {
	fields, err := toFields(data)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	docs := m.collection(collection)
	doc, ok := docs[id]
	if !ok {
		docs[id] = &memDoc{fields: fields, version: 1}
	} else {
		mergeFields(doc.fields, fields)
		doc.version++
	}
	m.broadcast(collection)
	return nil
}

// Transact runs fn and applies its result atomically. fn runs under the store
// lock and must not call back into the store.
func (m *MemoryStore) Transact(ctx context.Context, collection, id string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	doc, ok := m.collections[collection][id]
	if !ok {
		return ErrNotFound
	}

	updates, err := fn(memDocument(id, doc.fields))
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}

	fields, err := toFields(updates)
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}
	m.apply(doc, fields)
	m.broadcast(collection)
	return nil
}

func (m *MemoryStore) Find(ctx context.Context, collection, field string, value interface{}, limit int) ([]Document, error) {
	want, err := toValue(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter value: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	ids := make([]string, 0)
	for id, doc := range m.collections[collection] {
		if got, ok := doc.fields[field]; ok && reflect.DeepEqual(got, want) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, memDocument(id, m.collections[collection][id].fields))
	}
	return docs, nil
}

func (m *MemoryStore) List(ctx context.Context, collection string, order Order) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.snapshot(collection, order), nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, collection string, order Order) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	s := &memSubscriber{order: order}
	s.sub = newSubscription(m.snapshot(collection, order), func() {
		m.mu.Lock()
		delete(m.subscribers[collection], s)
		m.mu.Unlock()
	})

	if m.subscribers[collection] == nil {
		m.subscribers[collection] = make(map[*memSubscriber]struct{})
	}
	m.subscribers[collection][s] = struct{}{}

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.sub.Cancel()
			case <-s.sub.Done():
			}
		}()
	}
	return s.sub, nil
}

// Close ends every subscription; later calls fail with ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, subs := range m.subscribers {
		for s := range subs {
			s.sub.finish(nil)
		}
	}
	m.subscribers = make(map[string]map[*memSubscriber]struct{})
	return nil
}

// Version returns the write counter of a document, zero when missing.
func (m *MemoryStore) Version(collection, id string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if doc, ok := m.collections[collection][id]; ok {
		return doc.version
	}
	return 0
}

func (m *MemoryStore) collection(name string) map[string]*memDoc {
	docs, ok := m.collections[name]
	if !ok {
		docs = make(map[string]*memDoc)
		m.collections[name] = docs
	}
	return docs
}

func (m *MemoryStore) apply(doc *memDoc, fields map[string]interface{}) {
	for k, v := range fields {
		doc.fields[k] = v
	}
	doc.version++
}

// broadcast must be called with the write lock held.
func (m *MemoryStore) broadcast(collection string) {
	for s := range m.subscribers[collection] {
		s.sub.push(m.snapshot(collection, s.order))
	}
}

func (m *MemoryStore) snapshot(collection string, order Order) []Document {
	type entry struct {
		id     string
		fields map[string]interface{}
	}

	entries := make([]entry, 0, len(m.collections[collection]))
	for id, doc := range m.collections[collection] {
		if order.Field != "" {
			if _, ok := doc.fields[order.Field]; !ok {
				continue
			}
		}
		entries = append(entries, entry{id: id, fields: doc.fields})
	}

	sort.Slice(entries, func(i, j int) bool {
		if order.Field != "" {
			c := compareValues(entries[i].fields[order.Field], entries[j].fields[order.Field])
			if c != 0 {
				if order.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return entries[i].id < entries[j].id
	})

	if order.Limit > 0 && len(entries) > order.Limit {
		entries = entries[:order.Limit]
	}

	docs := make([]Document, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, memDocument(e.id, e.fields))
	}
	return docs
}

func memDocument(id string, fields map[string]interface{}) Document {
	raw, err := json.Marshal(fields)
	return Document{
		ID: id,
		decode: func(out interface{}) error {
			if err != nil {
				return err
			}
			return json.Unmarshal(raw, out)
		},
	}
}

func toFields(data interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]interface{})
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func toValue(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func mergeFields(dst, src map[string]interface{}) {
	for k, v := range src {
		if nested, ok := v.(map[string]interface{}); ok {
			if existing, ok := dst[k].(map[string]interface{}); ok {
				mergeFields(existing, nested)
				continue
			}
		}
		dst[k] = v
	}
}

// compareValues orders JSON field values. Timestamps are encoded as RFC 3339
// strings with trimmed fractions, so they are compared as instants.
func compareValues(a, b interface{}) int {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 1
		}
		at, aerr := time.Parse(time.RFC3339Nano, av)
		bt, berr := time.Parse(time.RFC3339Nano, bv)
		if aerr == nil && berr == nil {
			return at.Compare(bt)
		}
		return strings.Compare(av, bv)
	case float64:
		bv, ok := b.(float64)
		if !ok {
			if _, isString := b.(string); isString {
				return -1
			}
			return 1
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case bool:
		bv, ok := b.(bool)
		if !ok {
			if b == nil {
				return 1
			}
			return -1
		}
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	case nil:
		if b == nil {
			return 0
		}
		return -1
	}
	return 0
}
