package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
)

type memoryCollection struct {
	docs  map[string]domain.Fields
	order []string
}

// MemoryDocumentStore implements DocumentStore in process memory
type MemoryDocumentStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
	newID       func() string
}

// NewMemoryDocumentStore creates an empty in-memory document store
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		collections: make(map[string]*memoryCollection),
		newID:       uuid.NewString,
	}
}

func (s *MemoryDocumentStore) collection(name string) *memoryCollection {
	c, ok := s.collections[name]
	if !ok {
		c = &memoryCollection{docs: make(map[string]domain.Fields)}
		s.collections[name] = c
	}
	return c
}

// Get retrieves one document by id
func (s *MemoryDocumentStore) Get(ctx context.Context, collection, id string) (*ports.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, ports.ErrDocumentNotFound
	}
	data, ok := c.docs[id]
	if !ok {
		return nil, ports.ErrDocumentNotFound
	}
	return &ports.Document{ID: id, Data: data.Clone()}, nil
}

// Query retrieves documents matching every filter in insertion order unless sorted
func (s *MemoryDocumentStore) Query(ctx context.Context, collection string, q domain.StoreQuery) ([]ports.Document, error) {
	for _, f := range q.Filters {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return []ports.Document{}, nil
	}

	docs := make([]ports.Document, 0)
	for _, id := range c.order {
		data := c.docs[id]
		if matchAll(data, q.Filters) {
			docs = append(docs, ports.Document{ID: id, Data: data.Clone()})
		}
	}
	sortDocuments(docs, q.OrderBy)
	return page(docs, q.StartAfter, q.Limit), nil
}

// Add saves a new document and returns its generated id
func (s *MemoryDocumentStore) Add(ctx context.Context, collection string, data domain.Fields) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	c := s.collection(collection)
	c.docs[id] = data.Clone()
	c.order = append(c.order, id)
	return id, nil
}

// Update merges data into an existing document
func (s *MemoryDocumentStore) Update(ctx context.Context, collection, id string, data domain.Fields) error {
	return s.Batch(ctx, []ports.Mutation{{Kind: ports.MutationUpdate, Collection: collection, ID: id, Data: data}})
}

// Delete removes a document
func (s *MemoryDocumentStore) Delete(ctx context.Context, collection, id string) error {
	return s.Batch(ctx, []ports.Mutation{{Kind: ports.MutationDelete, Collection: collection, ID: id}})
}

// Batch validates every mutation before applying any of them
func (s *MemoryDocumentStore) Batch(ctx context.Context, mutations []ports.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// overlay tracks existence as the batch would leave it
	overlay := make(map[string]bool)
	exists := func(m ports.Mutation) bool {
		if v, ok := overlay[m.Collection+"/"+m.ID]; ok {
			return v
		}
		c, ok := s.collections[m.Collection]
		if !ok {
			return false
		}
		_, ok = c.docs[m.ID]
		return ok
	}

	for i, m := range mutations {
		key := m.Collection + "/" + m.ID
		switch m.Kind {
		case ports.MutationSet:
			if m.ID == "" {
				return fmt.Errorf("mutation %d: set requires an id", i)
			}
			overlay[key] = true
		case ports.MutationUpdate, ports.MutationDelete:
			if !exists(m) {
				return fmt.Errorf("mutation %d on %s: %w", i, key, ports.ErrDocumentNotFound)
			}
			if m.Kind == ports.MutationDelete {
				overlay[key] = false
			}
		default:
			return fmt.Errorf("mutation %d: unknown kind %q", i, m.Kind)
		}
	}

	for _, m := range mutations {
		c := s.collection(m.Collection)
		switch m.Kind {
		case ports.MutationSet:
			if _, exists := c.docs[m.ID]; !exists {
				c.order = append(c.order, m.ID)
			}
			c.docs[m.ID] = m.Data.Clone()
		case ports.MutationUpdate:
			merged := c.docs[m.ID].Clone()
			if merged == nil {
				merged = make(domain.Fields, len(m.Data))
			}
			for k, v := range m.Data {
				merged[k] = v
			}
			c.docs[m.ID] = merged
		case ports.MutationDelete:
			delete(c.docs, m.ID)
			for i, id := range c.order {
				if id == m.ID {
					c.order = append(c.order[:i], c.order[i+1:]...)
					break
				}
			}
		}
	}
	return nil
}
