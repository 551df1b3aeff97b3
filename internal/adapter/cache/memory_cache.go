// Package cache holds compiled workflow caches.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
)

type memoryEntry struct {
	key       string
	payload   []byte
	expiresAt time.Time
}

// MemoryCache is an in-process LRU workflow cache with a fixed TTL.
// Workflows are stored serialized so callers never share state.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	order   *list.List
	items   map[string]*list.Element
	now     func() time.Time
}

// NewMemoryCache creates a cache holding at most maxSize workflows for ttl each
func NewMemoryCache(ttl time.Duration, maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryCache{
		ttl:     ttl,
		maxSize: maxSize,
		order:   list.New(),
		items:   make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Get returns a copy of the cached workflow for key
func (c *MemoryCache) Get(ctx context.Context, key string) (*domain.Workflow, bool, error) {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return nil, false, nil
	}
	entry := el.Value.(*memoryEntry)
	if c.ttl > 0 && !c.now().Before(entry.expiresAt) {
		c.removeElement(el)
		c.mu.Unlock()
		return nil, false, nil
	}
	c.order.MoveToFront(el)
	payload := entry.payload
	c.mu.Unlock()

	var wf domain.Workflow
	if err := json.Unmarshal(payload, &wf); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached workflow: %w", err)
	}
	return &wf, true, nil
}

// Set stores wf under key, evicting the least recently used entry when full
func (c *MemoryCache) Set(ctx context.Context, key string, wf *domain.Workflow) error {
	payload, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to encode workflow: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.payload = payload
		entry.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return nil
	}

	c.items[key] = c.order.PushFront(&memoryEntry{key: key, payload: payload, expiresAt: expiresAt})
	for c.order.Len() > c.maxSize {
		c.removeElement(c.order.Back())
	}
	return nil
}

// Len returns the number of stored entries, expired ones included
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*memoryEntry).key)
}
