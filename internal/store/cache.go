package store

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const refreshTimeout = 30 * time.Second

// Cache serves ListApproved from memory and refreshes it on a cron
// schedule. A failed scheduled refresh keeps the previous list. Create
// passes straight through.
type Cache struct {
	src Store

	mu      sync.RWMutex
	items   []FormData
	fetched time.Time

	sched *cron.Cron
}

func NewCache(src Store) *Cache {
	return &Cache{src: src}
}

// Refresh reloads the approved list from the backing store.
func (c *Cache) Refresh(ctx context.Context) error {
	items, err := c.src.ListApproved(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.items = items
	c.fetched = time.Now()
	c.mu.Unlock()
	return nil
}

// ListApproved returns the cached list, loading it on first use.
func (c *Cache) ListApproved(ctx context.Context) ([]FormData, error) {
	c.mu.RLock()
	loaded := !c.fetched.IsZero()
	items := append([]FormData(nil), c.items...)
	c.mu.RUnlock()
	if loaded {
		return items, nil
	}

	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]FormData(nil), c.items...), nil
}

func (c *Cache) Create(ctx context.Context, data FormData) error {
	return c.src.Create(ctx, data)
}

// FetchedAt reports when the list was last loaded.
func (c *Cache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetched
}

// Len reports the number of cached submissions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Start schedules refreshes with a cron spec such as "@every 5m".
func (c *Cache) Start(spec string) error {
	sched := cron.New()
	if _, err := sched.AddFunc(spec, c.scheduledRefresh); err != nil {
		return fmt.Errorf("schedule gallery refresh %q: %w", spec, err)
	}
	c.sched = sched
	sched.Start()
	log.Printf("[store] gallery refresh scheduled (%s)", spec)
	return nil
}

// Stop cancels the schedule and waits for a running refresh.
func (c *Cache) Stop() {
	if c.sched != nil {
		<-c.sched.Stop().Done()
	}
}

func (c *Cache) scheduledRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	if err := c.Refresh(ctx); err != nil {
		log.Printf("[store] gallery refresh failed, keeping %d cached entries: %v", c.Len(), err)
	}
}
