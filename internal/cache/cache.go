package cache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/vanshika/agriledger/backend/internal/domain"
)

// Cache mirrors recently seen transactions for fast lookups and for serving
// lists while the store is unreachable. It is never the source of truth.
type Cache struct {
	// mu makes the compare-and-replace in Put atomic; go-cache only locks single calls.
	mu    sync.Mutex
	items *gocache.Cache
}

// New creates a Cache whose entries expire after ttl. A zero ttl keeps entries forever.
func New(ttl, cleanupInterval time.Duration) *Cache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	if cleanupInterval <= 0 {
		cleanupInterval = gocache.NoExpiration
	}
	return &Cache{items: gocache.New(ttl, cleanupInterval)}
}

// Get returns a copy of the cached record.
func (c *Cache) Get(id string) (*domain.Transaction, bool) {
	v, ok := c.items.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*domain.Transaction).Clone(), true
}

// Put stores a copy of tx unless the cached record is further along its
// lifecycle, so an older snapshot never overwrites a newer one.
func (c *Cache) Put(tx *domain.Transaction) {
	if tx == nil || tx.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.items.Get(tx.ID); ok && stage(v.(*domain.Transaction)) > stage(tx) {
		return
	}
	c.items.SetDefault(tx.ID, tx.Clone())
}

// PutAll refreshes the cache from a store listing.
func (c *Cache) PutAll(txs []*domain.Transaction) {
	for _, tx := range txs {
		c.Put(tx)
	}
}

// Delete drops a record from the cache.
func (c *Cache) Delete(id string) {
	c.items.Delete(id)
}

// Len reports the number of cached records, including expired ones not yet cleaned up.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}

// Snapshot returns every unexpired record, newest first.
func (c *Cache) Snapshot() []*domain.Transaction {
	return c.filter(func(*domain.Transaction) bool { return true })
}

// SnapshotByUser returns the unexpired records of one user, newest first.
func (c *Cache) SnapshotByUser(userID string) []*domain.Transaction {
	return c.filter(func(tx *domain.Transaction) bool { return tx.UserID == userID })
}

func (c *Cache) filter(keep func(*domain.Transaction) bool) []*domain.Transaction {
	items := c.items.Items()
	out := make([]*domain.Transaction, 0, len(items))
	for _, item := range items {
		tx := item.Object.(*domain.Transaction)
		if keep(tx) {
			out = append(out, tx.Clone())
		}
	}
	domain.SortNewestFirst(out)
	return out
}

// stage orders lifecycle positions: pending, then terminal, then delivered.
func stage(tx *domain.Transaction) int {
	switch {
	case tx.Delivered():
		return 2
	case tx.Status.Terminal():
		return 1
	default:
		return 0
	}
}
