// ABOUTME: Read-through product summary cache, populated at most once per id
// ABOUTME: Stale entries are acceptable and never reconciled

package cache

import "github.com/trovato-app/msgsync/internal/api"

// Product returns the cached summary for a product id, if one was fetched
// this session.
func (c *Cache) Product(id int64) (api.ProductSummary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[id]
	return p, ok
}

// BeginProductFetch records that a fetch for this product id is being
// attempted and returns true, or returns false if a fetch was already
// attempted this session. Each unique id is fetched at most once per
// session, even if the fetch fails; product data is display-only.
func (c *Cache) BeginProductFetch(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.productAttempted[id] {
		return false
	}
	c.productAttempted[id] = true
	return true
}

// StoreProduct records a fetched product summary.
func (c *Cache) StoreProduct(p api.ProductSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}
