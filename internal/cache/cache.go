// Package cache holds index records that have been extracted but not yet flushed.
package cache

import (
	"sort"
	"sync"

	"github.com/starford/notidx/internal/models"
)

// Batch is the drained content of a Records cache.
type Batch struct {
	Records []models.IndexRecord
	// Settled items produced nothing to index; only their flags are cleared.
	Settled []models.ItemRef
}

// Empty reports whether the batch carries no work.
func (b Batch) Empty() bool {
	return len(b.Records) == 0 && len(b.Settled) == 0
}

// Records keeps at most one pending record per item id. A later Put for the
// same id replaces the earlier record; records are never merged.
type Records struct {
	mu      sync.Mutex
	pending map[int64]models.IndexRecord
	settled map[models.ItemRef]struct{}
}

// New returns an empty cache.
func New() *Records {
	return &Records{
		pending: make(map[int64]models.IndexRecord),
		settled: make(map[models.ItemRef]struct{}),
	}
}

// Put installs rec, discarding any pending record with the same ItemID.
func (c *Records) Put(rec models.IndexRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[rec.ItemID] = rec
}

// Settle marks ref as processed with nothing to write.
func (c *Records) Settle(ref models.ItemRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settled[ref] = struct{}{}
}

// Get returns the pending record for id.
func (c *Records) Get(id int64) (models.IndexRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.pending[id]
	return rec, ok
}

// Len returns the number of pending records.
func (c *Records) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Drain returns everything pending in ascending item order and empties the cache.
func (c *Records) Drain() Batch {
	c.mu.Lock()
	pending, settled := c.pending, c.settled
	c.pending = make(map[int64]models.IndexRecord)
	c.settled = make(map[models.ItemRef]struct{})
	c.mu.Unlock()

	var b Batch
	for _, rec := range pending {
		b.Records = append(b.Records, rec)
	}
	sort.Slice(b.Records, func(i, j int) bool { return b.Records[i].ItemID < b.Records[j].ItemID })

	for ref := range settled {
		b.Settled = append(b.Settled, ref)
	}
	sort.Slice(b.Settled, func(i, j int) bool {
		if b.Settled[i].Kind != b.Settled[j].Kind {
			return b.Settled[i].Kind < b.Settled[j].Kind
		}
		return b.Settled[i].Lid < b.Settled[j].Lid
	})
	return b
}
