package index

import (
	"context"

	"github.com/starford/notidx/internal/cache"
	"github.com/starford/notidx/internal/models"
)

// Store is the full set of operations the indexer performs on its database.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with fakes.
type Store interface {
	ListIndexNeeded(ctx context.Context, kind models.ItemKind) ([]int64, error)
	GetNote(ctx context.Context, lid int64) (*models.Note, error)
	GetResource(ctx context.Context, lid int64) (*models.Resource, error)
	UpsertNote(ctx context.Context, n models.Note) (int64, error)
	UpsertResource(ctx context.Context, r models.Resource) (int64, error)
	ClearIndexNeeded(ctx context.Context, ref models.ItemRef) error
	IndexNeeded(ctx context.Context, ref models.ItemRef) (bool, error)
	Flush(ctx context.Context, b cache.Batch) (FlushStats, error)
	MarkAllIndexNeeded(ctx context.Context) error
	MarkIndexNeeded(ctx context.Context, ref models.ItemRef) error
	PendingCounts(ctx context.Context) (notes, resources int, err error)
	IndexRows(ctx context.Context, lid int64) ([]models.IndexRow, error)
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
