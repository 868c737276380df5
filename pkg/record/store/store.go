// Package store provides persistent storage for image records.
//
// The canonical implementation is GORM-backed (SQLite for single-node
// deployments, PostgreSQL when configured). A memory implementation exists
// for tests.
package store

import (
	"context"

	"github.com/photogate/photogate/pkg/record"
)

// ListFilter narrows a List call. A nil Status matches every record.
type ListFilter struct {
	Status *record.Status
}

// Patch describes a shallow field merge applied by Update. Nil pointer
// fields are left untouched. MetaData entries are merged key-by-key into
// the existing map, atomically with the rest of the patch.
type Patch struct {
	Status        *record.Status
	OriginalName  *string
	ProcessedPath *string
	ProcessedSize *int64
	Width         *int
	Height        *int
	MetaData      record.MetaData
}

// Store is the persistent mapping from image id to image record.
//
// Implementations must make single-record updates linearizable. The bulk
// read used for duplicate detection is a snapshot; inserts racing with the
// scan are tolerated (the later pipeline run observes them).
type Store interface {
	// Create assigns an id (when empty), stamps createdAt/updatedAt and
	// persists the record. The initial status defaults to PENDING.
	Create(ctx context.Context, img *record.Image) (string, error)

	// Get returns the record or record.ErrImageNotFound.
	Get(ctx context.Context, id string) (*record.Image, error)

	// Update applies the patch atomically and returns the updated record.
	Update(ctx context.Context, id string, patch Patch) (*record.Image, error)

	// TransitionStatus performs an atomic compare-and-set on the status
	// column. It returns false when the record is not in the expected
	// state, and record.ErrImageNotFound when it does not exist.
	TransitionStatus(ctx context.Context, id string, from, to record.Status) (bool, error)

	// List returns a page of records ordered newest first, plus the total
	// count matching the filter.
	List(ctx context.Context, filter ListFilter, offset, limit int) ([]*record.Image, int64, error)

	// FindProcessedWithHash returns every PROCESSED record carrying a
	// pHash, projecting only id, originalName and metaData.
	FindProcessedWithHash(ctx context.Context) ([]*record.Image, error)

	// Delete removes the record. Missing records are a silent no-op.
	Delete(ctx context.Context, id string) error

	// Ping checks connectivity for health probes.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
