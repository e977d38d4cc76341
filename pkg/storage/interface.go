package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/media-harvester/pkg/models"
)

// SliceStore records slice completion for resume and classification
type SliceStore interface {
	// MarkSliceAcquired stores cp, replacing any earlier record for the same slice.
	// The classified flag is cleared: freshly acquired stage files need classifying again.
	MarkSliceAcquired(cp models.SliceCheckpoint) error

	// MarkSliceClassified flags an acquired slice as classified.
	// Returns utils.ErrDatabase if the slice was never acquired.
	MarkSliceClassified(lang string, start, end int) error

	// GetSlice returns the record for the slice [start, end) of lang, if any
	GetSlice(lang string, start, end int) (*models.SliceCheckpoint, bool, error)

	// ListSlices returns every record of lang ordered by start offset
	ListSlices(lang string) ([]models.SliceCheckpoint, error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// ResetLanguage drops every slice record of lang
	ResetLanguage(lang string) error

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// CheckpointStore combines all store interfaces for components that need full access
type CheckpointStore interface {
	SliceStore
	StoreAdmin
}
