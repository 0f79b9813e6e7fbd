package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Record is the persisted identity of an announced item.
// BumpedAt is the feed's freshness marker; it changes whenever the item is bumped.
type Record struct {
	ID       string `json:"id"`
	BumpedAt string `json:"bumped_at"`
}

// Backend is the durable side of the seen-item store.
type Backend interface {
	// Load returns the stored records. A backend that does not exist yet is
	// initialized empty and yields no records and no error.
	Load(ctx context.Context) ([]Record, error)
	// Save replaces everything stored with recs.
	Save(ctx context.Context, recs []Record) error
	Close() error
}

// Config configures storage.
//
// Driver values: "file" (default when empty), "sqlite", "bolt".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
