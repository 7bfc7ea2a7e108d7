// Package repository keeps the order ledger: one record per customer
// reference, updated at every lifecycle transition.
package repository

import (
	"context"

	"github.com/okian/atlasbatch/internal/domain/model"
)

// Store provides read/write access to order records.
type Store interface {
	// Get returns the record for customerRef or ErrNotFound.
	Get(ctx context.Context, customerRef string) (model.OrderRecord, error)

	// Upsert inserts or replaces the record keyed by rec.CustomerRef.
	Upsert(ctx context.Context, rec model.OrderRecord) error

	// List returns every record ordered by site id then rank.
	List(ctx context.Context) ([]model.OrderRecord, error)

	// Close releases resources.
	Close() error
}
