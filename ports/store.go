package ports

import (
	"context"

	"physiostat/domain/study"
)

// BundleStore persists the tidy-table bundle that hands data from the
// tidying stage to the statistics stage. The statistics stage consumes
// the stored bundle by table name and never re-derives tidy tables.
type BundleStore interface {
	Save(ctx context.Context, b *study.Bundle) error
	// Load returns the most recently saved bundle.
	Load(ctx context.Context) (*study.Bundle, error)
	Close() error
}
