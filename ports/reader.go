package ports

import (
	"context"

	"physiostat/domain/study"
)

// WideReader loads the wide source spreadsheet.
type WideReader interface {
	ReadWide(ctx context.Context) (*study.WideTable, error)
}
