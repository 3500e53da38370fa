package app

import (
	"context"

	"physiostat/domain/core"
	"physiostat/domain/study"
	"physiostat/internal"
	"physiostat/internal/errors"
	"physiostat/internal/reshape"
	"physiostat/ports"
)

// TidyService runs the first stage: read the wide spreadsheet, reshape
// every declared domain into a tidy table, and persist the bundle. Any
// reshape or recode failure aborts the whole stage, since every
// downstream table depends on a correct reshape.
type TidyService struct {
	reader ports.WideReader
	store  ports.BundleStore
	source string
	strict bool
	log    *internal.Logger
}

// NewTidyService wires the tidying stage.
func NewTidyService(reader ports.WideReader, store ports.BundleStore, source string, strict bool, log *internal.Logger) *TidyService {
	if log == nil {
		log = internal.DefaultLogger
	}
	return &TidyService{reader: reader, store: store, source: source, strict: strict, log: log}
}

// Run executes the stage and returns the persisted bundle.
func (s *TidyService) Run(ctx context.Context) (*study.Bundle, error) {
	wide, err := s.reader.ReadWide(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read wide table")
	}
	s.log.Info("[Tidy] wide table: %d participants, %d columns", len(wide.Rows), len(wide.Headers))

	var tables []*study.TidyTable
	for _, spec := range study.Domains() {
		t, err := reshape.Reshape(wide, spec)
		if err != nil {
			return nil, errors.Wrapf(err, "reshape failed for domain %s", spec.Name)
		}
		if !spec.Plain {
			if err := reshape.Recode(t, spec.Factors, s.strict); err != nil {
				return nil, errors.Wrapf(err, "recode failed for domain %s", spec.Name)
			}
		}
		for m, c := range t.Missing {
			s.log.Warn("[Tidy] domain %s metric %s: %d missing cells", spec.Name, m, c)
		}
		s.log.Info("[Tidy] domain %s: %d rows, %d metrics", spec.Name, len(t.Rows), len(t.Metrics))
		tables = append(tables, t)
	}

	bundle, err := study.NewBundle(core.NewRunID(), s.source, tables)
	if err != nil {
		return nil, errors.Wrap(err, "failed to assemble bundle")
	}
	if err := s.store.Save(ctx, bundle); err != nil {
		return nil, errors.Wrap(err, "failed to persist bundle")
	}
	s.log.Info("[Tidy] bundle %s persisted (%d tables)", bundle.RunID, bundle.Len())
	return bundle, nil
}
