package app

import (
	"context"
	"fmt"

	"physiostat/adapters/report"
	"physiostat/domain/core"
	"physiostat/domain/study"
	"physiostat/internal"
	"physiostat/internal/analysis"
	"physiostat/internal/errors"
	"physiostat/internal/reshape"
	"physiostat/ports"
)

// AnalysisService runs the second stage: load the persisted bundle, fit
// every declared analysis plan metric by metric, and emit the report.
// Fitting is fail-soft per metric; only a missing bundle or table aborts
// the stage.
type AnalysisService struct {
	store  ports.BundleStore
	sink   ports.ReportSink
	engine *analysis.Engine
	opts   analysis.Options
	log    *internal.Logger
}

// NewAnalysisService wires the statistics stage.
func NewAnalysisService(store ports.BundleStore, sink ports.ReportSink, opts analysis.Options, log *internal.Logger) *AnalysisService {
	if log == nil {
		log = internal.DefaultLogger
	}
	return &AnalysisService{
		store:  store,
		sink:   sink,
		engine: analysis.NewEngine(log),
		opts:   opts,
		log:    log,
	}
}

// Run executes the stage and returns the assembled report.
func (s *AnalysisService) Run(ctx context.Context) (*report.Report, error) {
	bundle, err := s.store.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load tidy bundle")
	}
	s.log.Info("[Analysis] loaded bundle %s (%d tables)", bundle.RunID, bundle.Len())

	rep := &report.Report{
		RunID:        bundle.RunID,
		Source:       bundle.Source,
		Descriptives: make(map[core.TableName][]analysis.Summary),
	}

	for _, plan := range study.Analyses() {
		t, err := bundle.Table(plan.Table)
		if err != nil {
			return nil, errors.Wrapf(err, "analysis plan %s", plan.SectionTitle())
		}
		stacked := reshape.Stack(t)
		if err := stacked.Validate(); err != nil {
			// Missing cells surface here; the per-metric balance check
			// will exclude exactly the affected metrics.
			s.log.Warn("[Analysis] %v", err)
		}

		subset := filterStacked(stacked, plan.Where)
		opts := s.opts
		opts.Tests = plan.Tests

		if plan.SplitBy == "" {
			batch, err := s.engine.FitTable(ctx, subset, plan.WithinFactors, opts)
			if err != nil {
				return nil, errors.Wrapf(err, "fit failed for plan %s", plan.SectionTitle())
			}
			rep.Sections = append(rep.Sections, report.Section{Title: plan.SectionTitle(), Batch: batch})
			continue
		}

		split, ok := subset.Factor(plan.SplitBy)
		if !ok {
			return nil, errors.New("PLAN_INVALID",
				fmt.Sprintf("plan %s splits by unknown factor %s", plan.SectionTitle(), plan.SplitBy))
		}
		for _, level := range split.Labels() {
			part := filterStacked(subset, map[string]string{plan.SplitBy: level})
			batch, err := s.engine.FitTable(ctx, part, plan.WithinFactors, opts)
			if err != nil {
				return nil, errors.Wrapf(err, "fit failed for plan %s (%s)", plan.SectionTitle(), level)
			}
			batch.Group = level
			rep.Sections = append(rep.Sections, report.Section{
				Title: fmt.Sprintf("%s (%s)", plan.SectionTitle(), level),
				Batch: batch,
			})
		}
	}

	for _, name := range bundle.Names() {
		t, err := bundle.Table(name)
		if err != nil {
			return nil, err
		}
		rep.Descriptives[name] = describeTable(t)
	}

	md := rep.Markdown()
	if err := s.sink.WriteReport(ctx, "analysis", md, report.RenderHTML(md)); err != nil {
		return nil, errors.Wrap(err, "failed to write report")
	}
	return rep, nil
}

// filterStacked returns a copy narrowed to rows matching the fixed
// factor levels. A nil filter returns the input unchanged.
func filterStacked(s *study.StackedTable, where map[string]string) *study.StackedTable {
	if len(where) == 0 {
		return s
	}
	out := &study.StackedTable{
		Name:    s.Name,
		Factors: s.Factors,
		Metrics: s.Metrics,
	}
	for _, r := range s.Rows {
		match := true
		for f, level := range where {
			if r.Factors[f] != level {
				match = false
				break
			}
		}
		if match {
			out.Rows = append(out.Rows, r)
		}
	}
	// SourceRows counts observation units, not stacked rows; with
	// missing cells a division by the metric count would undercount.
	units := make(map[string]struct{})
	for _, r := range out.Rows {
		key := string(r.Participant)
		for _, f := range out.Factors {
			key += "\x1f" + r.Factors[f.Name]
		}
		units[key] = struct{}{}
	}
	out.SourceRows = len(units)
	return out
}

func describeTable(t *study.TidyTable) []analysis.Summary {
	out := make([]analysis.Summary, 0, len(t.Metrics))
	for _, m := range t.Metrics {
		var data []float64
		for _, row := range t.Rows {
			if v, ok := row.Values[m]; ok {
				data = append(data, v)
			}
		}
		out = append(out, analysis.Describe(m, data))
	}
	return out
}
