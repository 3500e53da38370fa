package analysis

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"physiostat/domain/core"
	"physiostat/domain/study"
	"physiostat/internal"
)

// Options configures one grouped fitting batch.
type Options struct {
	// Workers bounds the parallel per-metric fits; 0 means NumCPU.
	Workers int
	// Alpha gates post-hoc comparisons on the omnibus p-value.
	Alpha float64
	// Adjustment is the multiple-comparison correction for post-hoc.
	Adjustment Adjustment
	// Tests overrides the paired test per metric (single two-level
	// factor designs only); absent metrics use the paired t-test.
	Tests map[core.MetricName]study.TestKind
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

func (o Options) alpha() float64 {
	if o.Alpha > 0 {
		return o.Alpha
	}
	return 0.05
}

// BatchResult maps metric names to their fits. A metric appears in
// exactly one of Fits, Paired, or Failures; lookups join on the metric
// key, never on positional order.
type BatchResult struct {
	Table     core.TableName
	Group     string // split level when the table was partitioned first
	Fits      map[core.MetricName]*ModelFit
	Paired    map[core.MetricName]*PairedFit
	Contrasts map[core.MetricName][]Contrast
	Failures  map[core.MetricName]error
}

// Engine partitions a stacked table by metric and fits each partition
// independently. One bad metric never aborts the batch: its failure is
// recorded and siblings continue.
type Engine struct {
	log *internal.Logger
}

// NewEngine creates a grouped model-fit engine.
func NewEngine(log *internal.Logger) *Engine {
	if log == nil {
		log = internal.DefaultLogger
	}
	return &Engine{log: log}
}

// FitTable fits every metric of a stacked table over the named within
// factors. A single two-level factor dispatches to the paired engine;
// anything else gets a repeated-measures ANOVA with post-hoc contrasts
// whenever the omnibus term is significant.
//
// Metric fits are independent and run on a bounded worker group; the
// output maps are keyed by metric name, so completion order carries no
// meaning.
func (e *Engine) FitTable(ctx context.Context, s *study.StackedTable, withinFactors []string, opts Options) (*BatchResult, error) {
	if len(withinFactors) == 0 || len(withinFactors) > 2 {
		return nil, fmt.Errorf("table %s: need 1 or 2 within factors, got %d", s.Name, len(withinFactors))
	}
	factorA, ok := s.Factor(withinFactors[0])
	if !ok {
		return nil, fmt.Errorf("table %s: unknown factor %s", s.Name, withinFactors[0])
	}
	var factorB study.Factor
	if len(withinFactors) == 2 {
		factorB, ok = s.Factor(withinFactors[1])
		if !ok {
			return nil, fmt.Errorf("table %s: unknown factor %s", s.Name, withinFactors[1])
		}
	}

	partitions := make(map[core.MetricName][]study.StackedRow)
	for _, r := range s.Rows {
		partitions[r.Metric] = append(partitions[r.Metric], r)
	}

	result := &BatchResult{
		Table:     s.Name,
		Fits:      make(map[core.MetricName]*ModelFit),
		Paired:    make(map[core.MetricName]*PairedFit),
		Contrasts: make(map[core.MetricName][]Contrast),
		Failures:  make(map[core.MetricName]error),
	}
	var mu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for _, metric := range s.MetricNames() {
		rows := partitions[metric]
		metric := metric
		g.Go(func() error {
			fitOne(e, metric, rows, factorA, factorB, opts, result, &mu)
			// Failures are per-metric by design; never cancel siblings.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for metric, err := range result.Failures {
		e.log.Warn("table %s metric %s: fit failed: %v", s.Name, metric, err)
	}
	return result, nil
}

func fitOne(e *Engine, metric core.MetricName, rows []study.StackedRow, factorA, factorB study.Factor, opts Options, result *BatchResult, mu *sync.Mutex) {
	design, err := BuildDesign(metric, rows, factorA, factorB)
	if err != nil {
		mu.Lock()
		result.Failures[metric] = err
		mu.Unlock()
		return
	}

	if !design.TwoWay() && design.A() == 2 {
		pf, err := FitPaired(design, opts.Tests[metric])
		mu.Lock()
		if err != nil {
			result.Failures[metric] = err
		} else {
			result.Paired[metric] = pf
		}
		mu.Unlock()
		return
	}

	fit, err := FitRM(design)
	if err != nil {
		mu.Lock()
		result.Failures[metric] = err
		mu.Unlock()
		return
	}

	var contrasts []Contrast
	if fit.OmnibusP() < opts.alpha() {
		contrasts, err = PostHoc(design, fit, opts.Adjustment)
		if err != nil {
			mu.Lock()
			result.Failures[metric] = err
			mu.Unlock()
			return
		}
		contrasts = FilterSignificant(contrasts, opts.alpha())
	}

	mu.Lock()
	result.Fits[metric] = fit
	if len(contrasts) > 0 {
		result.Contrasts[metric] = contrasts
	}
	mu.Unlock()
}
