package study

import (
	"fmt"
	"sort"

	"physiostat/domain/core"
)

// WideTable is the raw spreadsheet shape: one row per participant, one
// column per encoded measurement name.
type WideTable struct {
	Headers []string
	Rows    []map[string]string
}

// ColumnIndex returns the header position of a column name, or -1.
func (w *WideTable) ColumnIndex(name string) int {
	for i, h := range w.Headers {
		if h == name {
			return i
		}
	}
	return -1
}

// FactorLevel pairs a raw wide-column token with its display label.
type FactorLevel struct {
	Raw   string
	Label string
}

// Factor is an ordered categorical variable. Level order is the declared
// order, never alphabetical and never input-encounter order.
type Factor struct {
	Name   string
	Levels []FactorLevel
}

// LabelFor maps a raw token to its label. The second return reports
// whether the token is declared.
func (f Factor) LabelFor(raw string) (string, bool) {
	for _, l := range f.Levels {
		if l.Raw == raw {
			return l.Label, true
		}
	}
	return "", false
}

// RawFor maps a label back to its raw token (used when re-pivoting to wide).
func (f Factor) RawFor(label string) (string, bool) {
	for _, l := range f.Levels {
		if l.Label == label {
			return l.Raw, true
		}
	}
	return "", false
}

// Labels returns the level labels in declared order.
func (f Factor) Labels() []string {
	out := make([]string, len(f.Levels))
	for i, l := range f.Levels {
		out[i] = l.Label
	}
	return out
}

// LevelIndex returns the declared position of a label, or -1.
func (f Factor) LevelIndex(label string) int {
	for i, l := range f.Levels {
		if l.Label == label {
			return i
		}
	}
	return -1
}

// TidyRow is one observation unit: a participant under one factor-level
// combination, carrying every metric measured there.
type TidyRow struct {
	Participant core.ParticipantID
	Factors     map[string]string
	Values      map[core.MetricName]float64
}

// TidyTable is the long-format table for one measurement domain.
type TidyTable struct {
	Name    core.TableName
	Factors []Factor
	Metrics []core.MetricName
	Rows    []TidyRow
	// Missing counts cells absent from the source, keyed by metric.
	// A balanced design has an empty map; deviations are surfaced here
	// and again at fit time, never dropped silently.
	Missing map[core.MetricName]int
}

// Factor returns the declared factor by name.
func (t *TidyTable) Factor(name string) (Factor, bool) {
	for _, f := range t.Factors {
		if f.Name == name {
			return f, true
		}
	}
	return Factor{}, false
}

// Participants returns the distinct participant IDs in first-seen order.
func (t *TidyTable) Participants() []core.ParticipantID {
	seen := make(map[core.ParticipantID]bool)
	var out []core.ParticipantID
	for _, r := range t.Rows {
		if !seen[r.Participant] {
			seen[r.Participant] = true
			out = append(out, r.Participant)
		}
	}
	return out
}

// StackedRow is one (participant, factor combination, metric) observation.
type StackedRow struct {
	Participant core.ParticipantID
	Factors     map[string]string
	Metric      core.MetricName
	Value       float64
}

// StackedTable collapses the metric columns of a TidyTable into a
// (Metric, Value) pair, multiplying row count by the metric count.
type StackedTable struct {
	Name       core.TableName
	Factors    []Factor
	Metrics    []core.MetricName
	SourceRows int
	Rows       []StackedRow
}

// Factor returns the declared factor by name.
func (s *StackedTable) Factor(name string) (Factor, bool) {
	for _, f := range s.Factors {
		if f.Name == name {
			return f, true
		}
	}
	return Factor{}, false
}

// Validate asserts the stacking row-count invariant:
// rows == source rows x metric count.
func (s *StackedTable) Validate() error {
	want := s.SourceRows * len(s.Metrics)
	if len(s.Rows) != want {
		return fmt.Errorf("stacked table %s has %d rows, want %d (%d source rows x %d metrics); missing cells in source",
			s.Name, len(s.Rows), want, s.SourceRows, len(s.Metrics))
	}
	return nil
}

// MetricNames returns the distinct metrics observed in the rows, sorted.
func (s *StackedTable) MetricNames() []core.MetricName {
	seen := make(map[core.MetricName]bool)
	for _, r := range s.Rows {
		seen[r.Metric] = true
	}
	out := make([]core.MetricName, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
