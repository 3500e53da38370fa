package reshape

import (
	"physiostat/domain/study"
)

// Stack collapses the metric columns of a tidy table into one
// (Metric, Value) pair per row, multiplying row count by the metric
// count. Missing cells produce no stacked row; Validate on the result
// reports the shortfall instead of hiding it.
func Stack(t *study.TidyTable) *study.StackedTable {
	s := &study.StackedTable{
		Name:       t.Name,
		Factors:    t.Factors,
		Metrics:    t.Metrics,
		SourceRows: len(t.Rows),
	}
	for _, row := range t.Rows {
		for _, m := range t.Metrics {
			v, ok := row.Values[m]
			if !ok {
				continue
			}
			s.Rows = append(s.Rows, study.StackedRow{
				Participant: row.Participant,
				Factors:     row.Factors,
				Metric:      m,
				Value:       v,
			})
		}
	}
	return s
}
