// Package testkit builds synthetic study datasets for tests: balanced
// wide tables with controllable effects, plus helpers to knock cells
// out for unbalanced-design cases.
package testkit

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"physiostat/domain/core"
	"physiostat/domain/study"
)

// CellValue computes one synthetic measurement. p is the zero-based
// participant index; cond and level are raw tokens.
type CellValue func(p int, metric, cond, level string) float64

// BalancedWide generates a fully balanced wide table. Columns are laid
// out metric-major over condition x level in the given order, names
// joined with underscores.
func BalancedWide(participants int, metrics, conds, levels []string, value CellValue) *study.WideTable {
	wide := &study.WideTable{Headers: []string{study.IDColumn}}
	for _, m := range metrics {
		for _, c := range conds {
			for _, l := range levels {
				wide.Headers = append(wide.Headers, strings.Join([]string{m, c, l}, "_"))
			}
		}
	}
	for p := 0; p < participants; p++ {
		row := map[string]string{study.IDColumn: fmt.Sprintf("p%02d", p+1)}
		for _, m := range metrics {
			for _, c := range conds {
				for _, l := range levels {
					col := strings.Join([]string{m, c, l}, "_")
					row[col] = strconv.FormatFloat(value(p, m, c, l), 'g', -1, 64)
				}
			}
		}
		wide.Rows = append(wide.Rows, row)
	}
	return wide
}

// NoisyValue returns a CellValue with deterministic per-cell noise and
// optional additive effects per condition and level.
func NoisyValue(seed int64, base float64, condEffect map[string]float64, levelEffect map[string]float64, sd float64) CellValue {
	rng := rand.New(rand.NewSource(seed))
	return func(p int, metric, cond, level string) float64 {
		return base + float64(p)*0.1 + condEffect[cond] + levelEffect[level] + rng.NormFloat64()*sd
	}
}

// ConditionTimeSpec declares a metric_condition_time domain between two
// column names, with the study's condition factor and the given time
// levels.
func ConditionTimeSpec(name, startCol, endCol string, times []study.FactorLevel) study.DomainSpec {
	return study.DomainSpec{
		Name:     core.TableName(name),
		StartCol: startCol,
		EndCol:   endCol,
		Schema: study.ColumnSchema{
			Separator: "_",
			Roles: []study.Role{
				{Name: "metric", Kind: study.RoleMetric},
				{Name: "condition", Kind: study.RoleFactor},
				{Name: "time", Kind: study.RoleFactor},
			},
		},
		Factors: []study.Factor{
			study.ConditionFactor(),
			{Name: "time", Levels: times},
		},
	}
}

// TimeLevels builds identity (raw == label) factor levels.
func TimeLevels(raws ...string) []study.FactorLevel {
	levels := make([]study.FactorLevel, len(raws))
	for i, r := range raws {
		levels[i] = study.FactorLevel{Raw: r, Label: r}
	}
	return levels
}

// DropCell blanks one column for one participant, unbalancing the design.
func DropCell(wide *study.WideTable, column string, participant int) {
	wide.Rows[participant][column] = ""
}
