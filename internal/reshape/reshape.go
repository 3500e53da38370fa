// Package reshape converts the wide spreadsheet shape into the long/tidy
// tables the statistics stage consumes. All transforms are pure: the
// input table is never mutated and output tables share no storage with it.
package reshape

import (
	"fmt"
	"strconv"
	"strings"

	"physiostat/domain/core"
	"physiostat/domain/study"
)

// Reshape converts the declared column range of a wide table into a tidy
// table, one row per (participant, factor-level combination). Factor
// cells hold raw tokens until Recode is applied.
//
// Every selected column name must tokenize into exactly the declared
// number of fields; a mismatch is fatal for the whole reshape.
func Reshape(wide *study.WideTable, spec study.DomainSpec) (*study.TidyTable, error) {
	cols, err := columnRange(wide, spec.StartCol, spec.EndCol)
	if err != nil {
		return nil, fmt.Errorf("domain %s: %w", spec.Name, err)
	}

	if spec.Plain {
		return reshapePlain(wide, spec, cols)
	}

	type colKey struct {
		metric  core.MetricName
		factors map[string]string // role name -> raw token
	}

	parsed := make([]colKey, len(cols))
	for i, col := range cols {
		tokens := strings.Split(col, spec.Schema.Separator)
		if len(tokens) != len(spec.Schema.Roles) {
			return nil, fmt.Errorf("domain %s: %w", spec.Name,
				core.NewSchemaMismatchError(col, len(spec.Schema.Roles), len(tokens)))
		}
		ck := colKey{factors: make(map[string]string)}
		for j, role := range spec.Schema.Roles {
			switch role.Kind {
			case study.RoleMetric:
				ck.metric = core.MetricName(tokens[j])
			case study.RoleFactor:
				ck.factors[role.Name] = tokens[j]
			case study.RoleDummy:
				// Arity already enforced; the token itself is dropped.
			}
		}
		parsed[i] = ck
	}

	tidy := &study.TidyTable{
		Name:    spec.Name,
		Missing: make(map[core.MetricName]int),
	}

	// Metric order: first encounter across the column range.
	seenMetric := make(map[core.MetricName]bool)
	for _, ck := range parsed {
		if !seenMetric[ck.metric] {
			seenMetric[ck.metric] = true
			tidy.Metrics = append(tidy.Metrics, ck.metric)
		}
	}

	rowIndex := make(map[string]int)
	for _, wr := range wide.Rows {
		pid, err := core.ParseParticipantID(wr[study.IDColumn])
		if err != nil {
			return nil, fmt.Errorf("domain %s: %w", spec.Name, err)
		}
		for i, col := range cols {
			ck := parsed[i]
			raw := strings.TrimSpace(wr[col])
			if raw == "" {
				tidy.Missing[ck.metric]++
				continue
			}
			v, err := parseValue(raw)
			if err != nil {
				return nil, fmt.Errorf("domain %s: %w", spec.Name,
					core.NewBadValueError(col, pid, raw))
			}

			key := rowKeyFor(pid, spec.Schema.Roles, ck.factors)
			idx, ok := rowIndex[key]
			if !ok {
				idx = len(tidy.Rows)
				rowIndex[key] = idx
				factors := make(map[string]string, len(ck.factors))
				for k, t := range ck.factors {
					factors[k] = t
				}
				tidy.Rows = append(tidy.Rows, study.TidyRow{
					Participant: pid,
					Factors:     factors,
					Values:      make(map[core.MetricName]float64),
				})
			}
			if _, dup := tidy.Rows[idx].Values[ck.metric]; dup {
				return nil, fmt.Errorf("domain %s: %w", spec.Name,
					core.NewDuplicateCellError(col, ck.metric, pid))
			}
			tidy.Rows[idx].Values[ck.metric] = v
		}
	}

	return tidy, nil
}

// reshapePlain copies a column range verbatim: one tidy row per
// participant, every column a metric, no factors.
func reshapePlain(wide *study.WideTable, spec study.DomainSpec, cols []string) (*study.TidyTable, error) {
	tidy := &study.TidyTable{
		Name:    spec.Name,
		Missing: make(map[core.MetricName]int),
	}
	for _, c := range cols {
		tidy.Metrics = append(tidy.Metrics, core.MetricName(c))
	}
	for _, wr := range wide.Rows {
		pid, err := core.ParseParticipantID(wr[study.IDColumn])
		if err != nil {
			return nil, fmt.Errorf("domain %s: %w", spec.Name, err)
		}
		row := study.TidyRow{
			Participant: pid,
			Factors:     map[string]string{},
			Values:      make(map[core.MetricName]float64, len(cols)),
		}
		for _, c := range cols {
			raw := strings.TrimSpace(wr[c])
			if raw == "" {
				tidy.Missing[core.MetricName(c)]++
				continue
			}
			v, err := parseValue(raw)
			if err != nil {
				return nil, fmt.Errorf("domain %s: %w", spec.Name,
					core.NewBadValueError(c, pid, raw))
			}
			row.Values[core.MetricName(c)] = v
		}
		tidy.Rows = append(tidy.Rows, row)
	}
	return tidy, nil
}

// Unstack re-pivots a tidy table back to its wide slice, inverting
// Reshape for schemas without dummy roles. Column order is metric-major
// over the declared factor level order; participant order is preserved.
func Unstack(t *study.TidyTable, spec study.DomainSpec) (*study.WideTable, error) {
	for _, role := range spec.Schema.Roles {
		if role.Kind == study.RoleDummy {
			return nil, fmt.Errorf("domain %s: cannot unstack schema with dummy role %s", spec.Name, role.Name)
		}
	}

	// Enumerate factor level combinations in declared order.
	combos := factorCombos(spec.Factors)

	wide := &study.WideTable{}
	wide.Headers = append(wide.Headers, study.IDColumn)
	type cellAddr struct {
		col    string
		metric core.MetricName
		combo  map[string]string
	}
	var addrs []cellAddr
	for _, m := range t.Metrics {
		for _, combo := range combos {
			tokens := make([]string, len(spec.Schema.Roles))
			for j, role := range spec.Schema.Roles {
				if role.Kind == study.RoleMetric {
					tokens[j] = string(m)
					continue
				}
				f, _ := factorByName(spec.Factors, role.Name)
				raw, ok := f.RawFor(combo[role.Name])
				if !ok {
					// Pre-recode tables still carry raw tokens.
					raw = combo[role.Name]
				}
				tokens[j] = raw
			}
			col := strings.Join(tokens, spec.Schema.Separator)
			wide.Headers = append(wide.Headers, col)
			addrs = append(addrs, cellAddr{col: col, metric: m, combo: combo})
		}
	}

	for _, pid := range t.Participants() {
		wr := map[string]string{study.IDColumn: string(pid)}
		for _, a := range addrs {
			for _, row := range t.Rows {
				if row.Participant != pid || !factorsMatch(row.Factors, a.combo, spec.Factors) {
					continue
				}
				if v, ok := row.Values[a.metric]; ok {
					wr[a.col] = strconv.FormatFloat(v, 'g', -1, 64)
				}
				break
			}
		}
		wide.Rows = append(wide.Rows, wr)
	}
	return wide, nil
}

// factorsMatch compares a row's factor cells against a combination,
// accepting either labels (post-recode) or raw tokens (pre-recode).
func factorsMatch(got, want map[string]string, factors []study.Factor) bool {
	for name, label := range want {
		g := got[name]
		if g == label {
			continue
		}
		f, ok := factorByName(factors, name)
		if !ok {
			return false
		}
		raw, ok := f.RawFor(label)
		if !ok || g != raw {
			return false
		}
	}
	return true
}

func factorByName(factors []study.Factor, name string) (study.Factor, bool) {
	for _, f := range factors {
		if f.Name == name {
			return f, true
		}
	}
	return study.Factor{}, false
}

// factorCombos enumerates label combinations, outer factor slowest.
func factorCombos(factors []study.Factor) []map[string]string {
	combos := []map[string]string{{}}
	for _, f := range factors {
		var next []map[string]string
		for _, c := range combos {
			for _, l := range f.Levels {
				nc := make(map[string]string, len(c)+1)
				for k, v := range c {
					nc[k] = v
				}
				nc[f.Name] = l.Label
				next = append(next, nc)
			}
		}
		combos = next
	}
	return combos
}

func columnRange(wide *study.WideTable, start, end string) ([]string, error) {
	si := wide.ColumnIndex(start)
	if si < 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrColumnNotFound, start)
	}
	ei := wide.ColumnIndex(end)
	if ei < 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrColumnNotFound, end)
	}
	if ei < si {
		return nil, fmt.Errorf("column range %s..%s is reversed", start, end)
	}
	return wide.Headers[si : ei+1], nil
}

func rowKeyFor(pid core.ParticipantID, roles []study.Role, factors map[string]string) string {
	var sb strings.Builder
	sb.WriteString(string(pid))
	for _, r := range roles {
		if r.Kind == study.RoleFactor {
			sb.WriteByte('\x1f')
			sb.WriteString(factors[r.Name])
		}
	}
	return sb.String()
}

// parseValue accepts both dot and comma decimal separators; the source
// spreadsheet is exported from a locale that uses commas.
func parseValue(raw string) (float64, error) {
	return strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
}
