package reshape

import (
	"fmt"

	"physiostat/domain/core"
	"physiostat/domain/study"
)

// Recode maps the raw factor tokens of a tidy table to their declared
// ordered labels. Level order is the declared order regardless of input
// row order.
//
// Policy for undeclared tokens: strict mode fails the recode with
// ErrUnmappedCategory; lenient mode assigns the empty label (a null
// category). The workflow defaults to strict, because the tidying stage
// is fail-fast and a silent null category would corrupt the row-count
// invariant downstream.
func Recode(t *study.TidyTable, factors []study.Factor, strict bool) error {
	for i := range t.Rows {
		for _, f := range factors {
			raw, present := t.Rows[i].Factors[f.Name]
			if !present {
				return fmt.Errorf("table %s row %d has no %s token", t.Name, i, f.Name)
			}
			label, ok := f.LabelFor(raw)
			if !ok {
				// A label already applied by an earlier recode pass is
				// left untouched, keeping Recode idempotent.
				if f.LevelIndex(raw) >= 0 {
					continue
				}
				if strict {
					return fmt.Errorf("table %s: %w", t.Name,
						core.NewUnmappedCategoryError(f.Name, raw))
				}
				label = ""
			}
			t.Rows[i].Factors[f.Name] = label
		}
	}
	t.Factors = factors
	return nil
}
