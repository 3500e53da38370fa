package analysis

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"physiostat/domain/core"
)

// Contrast is one pairwise comparison between two factor cells.
type Contrast struct {
	Metric    core.MetricName
	Label     string // "cell1 - cell2", cells in declared order
	Estimate  float64
	SE        float64
	T         float64
	DF        float64
	PRaw      float64
	PAdjusted float64
	G         float64 // Hedge's g, bias-corrected with df = n-1
	Stars     string
}

// Adjustment selects the multiple-comparison correction.
type Adjustment int

const (
	AdjustSidak Adjustment = iota
	AdjustBonferroni
)

func adjustP(p float64, m int, adj Adjustment) float64 {
	switch adj {
	case AdjustBonferroni:
		return math.Min(1, p*float64(m))
	default:
		return 1 - math.Pow(1-p, float64(m))
	}
}

// PostHoc enumerates every pairwise cell contrast of a design as paired
// comparisons, adjusts the p-values for multiplicity, and standardizes
// each estimate against the pooled residual SD of the fit's cell-means
// model. Hedge's bias correction uses df = n-1, the paired-design
// convention.
func PostHoc(d *Design, fit *ModelFit, adj Adjustment) ([]Contrast, error) {
	cells := d.Cells()
	n := d.N()
	if fit.PooledSD <= 0 {
		return nil, core.NewModelFitError(d.Metric, fmt.Errorf("pooled SD is zero"))
	}

	m := cells * (cells - 1) / 2
	out := make([]Contrast, 0, m)
	fn := float64(n)
	df := fn - 1
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}

	for c1 := 0; c1 < cells; c1++ {
		for c2 := c1 + 1; c2 < cells; c2++ {
			var mean, ss float64
			for s := 0; s < n; s++ {
				mean += d.Y[s][c1] - d.Y[s][c2]
			}
			mean /= fn
			for s := 0; s < n; s++ {
				dev := d.Y[s][c1] - d.Y[s][c2] - mean
				ss += dev * dev
			}
			sd := math.Sqrt(ss / (fn - 1))

			var t, p float64
			if sd == 0 {
				// Identical columns: a zero difference with zero spread
				// carries no evidence either way.
				t, p = 0, 1
				if mean != 0 {
					t = math.Inf(sign(mean))
					p = 0
				}
			} else {
				t = mean / (sd / math.Sqrt(fn))
				p = 2 * (1 - dist.CDF(math.Abs(t)))
			}
			padj := adjustP(p, m, adj)

			out = append(out, Contrast{
				Metric:    d.Metric,
				Label:     d.CellLabel(c1) + " - " + d.CellLabel(c2),
				Estimate:  mean,
				SE:        sd / math.Sqrt(fn),
				T:         t,
				DF:        df,
				PRaw:      p,
				PAdjusted: padj,
				G:         HedgesG(mean/fit.PooledSD, df),
				Stars:     Stars(padj),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// FilterSignificant keeps contrasts with adjusted p below alpha, sorted
// lexicographically by label. Applying it twice is a no-op.
func FilterSignificant(contrasts []Contrast, alpha float64) []Contrast {
	out := make([]Contrast, 0, len(contrasts))
	for _, c := range contrasts {
		if c.PAdjusted < alpha {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func sign(x float64) int {
	if x < 0 {
		return -1
	}
	return 1
}
