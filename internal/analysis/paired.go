package analysis

import (
	"fmt"
	"math"
	"sort"

	montstats "github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"physiostat/domain/core"
	"physiostat/domain/study"
)

// PairedFit mirrors ModelFit for single two-level within-subject
// factors, with a t or W statistic in place of F.
type PairedFit struct {
	Metric     core.MetricName
	N          int
	Test       study.TestKind
	Statistic  float64 // t for the parametric test, W+ for Wilcoxon
	DF         float64 // t only; NaN for Wilcoxon
	P          float64
	Estimate   float64 // mean difference (t) or median difference (Wilcoxon)
	CILow      float64 // 95% CI of the mean difference; NaN for Wilcoxon
	CIHigh     float64
	EffectSize float64 // Hedge's g on d_z, or matched-pairs rank-biserial r
	EffectName string
}

// TestName renders the test for reporting.
func (p *PairedFit) TestName() string {
	if p.Test == study.TestWilcoxon {
		return "Wilcoxon signed-rank"
	}
	return "paired t"
}

// FitPaired compares the two cells of a one-factor two-level design.
// The test choice is the caller's declared policy, never auto-detected.
func FitPaired(d *Design, test study.TestKind) (*PairedFit, error) {
	if d.TwoWay() || d.A() != 2 {
		return nil, core.NewModelFitError(d.Metric,
			fmt.Errorf("paired comparison requires a single two-level factor, got %dx%d", d.A(), d.B()))
	}
	x, y := d.Column(0), d.Column(1)
	if test == study.TestWilcoxon {
		return wilcoxonSignedRank(d.Metric, x, y)
	}
	return pairedT(d.Metric, x, y)
}

func pairedT(metric core.MetricName, x, y []float64) (*PairedFit, error) {
	n := len(x)
	diffs := make([]float64, n)
	for i := range x {
		diffs[i] = x[i] - y[i]
	}
	mean, _ := montstats.Mean(diffs)
	sd, err := montstats.StandardDeviationSample(diffs)
	if err != nil || sd <= 0 {
		return nil, core.NewModelFitError(metric, fmt.Errorf("paired differences have zero variance"))
	}

	fn := float64(n)
	se := sd / math.Sqrt(fn)
	t := mean / se
	df := fn - 1
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * (1 - dist.CDF(math.Abs(t)))
	tcrit := dist.Quantile(0.975)

	dz := mean / sd
	return &PairedFit{
		Metric:     metric,
		N:          n,
		Test:       study.TestPairedT,
		Statistic:  t,
		DF:         df,
		P:          p,
		Estimate:   mean,
		CILow:      mean - tcrit*se,
		CIHigh:     mean + tcrit*se,
		EffectSize: HedgesG(dz, df),
		EffectName: "Hedge's g",
	}, nil
}

// wilcoxonSignedRank uses the normal approximation with tie and
// continuity corrections. Zero differences are dropped before ranking.
func wilcoxonSignedRank(metric core.MetricName, x, y []float64) (*PairedFit, error) {
	var diffs []float64
	for i := range x {
		if d := x[i] - y[i]; d != 0 {
			diffs = append(diffs, d)
		}
	}
	n := len(diffs)
	if n < 2 {
		return nil, core.NewModelFitError(metric, fmt.Errorf("too few nonzero paired differences (%d)", n))
	}

	type rankedDiff struct {
		abs  float64
		sign float64
		rank float64
	}
	rd := make([]rankedDiff, n)
	for i, d := range diffs {
		rd[i] = rankedDiff{abs: math.Abs(d), sign: math.Copysign(1, d)}
	}
	sort.Slice(rd, func(i, j int) bool { return rd[i].abs < rd[j].abs })

	// Average ranks across ties, accumulating the tie correction.
	var tieCorrection float64
	for i := 0; i < n; {
		j := i
		for j < n && rd[j].abs == rd[i].abs {
			j++
		}
		avg := float64(i+j+1) / 2 // mean of 1-based ranks i+1..j
		for k := i; k < j; k++ {
			rd[k].rank = avg
		}
		if t := float64(j - i); t > 1 {
			tieCorrection += t*t*t - t
		}
		i = j
	}

	var wPlus, wMinus float64
	for _, r := range rd {
		if r.sign > 0 {
			wPlus += r.rank
		} else {
			wMinus += r.rank
		}
	}

	fn := float64(n)
	mu := fn * (fn + 1) / 4
	sigma2 := fn*(fn+1)*(2*fn+1)/24 - tieCorrection/48
	if sigma2 <= 0 {
		return nil, core.NewModelFitError(metric, fmt.Errorf("degenerate rank variance"))
	}
	sigma := math.Sqrt(sigma2)

	// Continuity correction toward the mean.
	z := (wPlus - mu)
	if z > 0 {
		z -= 0.5
	} else if z < 0 {
		z += 0.5
	}
	z /= sigma
	p := 2 * (1 - distuv.UnitNormal.CDF(math.Abs(z)))
	if p > 1 {
		p = 1
	}

	med, _ := montstats.Median(diffs)
	return &PairedFit{
		Metric:     metric,
		N:          len(x),
		Test:       study.TestWilcoxon,
		Statistic:  wPlus,
		DF:         math.NaN(),
		P:          p,
		Estimate:   med,
		CILow:      math.NaN(),
		CIHigh:     math.NaN(),
		EffectSize: (wPlus - wMinus) / (wPlus + wMinus),
		EffectName: "rank-biserial r",
	}, nil
}
