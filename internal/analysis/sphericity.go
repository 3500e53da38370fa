package analysis

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Sphericity holds Mauchly's test and the epsilon corrections for one
// within-subject effect.
type Sphericity struct {
	W         float64 // Mauchly's W
	ChiSquare float64
	DF        float64
	P         float64
	EpsilonGG float64 // Greenhouse-Geisser
	EpsilonHF float64 // Huynh-Feldt, clipped to 1
}

// Violated reports whether the sphericity assumption is rejected at the
// conventional .05 level, which triggers the Greenhouse-Geisser
// correction of the ANOVA degrees of freedom.
func (s Sphericity) Violated() bool {
	return !math.IsNaN(s.P) && s.P < 0.05
}

// checkSphericity runs Mauchly's test on per-participant scores for one
// within effect. scores is n x k (participants x effect cells); contrast
// is the (k-1) x k orthonormal contrast matrix of the effect (a Kronecker
// product for interactions). n is the participant count.
func checkSphericity(scores [][]float64, contrast *mat.Dense) Sphericity {
	n := len(scores)
	c, k := contrast.Dims()

	// Project the scores through the contrast: D = Y C^T, n x c.
	y := mat.NewDense(n, k, nil)
	for i, row := range scores {
		y.SetRow(i, row)
	}
	var d mat.Dense
	d.Mul(y, contrast.T())

	// Sample covariance of the projected scores.
	cov := mat.NewSymDense(c, nil)
	means := make([]float64, c)
	for j := 0; j < c; j++ {
		for i := 0; i < n; i++ {
			means[j] += d.At(i, j)
		}
		means[j] /= float64(n)
	}
	for a := 0; a < c; a++ {
		for b := a; b < c; b++ {
			var s float64
			for i := 0; i < n; i++ {
				s += (d.At(i, a) - means[a]) * (d.At(i, b) - means[b])
			}
			cov.SetSym(a, b, s/float64(n-1))
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(cov, false) {
		return Sphericity{W: math.NaN(), P: math.NaN(), EpsilonGG: 1, EpsilonHF: 1}
	}
	lambda := eig.Values(nil)

	var sum, sumSq, logSum float64
	degenerate := false
	for _, l := range lambda {
		if l < 1e-12 {
			degenerate = true
			l = 1e-12
		}
		sum += l
		sumSq += l * l
		logSum += math.Log(l)
	}

	fc := float64(c)
	epsGG := (sum * sum) / (fc * sumSq)
	if epsGG < 1/fc {
		epsGG = 1 / fc
	}
	if epsGG > 1 {
		epsGG = 1
	}
	fn := float64(n)
	epsHF := (fn*fc*epsGG - 2) / (fc * (fn - 1 - fc*epsGG))
	if epsHF > 1 || math.IsNaN(epsHF) {
		epsHF = 1
	}
	if epsHF < epsGG {
		epsHF = epsGG
	}

	sph := Sphericity{EpsilonGG: epsGG, EpsilonHF: epsHF}

	dfChi := fc*(fc+1)/2 - 1
	if dfChi <= 0 || n <= c {
		// With c == 1 sphericity holds trivially; with n <= c the
		// covariance is singular and the test is undefined.
		sph.W = math.NaN()
		sph.P = math.NaN()
		return sph
	}

	logW := logSum - fc*math.Log(sum/fc)
	w := math.Exp(logW)
	if degenerate {
		w = 0
	}
	mult := 1 - (2*fc*fc+fc+2)/(6*fc*(fn-1))
	chi := -(fn - 1) * mult * logW
	if chi < 0 {
		chi = 0
	}
	sph.W = w
	sph.ChiSquare = chi
	sph.DF = dfChi
	sph.P = 1 - distuv.ChiSquared{K: dfChi}.CDF(chi)
	return sph
}

// helmert returns the (k-1) x k orthonormal Helmert contrast matrix.
// Each row is orthogonal to the unit vector, so the rows span the
// within-effect subspace.
func helmert(k int) *mat.Dense {
	m := mat.NewDense(k-1, k, nil)
	for i := 1; i < k; i++ {
		norm := math.Sqrt(float64(i * (i + 1)))
		for j := 0; j < i; j++ {
			m.Set(i-1, j, 1/norm)
		}
		m.Set(i-1, i, -float64(i)/norm)
	}
	return m
}

// kronecker returns the Kronecker product of two contrast matrices,
// used to build the interaction contrast.
func kronecker(a, b *mat.Dense) *mat.Dense {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	out := mat.NewDense(ar*br, ac*bc, nil)
	for i := 0; i < ar; i++ {
		for j := 0; j < ac; j++ {
			v := a.At(i, j)
			for p := 0; p < br; p++ {
				for q := 0; q < bc; q++ {
					out.Set(i*br+p, j*bc+q, v*b.At(p, q))
				}
			}
		}
	}
	return out
}
