package analysis

import (
	"math"

	montstats "github.com/montanaflynn/stats"

	"physiostat/domain/core"
)

// Summary holds the descriptive screen for one metric. It appears in the
// report appendix and informs the declared paired-test policy, without
// ever overriding it at fit time.
type Summary struct {
	Metric   core.MetricName
	N        int
	Mean     float64
	SD       float64
	Min      float64
	Max      float64
	Median   float64
	Q25      float64
	Q75      float64
	Skewness float64
	Kurtosis float64 // excess kurtosis
	// LooksNormal is a coarse moment-based screen, not a formal test.
	LooksNormal bool
}

// Describe computes the descriptive summary of one metric's values.
func Describe(metric core.MetricName, data []float64) Summary {
	s := Summary{Metric: metric, N: len(data)}
	if len(data) == 0 {
		return s
	}

	s.Mean, _ = montstats.Mean(data)
	s.SD, _ = montstats.StandardDeviationSample(data)
	s.Min, _ = montstats.Min(data)
	s.Max, _ = montstats.Max(data)
	s.Median, _ = montstats.Median(data)
	s.Q25, _ = montstats.Percentile(data, 25)
	s.Q75, _ = montstats.Percentile(data, 75)

	s.Skewness = moment(data, s.Mean, s.SD, 3)
	s.Kurtosis = moment(data, s.Mean, s.SD, 4) - 3
	s.LooksNormal = math.Abs(s.Skewness) < 2 && math.Abs(s.Kurtosis) < 7
	return s
}

func moment(data []float64, mean, sd float64, order float64) float64 {
	if sd <= 0 || len(data) < 2 {
		return 0
	}
	var sum float64
	for _, v := range data {
		sum += math.Pow((v-mean)/sd, order)
	}
	return sum / float64(len(data))
}
