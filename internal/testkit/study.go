package testkit

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"physiostat/domain/study"
)

// StudyWide generates a complete synthetic wide table covering every
// domain the study declares, fully balanced, with deterministic values
// for a given seed. Column layout follows the source spreadsheet:
// domains in declaration order, metric-major within each domain.
func StudyWide(participants int, seed int64) *study.WideTable {
	rng := rand.New(rand.NewSource(seed))
	wide := &study.WideTable{Headers: []string{study.IDColumn}}

	demographics := []string{"age", "height", "mass", "vo2max"}
	wide.Headers = append(wide.Headers, demographics...)

	conds := []string{"con", "ecc"}
	type block struct {
		metrics []string
		limbs   []string          // empty for three-token schemas
		levels  []string          // time or dose tokens
		channel map[string]string // trailing dummy token per metric
	}
	blocks := []block{
		{metrics: []string{"glyc", "pyr", "lact"}, levels: []string{"rest", "i15", "i30", "i45", "i60"}},
		{metrics: []string{"ck", "ldh", "cs", "pfk", "hk", "gpx", "cat", "mdh", "sdh", "got", "gpt", "ggt", "alp", "mda", "prot", "trx", "sod"},
			levels: []string{"rest", "post", "p24"}},
		{metrics: []string{"vo2", "vco2", "ve", "peto2", "petco2", "rer"}, levels: []string{"rest", "post", "p24"}},
		{metrics: []string{"mvc", "rtd", "pt", "imp", "rom", "emg", "mmg", "f50", "f100", "fat"},
			limbs: []string{"dom", "nond"}, levels: []string{"pre", "post"}},
		{metrics: []string{"hemol", "mcf"}, levels: []string{"rest", "post", "p24"}},
		{metrics: []string{"smo2", "thb", "hhb", "o2hb"}, levels: []string{"rest", "post"},
			channel: map[string]string{"smo2": "r1", "thb": "r2", "hhb": "r1", "o2hb": "r2"}},
		{metrics: []string{"hemol", "mcf"}, levels: []string{"d0", "d1", "d10", "d100"}},
	}

	var cols []string
	for _, blk := range blocks {
		for _, m := range blk.metrics {
			for _, c := range conds {
				if len(blk.limbs) > 0 {
					for _, l := range blk.limbs {
						for _, t := range blk.levels {
							cols = append(cols, strings.Join([]string{m, c, l, t}, "_"))
						}
					}
					continue
				}
				for _, t := range blk.levels {
					name := strings.Join([]string{m, c, t}, "_")
					if blk.channel != nil {
						name += "_" + blk.channel[m]
					}
					cols = append(cols, name)
				}
			}
		}
	}
	wide.Headers = append(wide.Headers, cols...)

	for p := 0; p < participants; p++ {
		row := map[string]string{study.IDColumn: fmt.Sprintf("p%02d", p+1)}
		row["age"] = strconv.Itoa(20 + rng.Intn(15))
		row["height"] = fmt.Sprintf("%.1f", 160+rng.Float64()*30)
		row["mass"] = fmt.Sprintf("%.1f", 55+rng.Float64()*35)
		row["vo2max"] = fmt.Sprintf("%.1f", 35+rng.Float64()*25)
		for _, col := range cols {
			base := float64(len(strings.SplitN(col, "_", 2)[0])) * 10
			// Oxidative-stress columns drift upward so some omnibus
			// tests come out significant.
			shift := 0.0
			if strings.Contains(col, "_ecc_") {
				shift = 3
			}
			row[col] = strconv.FormatFloat(base+float64(p)*0.25+shift+rng.NormFloat64(), 'f', 4, 64)
		}
		wide.Rows = append(wide.Rows, row)
	}
	return wide
}
