package study

import "physiostat/domain/core"

// RoleKind classifies one token position in an encoded column name.
type RoleKind int

const (
	// RoleMetric marks the token that names the measured variable.
	RoleMetric RoleKind = iota
	// RoleFactor marks a token recoded into an ordered categorical factor.
	RoleFactor
	// RoleDummy marks a token that must satisfy the arity rule but is
	// dropped from the output (e.g. a replicate counter).
	RoleDummy
)

// Role is one semantic position of a column-name schema.
type Role struct {
	Name string
	Kind RoleKind
}

// ColumnSchema declares how wide column names tokenize. Every selected
// column must split into exactly len(Roles) fields on Separator.
type ColumnSchema struct {
	Separator string
	Roles     []Role
}

// TestKind selects the paired-comparison test for a metric. The choice is
// a declared policy, decided from prior exploratory diagnostics, never
// auto-detected by the engine.
type TestKind int

const (
	TestPairedT TestKind = iota
	TestWilcoxon
)

// DomainSpec declares how one measurement domain is carved out of the
// wide table and reshaped.
type DomainSpec struct {
	Name     core.TableName
	StartCol string // inclusive
	EndCol   string // inclusive
	Schema   ColumnSchema
	Factors  []Factor // recode tables, one per RoleFactor token, declared order

	// Plain is set for domains copied column-for-column with no reshape
	// (demographics). StartCol/EndCol still bound the column range.
	Plain bool
}

// AnalysisSpec declares how a domain table is fitted.
type AnalysisSpec struct {
	// Title heads the report section; defaults to the table name.
	Title string
	Table core.TableName
	// WithinFactors are the repeated-measures factors, outer first
	// (condition, then timepoint/dose). One two-level factor means a
	// paired design.
	WithinFactors []string
	// SplitBy partitions the table before fitting (strength is fitted
	// per limb). Empty means no split.
	SplitBy string
	// Where narrows the table to fixed factor levels before fitting
	// (e.g. the post-exercise condition comparison).
	Where map[string]string
	// Tests overrides the paired test per metric; absent metrics use
	// TestPairedT.
	Tests map[core.MetricName]TestKind
}

// SectionTitle resolves the report heading.
func (a AnalysisSpec) SectionTitle() string {
	if a.Title != "" {
		return a.Title
	}
	return string(a.Table)
}

// IDColumn is the participant identifier column of the wide table.
const IDColumn = "id"

// ConditionFactor returns the experimental condition factor. Display
// order is fixed: Control first, then the oxidative-stress condition.
func ConditionFactor() Factor {
	return Factor{
		Name: "condition",
		Levels: []FactorLevel{
			{Raw: "con", Label: "Control"},
			{Raw: "ecc", Label: "Oxidative stress"},
		},
	}
}

func timeFactor(levels ...FactorLevel) Factor {
	return Factor{Name: "time", Levels: levels}
}

// Domains declares every measurement domain of the study in the order
// the source spreadsheet lays them out.
func Domains() []DomainSpec {
	sep := "_"
	metricConditionTime := ColumnSchema{
		Separator: sep,
		Roles: []Role{
			{Name: "metric", Kind: RoleMetric},
			{Name: "condition", Kind: RoleFactor},
			{Name: "time", Kind: RoleFactor},
		},
	}

	return []DomainSpec{
		{
			Name:     "demographics",
			StartCol: "age",
			EndCol:   "vo2max",
			Plain:    true,
		},
		{
			Name:     "glycolysis",
			StartCol: "glyc_con_rest",
			EndCol:   "lact_ecc_i60",
			Schema:   metricConditionTime,
			Factors: []Factor{
				ConditionFactor(),
				timeFactor(
					FactorLevel{Raw: "rest", Label: "Baseline"},
					FactorLevel{Raw: "i15", Label: "15 min"},
					FactorLevel{Raw: "i30", Label: "30 min"},
					FactorLevel{Raw: "i45", Label: "45 min"},
					FactorLevel{Raw: "i60", Label: "60 min"},
				),
			},
		},
		{
			Name:     "enzymes",
			StartCol: "ck_con_rest",
			EndCol:   "sod_ecc_p24",
			Schema:   metricConditionTime,
			Factors: []Factor{
				ConditionFactor(),
				timeFactor(
					FactorLevel{Raw: "rest", Label: "Baseline"},
					FactorLevel{Raw: "post", Label: "Post"},
					FactorLevel{Raw: "p24", Label: "24 h"},
				),
			},
		},
		{
			Name:     "gasexchange",
			StartCol: "vo2_con_rest",
			EndCol:   "rer_ecc_p24",
			Schema:   metricConditionTime,
			Factors: []Factor{
				ConditionFactor(),
				timeFactor(
					FactorLevel{Raw: "rest", Label: "Baseline"},
					FactorLevel{Raw: "post", Label: "Post"},
					FactorLevel{Raw: "p24", Label: "24 h"},
				),
			},
		},
		{
			Name:     "strength",
			StartCol: "mvc_con_dom_pre",
			EndCol:   "fat_ecc_nond_post",
			Schema: ColumnSchema{
				Separator: sep,
				Roles: []Role{
					{Name: "metric", Kind: RoleMetric},
					{Name: "condition", Kind: RoleFactor},
					{Name: "limb", Kind: RoleFactor},
					{Name: "time", Kind: RoleFactor},
				},
			},
			Factors: []Factor{
				ConditionFactor(),
				{
					Name: "limb",
					Levels: []FactorLevel{
						{Raw: "dom", Label: "Dominant"},
						{Raw: "nond", Label: "Non-dominant"},
					},
				},
				timeFactor(
					FactorLevel{Raw: "pre", Label: "Pre"},
					FactorLevel{Raw: "post", Label: "Post"},
				),
			},
		},
		{
			Name:     "fragility",
			StartCol: "hemol_con_rest",
			EndCol:   "mcf_ecc_p24",
			Schema:   metricConditionTime,
			Factors: []Factor{
				ConditionFactor(),
				timeFactor(
					FactorLevel{Raw: "rest", Label: "Baseline"},
					FactorLevel{Raw: "post", Label: "Post"},
					FactorLevel{Raw: "p24", Label: "24 h"},
				),
			},
		},
		{
			Name:     "nirs",
			StartCol: "smo2_con_rest_r1",
			EndCol:   "o2hb_ecc_post_r2",
			Schema: ColumnSchema{
				Separator: sep,
				Roles: []Role{
					{Name: "metric", Kind: RoleMetric},
					{Name: "condition", Kind: RoleFactor},
					{Name: "time", Kind: RoleFactor},
					{Name: "rep", Kind: RoleDummy},
				},
			},
			Factors: []Factor{
				ConditionFactor(),
				timeFactor(
					FactorLevel{Raw: "rest", Label: "Baseline"},
					FactorLevel{Raw: "post", Label: "Post"},
				),
			},
		},
		{
			Name:     "dose",
			StartCol: "hemol_con_d0",
			EndCol:   "mcf_ecc_d100",
			Schema: ColumnSchema{
				Separator: sep,
				Roles: []Role{
					{Name: "metric", Kind: RoleMetric},
					{Name: "condition", Kind: RoleFactor},
					{Name: "dose", Kind: RoleFactor},
				},
			},
			Factors: []Factor{
				ConditionFactor(),
				{
					Name: "dose",
					Levels: []FactorLevel{
						{Raw: "d0", Label: "0 mM"},
						{Raw: "d1", Label: "1 mM"},
						{Raw: "d10", Label: "10 mM"},
						{Raw: "d100", Label: "100 mM"},
					},
				},
			},
		},
	}
}

// Analyses declares the fitting plan for every domain table that enters
// the statistics stage. Demographics is descriptives-only and absent.
func Analyses() []AnalysisSpec {
	return []AnalysisSpec{
		{Table: "glycolysis", WithinFactors: []string{"condition", "time"}},
		{Table: "enzymes", WithinFactors: []string{"condition", "time"}},
		{Table: "gasexchange", WithinFactors: []string{"condition", "time"}},
		{Table: "strength", WithinFactors: []string{"condition", "time"}, SplitBy: "limb"},
		{Table: "fragility", WithinFactors: []string{"condition", "time"}},
		{
			Title:         "fragility: post-exercise condition effect",
			Table:         "fragility",
			WithinFactors: []string{"condition"},
			Where:         map[string]string{"time": "Post"},
			// Hemolysis percentages are bounded and right-skewed; the
			// exploratory diagnostics marked them nonparametric.
			Tests: map[core.MetricName]TestKind{"hemol": TestWilcoxon},
		},
		{Table: "nirs", WithinFactors: []string{"condition", "time"}},
		{Table: "dose", WithinFactors: []string{"condition", "dose"}},
	}
}

// LabelsFor returns the ordered display labels of a factor within a
// domain, computed on demand from the declaration. Nothing downstream
// mutates a shared label table.
func LabelsFor(domain core.TableName, factor string) []string {
	for _, d := range Domains() {
		if d.Name != domain {
			continue
		}
		for _, f := range d.Factors {
			if f.Name == factor {
				return f.Labels()
			}
		}
	}
	return nil
}
