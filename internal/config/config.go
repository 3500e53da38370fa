package config

import (
	"os"
	"strconv"

	"physiostat/internal/errors"
)

// Config represents the complete workflow configuration
type Config struct {
	Paths    PathConfig
	Analysis AnalysisConfig
}

// PathConfig holds file system paths
type PathConfig struct {
	// InputFile is the wide source spreadsheet (.xlsx or .csv).
	InputFile string
	// BundleFile is the sqlite file carrying tidy tables between stages.
	BundleFile string
	// ReportDir receives the markdown/HTML report of the statistics stage.
	ReportDir string
}

// AnalysisConfig holds statistics-stage settings
type AnalysisConfig struct {
	// StrictRecode fails on undeclared factor tokens. Lenient mode
	// null-categorizes them and exists for exploratory runs only.
	StrictRecode bool
	// Workers bounds the parallel per-metric fits; 0 means NumCPU.
	Workers int
	// Alpha is the significance threshold for omnibus gating and
	// post-hoc filtering.
	Alpha float64
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := &Config{
		Paths: PathConfig{
			InputFile:  getEnv("PHYSIOSTAT_INPUT", "data/study.xlsx"),
			BundleFile: getEnv("PHYSIOSTAT_BUNDLE", "data/tidy.db"),
			ReportDir:  getEnv("PHYSIOSTAT_REPORT_DIR", "out"),
		},
		Analysis: AnalysisConfig{
			StrictRecode: getEnvBool("PHYSIOSTAT_STRICT_RECODE", true),
			Workers:      getEnvInt("PHYSIOSTAT_WORKERS", 0),
			Alpha:        getEnvFloat("PHYSIOSTAT_ALPHA", 0.05),
		},
	}

	if cfg.Analysis.Alpha <= 0 || cfg.Analysis.Alpha >= 1 {
		return nil, errors.New("CONFIG_INVALID", "PHYSIOSTAT_ALPHA must be in (0,1)")
	}
	if cfg.Analysis.Workers < 0 {
		return nil, errors.New("CONFIG_INVALID", "PHYSIOSTAT_WORKERS must be >= 0")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
