// Package pipeline wires scoring-file parsing, variant matching, dosage
// extraction, and score calculation into one run, and maps failures onto
// process exit codes for the CLIs.
package pipeline

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/carbocation/pgscalc/match"
)

// ScoreFileRef names one scoring file to apply.
type ScoreFileRef struct {
	Accession string
	Path      string
}

// Config is the complete description of one scoring run. Constructors never
// read the environment; FromEnvironment fills defaults at the CLI edge and
// flag values override from there.
type Config struct {
	CacheDir  string `envconfig:"PGSCALC_CACHE_DIR"`
	OutDir    string `envconfig:"PGSCALC_OUT_DIR" default:"."`
	Sampleset string

	ScoreFiles []ScoreFileRef `ignored:"true"`
	Layout     string         `envconfig:"PGSCALC_LAYOUT" default:"PGSCATALOG"`

	MinOverlap        float64 `envconfig:"PGSCALC_MIN_OVERLAP" default:"0.75"`
	MatchAmbiguous    bool    `envconfig:"PGSCALC_MATCH_AMBIGUOUS"`
	MatchMultiallelic bool    `envconfig:"PGSCALC_MATCH_MULTIALLELIC"`

	MinImpute int  `envconfig:"PGSCALC_MIN_IMPUTE" default:"50"`
	Compress  bool `envconfig:"PGSCALC_COMPRESS"`

	// Workers bounds concurrent target-file ingestion.
	Workers int `envconfig:"PGSCALC_WORKERS" default:"4"`
}

// FromEnvironment builds a Config with environment-variable defaults
// applied.
func FromEnvironment() (Config, error) {
	var cfg Config
	if err := envconfig.Process("pgscalc", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot produce a run.
func (c Config) Validate() error {
	if c.CacheDir == "" {
		return fmt.Errorf("pipeline: cache directory is required")
	}
	if c.Sampleset == "" {
		return fmt.Errorf("pipeline: sampleset name is required")
	}
	if len(c.ScoreFiles) == 0 {
		return fmt.Errorf("pipeline: at least one scoring file is required")
	}
	if c.MinOverlap < 0 || c.MinOverlap > 1 {
		return fmt.Errorf("pipeline: min overlap %f is outside [0, 1]", c.MinOverlap)
	}
	return nil
}

func (c Config) matchFlags() match.Flags {
	return match.Flags{
		MatchAmbiguous:    c.MatchAmbiguous,
		MatchMultiallelic: c.MatchMultiallelic,
	}
}
