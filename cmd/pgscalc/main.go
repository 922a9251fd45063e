// pgscalc applies one or more polygenic scoring files to a cached target
// cohort and exports per-sample scores.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/carbocation/pgscalc/pipeline"
	"github.com/carbocation/pgscalc/scorefile"
)

func main() {
	cfg, err := pipeline.FromEnvironment()
	if err != nil {
		log.Fatalln(err)
	}

	var scoreFiles scoreFileFlags

	flag.StringVar(&cfg.CacheDir, "cache", cfg.CacheDir, "Path to the genotype cache directory")
	flag.StringVar(&cfg.OutDir, "out", cfg.OutDir, "Directory for score and match-log output")
	flag.StringVar(&cfg.Sampleset, "sampleset", cfg.Sampleset, "Name of the cached sampleset to score")
	flag.StringVar(&cfg.Layout, "layout", cfg.Layout, fmt.Sprint("Layout of the scoring files, or DETECT to sniff the delimiter. Currently, options include: ", scorefile.LayoutNames()))
	flag.Var(&scoreFiles, "score", "Scoring file as accession=path (repeatable)")
	flag.Float64Var(&cfg.MinOverlap, "min-overlap", cfg.MinOverlap, "Minimum fraction of scoring variants that must match per accession")
	flag.BoolVar(&cfg.MatchAmbiguous, "match-ambiguous", cfg.MatchAmbiguous, "Permit strand-ambiguous (palindromic) variant matches")
	flag.BoolVar(&cfg.MatchMultiallelic, "match-multiallelic", cfg.MatchMultiallelic, "Permit matches against multiallelic target variants")
	flag.IntVar(&cfg.MinImpute, "min-impute", cfg.MinImpute, "Minimum observed calls per variant before mean imputation is allowed")
	flag.BoolVar(&cfg.Compress, "gzip", cfg.Compress, "gzip-compress the output files")
	flag.Parse()

	if cfg.CacheDir == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --cache")
	}
	if cfg.Sampleset == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --sampleset")
	}
	if len(scoreFiles) == 0 {
		flag.PrintDefaults()
		log.Fatalln("Please provide at least one --score accession=path")
	}
	cfg.ScoreFiles = scoreFiles

	if err := pipeline.Run(context.Background(), cfg); err != nil {
		log.Errorln(err)
		os.Exit(pipeline.ExitCode(err))
	}
}

// scoreFileFlags accumulates repeated --score accession=path values.
type scoreFileFlags []pipeline.ScoreFileRef

func (s *scoreFileFlags) String() string {
	parts := make([]string, 0, len(*s))
	for _, ref := range *s {
		parts = append(parts, ref.Accession+"="+ref.Path)
	}
	return strings.Join(parts, ",")
}

func (s *scoreFileFlags) Set(value string) error {
	accession, path, found := strings.Cut(value, "=")
	if !found || accession == "" || path == "" {
		return fmt.Errorf("expected accession=path, got %q", value)
	}
	*s = append(*s, pipeline.ScoreFileRef{Accession: accession, Path: path})
	return nil
}
