// pgsancestry assigns scored samples to their most-similar reference
// population and re-normalizes exported scores against that population.
package main

import (
	"context"
	"flag"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/carbocation/pgscalc/ancestry"
	"github.com/carbocation/pgscalc/pipeline"
)

func main() {
	var (
		cfg     pipeline.AdjustConfig
		method  string
		robust  bool
		methods string
	)
	flag.StringVar(&cfg.OutDir, "out", ".", "Directory holding the exported scores; adjusted outputs land here too")
	flag.StringVar(&cfg.Sampleset, "sampleset", "", "Name of the scored target sampleset")
	flag.StringVar(&cfg.RefSampleset, "ref-sampleset", "reference", "Name of the scored reference sampleset")
	flag.StringVar(&cfg.RefCoord, "ref-pca", "", "Reference panel PCA coordinates (tab-delimited, sample_id + PC columns)")
	flag.StringVar(&cfg.RefPops, "ref-pop", "", "Reference population labels (sample_id, population)")
	flag.StringVar(&cfg.RefRelated, "ref-related", "", "Optional: sample IDs to exclude from model training")
	flag.StringVar(&cfg.TargetCoord, "target-pca", "", "Target sample PCA coordinates projected into the reference space")
	flag.StringVar(&method, "method", "mahalanobis", "Similarity method: mahalanobis or randomforest")
	flag.BoolVar(&robust, "robust", false, "Use the minimum-covariance-determinant estimator for Mahalanobis distances")
	flag.IntVar(&cfg.NPCs, "npcs", 0, "Number of principal components to use (0 = all available)")
	flag.Float64Var(&cfg.Threshold, "threshold", 0, "Low-confidence threshold (0 = method default)")
	flag.Int64Var(&cfg.Seed, "seed", 44, "Random seed for the forest and robust estimators")
	flag.StringVar(&methods, "normalize", "empirical,mean,meanvar", "Comma-delimited normalization strategies: empirical, mean, meanvar")
	flag.BoolVar(&cfg.StandardizePCs, "standardize-pcs", false, "Standardize PC columns before regression")
	flag.BoolVar(&cfg.FullLikelihood, "full-likelihood", false, "Jointly re-optimize the mean+variance fit under the full likelihood")
	flag.IntVar(&cfg.Workers, "workers", 4, "Number of accessions to fit concurrently")
	flag.Parse()

	if cfg.Sampleset == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --sampleset")
	}
	if cfg.RefCoord == "" || cfg.RefPops == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --ref-pca and --ref-pop")
	}
	if cfg.TargetCoord == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --target-pca")
	}

	switch method {
	case "mahalanobis":
		cfg.Method = ancestry.Mahalanobis
	case "randomforest":
		cfg.Method = ancestry.RandomForest
	default:
		log.Fatalf("Unrecognized --method %q; expected mahalanobis or randomforest", method)
	}
	if robust {
		cfg.Estimator = ancestry.MinCovDet
	}

	for _, name := range strings.Split(methods, ",") {
		switch strings.TrimSpace(name) {
		case "empirical":
			cfg.Methods = append(cfg.Methods, ancestry.EmpiricalNorm)
		case "mean":
			cfg.Methods = append(cfg.Methods, ancestry.MeanNorm)
		case "meanvar":
			cfg.Methods = append(cfg.Methods, ancestry.MeanVarNorm)
		case "":
		default:
			log.Fatalf("Unrecognized --normalize strategy %q", name)
		}
	}
	if len(cfg.Methods) == 0 {
		flag.PrintDefaults()
		log.Fatalln("Please provide at least one --normalize strategy")
	}

	if err := pipeline.RunAdjust(context.Background(), cfg); err != nil {
		log.Errorln(err)
		os.Exit(pipeline.ExitCode(err))
	}
}
