// pgscache ingests target genotype files (VCF or BGEN) into the genotype
// cache, and can download scoring files with checksum verification.
package main

import (
	"context"
	"flag"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/carbocation/pgscalc/fetch"
	"github.com/carbocation/pgscalc/pipeline"
)

func main() {
	cfg, err := pipeline.FromEnvironment()
	if err != nil {
		log.Fatalln(err)
	}

	var (
		targets    string
		sampleFile string
		fetchURL   string
		fetchDest  string
		fetchSHA   string
	)
	flag.StringVar(&cfg.CacheDir, "cache", cfg.CacheDir, "Path to the genotype cache directory")
	flag.StringVar(&cfg.Sampleset, "sampleset", cfg.Sampleset, "Name of the sampleset these files belong to")
	flag.StringVar(&targets, "targets", "", "Comma-delimited target genotype files (.vcf, .vcf.gz, or .bgen)")
	flag.StringVar(&sampleFile, "samples", "", "File with one sample ID per line, required for BGEN files without an embedded sample block")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "Number of files to ingest concurrently")
	flag.StringVar(&fetchURL, "fetch-url", "", "Optional: URL of a scoring file to download before caching")
	flag.StringVar(&fetchDest, "fetch-dest", "", "Destination path for --fetch-url")
	flag.StringVar(&fetchSHA, "fetch-sha256", "", "Optional expected sha256 of the downloaded scoring file")
	flag.Parse()

	ctx := context.Background()

	if fetchURL != "" {
		if fetchDest == "" {
			flag.PrintDefaults()
			log.Fatalln("Please provide --fetch-dest along with --fetch-url")
		}
		if err := fetch.NewClient().Download(ctx, fetchURL, fetchDest, fetchSHA); err != nil {
			log.Errorln(err)
			os.Exit(pipeline.ExitCode(err))
		}
		log.Infof("Downloaded %s to %s", fetchURL, fetchDest)
	}

	if targets == "" {
		if fetchURL == "" {
			flag.PrintDefaults()
			log.Fatalln("Please provide --targets or --fetch-url")
		}
		return
	}

	if cfg.CacheDir == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --cache")
	}
	if cfg.Sampleset == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --sampleset")
	}

	var sampleIDs []string
	if sampleFile != "" {
		raw, err := os.ReadFile(sampleFile)
		if err != nil {
			log.Fatalln(err)
		}
		for _, line := range strings.Split(string(raw), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				sampleIDs = append(sampleIDs, line)
			}
		}
	}

	paths := strings.Split(targets, ",")
	if err := pipeline.CacheTargets(ctx, cfg, paths, sampleIDs); err != nil {
		log.Errorln(err)
		os.Exit(pipeline.ExitCode(err))
	}

	log.Infof("Cached %d target files into sampleset %s", len(paths), cfg.Sampleset)
}
