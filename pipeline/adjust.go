package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/carbocation/pfx"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	pgscalc "github.com/carbocation/pgscalc"
	"github.com/carbocation/pgscalc/ancestry"
)

// AdjustConfig describes one ancestry-adjustment run over previously
// exported scores.
type AdjustConfig struct {
	// OutDir holds the score exports and receives the adjusted outputs.
	OutDir string
	// Sampleset and RefSampleset name the scored target and reference
	// cohorts under OutDir.
	Sampleset    string
	RefSampleset string

	RefCoord    string
	RefPops     string
	RefRelated  string
	TargetCoord string

	Method    ancestry.Method
	Estimator ancestry.Estimator
	NPCs      int
	Threshold float64
	Seed      int64

	Methods        []ancestry.NormMethod
	StandardizePCs bool
	FullLikelihood bool

	// Workers bounds concurrent per-accession normalization fits.
	Workers int
}

// RunAdjust assigns every sample to its most-similar reference population
// and re-normalizes each accession's scores against that population,
// fanning the per-accession fits out across workers.
func RunAdjust(ctx context.Context, cfg AdjustConfig) error {
	ref := ancestry.NewReferencePCA(cfg.RefCoord, cfg.RefPops, cfg.RefRelated)
	target := ancestry.NewTargetPCA(cfg.TargetCoord)

	assignments, info, err := ancestry.Assign(ref, target, ancestry.AssignConfig{
		Method:             cfg.Method,
		Estimator:          cfg.Estimator,
		NPCs:               cfg.NPCs,
		Threshold:          cfg.Threshold,
		TrainUnrelatedOnly: cfg.RefRelated != "",
		Seed:               cfg.Seed,
	})
	if err != nil {
		return err
	}

	refSums, err := readScoreSums(cfg.OutDir, cfg.RefSampleset)
	if err != nil {
		return err
	}
	targetSums, err := readScoreSums(cfg.OutDir, cfg.Sampleset)
	if err != nil {
		return err
	}

	accessions := make(map[string]bool)
	for accession := range refSums {
		accessions[accession] = true
	}
	for accession := range targetSums {
		accessions[accession] = true
	}
	if len(accessions) == 0 {
		return pfx.Err(fmt.Errorf("pipeline: no exported scores found under %s", cfg.OutDir))
	}

	var sorted []string
	for accession := range accessions {
		sorted = append(sorted, accession)
	}
	sort.Strings(sorted)

	normCfg := ancestry.NormalizeConfig{
		Methods:        cfg.Methods,
		StandardizePCs: cfg.StandardizePCs,
		FullLikelihood: cfg.FullLikelihood,
	}

	var (
		mu       sync.Mutex
		adjusted []ancestry.AdjustedScore
		models   = make(map[string]ancestry.AccessionModel)
		skipped  []ancestry.SkippedAccession
	)

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Workers > 0 {
		g.SetLimit(cfg.Workers)
	}

	for _, accession := range sorted {
		accession := accession
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			inputs := scoreInputs(accession, assignments, refSums[accession], targetSums[accession])
			out, fits, skip, err := ancestry.Normalize(inputs, normCfg)
			if err != nil {
				return fmt.Errorf("normalizing %s: %w", accession, err)
			}

			mu.Lock()
			defer mu.Unlock()
			if skip != nil {
				skipped = append(skipped, *skip)
				return nil
			}
			adjusted = append(adjusted, out...)
			model := ancestry.AccessionModel{}
			if fit, exists := fits[ancestry.MeanNorm]; exists {
				fit := fit
				model.MeanFit = &fit
			}
			if fit, exists := fits[ancestry.MeanVarNorm]; exists {
				fit := fit
				model.MeanVarFit = &fit
			}
			models[accession] = model

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// A stable export order regardless of fit completion order.
	sort.Slice(adjusted, func(i, j int) bool {
		if adjusted[i].Accession != adjusted[j].Accession {
			return adjusted[i].Accession < adjusted[j].Accession
		}
		return adjusted[i].SampleID < adjusted[j].SampleID
	})

	if err := ancestry.WriteSimilarity(cfg.OutDir, cfg.Sampleset, assignments); err != nil {
		return err
	}
	if err := ancestry.WriteAdjustedScores(cfg.OutDir, cfg.Sampleset, adjusted); err != nil {
		return err
	}
	meta := ancestry.ModelMetadata{
		Sampleset:  cfg.Sampleset,
		Similarity: *info,
		Accessions: models,
		Skipped:    skipped,
	}
	if err := ancestry.WriteModelMetadata(cfg.OutDir, cfg.Sampleset, meta); err != nil {
		return err
	}

	log.Infof("Adjusted %d accessions (%d skipped) over %d samples", len(models), len(skipped), len(assignments))

	return nil
}

// scoreInputs joins one accession's raw SUMs onto the similarity
// assignments. Samples without a score for this accession are dropped.
func scoreInputs(accession string, assignments []ancestry.Assignment, refSums, targetSums map[string]float64) []ancestry.ScoreInput {
	var out []ancestry.ScoreInput
	for _, a := range assignments {
		sums := targetSums
		if a.IsReference {
			sums = refSums
		}
		sum, exists := sums[a.SampleID]
		if !exists {
			continue
		}
		out = append(out, ancestry.ScoreInput{
			Assignment: a,
			Accession:  accession,
			Sum:        sum,
		})
	}
	return out
}

// readScoreSums loads every accession's exported score table under one
// sampleset directory, returning accession -> sample -> SUM.
func readScoreSums(outDir, sampleset string) (map[string]map[string]float64, error) {
	root := filepath.Join(outDir, sampleset)
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, pfx.Err(fmt.Errorf("pipeline: no score exports for sampleset %s under %s", sampleset, outDir))
	} else if err != nil {
		return nil, pfx.Err(err)
	}

	out := make(map[string]map[string]float64)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		path := filepath.Join(root, entry.Name(), "scores.txt")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path += ".gz"
			if _, err := os.Stat(path); os.IsNotExist(err) {
				continue
			}
		}

		sums, err := readScoreFile(path)
		if err != nil {
			return nil, err
		}
		out[entry.Name()] = sums
	}

	return out, nil
}

func readScoreFile(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	fd, err := pgscalc.MaybeDecompressReadCloserFromFile(f)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer fd.Close()

	reader := csv.NewReader(fd)
	reader.Comma = '\t'

	header, err := reader.Read()
	if err != nil {
		return nil, pfx.Err(err)
	}
	sampleCol, scoreCol := -1, -1
	for i, name := range header {
		switch name {
		case "sample_id":
			sampleCol = i
		case "score":
			scoreCol = i
		}
	}
	if sampleCol < 0 || scoreCol < 0 {
		return nil, pfx.Err(fmt.Errorf("%s: header %v lacks sample_id or score", path, header))
	}

	out := make(map[string]float64)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, pfx.Err(err)
		}

		v, err := strconv.ParseFloat(row[scoreCol], 64)
		if err != nil {
			return nil, pfx.Err(fmt.Errorf("%s: sample %s: %w", path, row[sampleCol], err))
		}
		out[row[sampleCol]] = v
	}

	return out, nil
}
