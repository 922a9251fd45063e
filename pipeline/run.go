package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/carbocation/pfx"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/carbocation/pgscalc/dosage"
	"github.com/carbocation/pgscalc/genostore"
	"github.com/carbocation/pgscalc/match"
	"github.com/carbocation/pgscalc/score"
	"github.com/carbocation/pgscalc/scorefile"
)

// CacheTargets ingests target genotype files into the cache, fanning out
// across files with bounded concurrency. Each file is guarded by its own
// writer lock, so concurrent ingestion of distinct files is safe.
func CacheTargets(ctx context.Context, cfg Config, paths []string, bgenSampleIDs []string) error {
	store := genostore.New(cfg.CacheDir, cfg.Sampleset)
	if err := store.Init(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for _, path := range paths {
		path := path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			log.Infof("Caching %s", path)
			if strings.HasSuffix(path, ".bgen") {
				return store.CacheBGEN(path, bgenSampleIDs)
			}
			return store.CacheVCF(path)
		})
	}

	return g.Wait()
}

// rowWeight carries one scoring row's contribution to the weight matrix.
type rowWeight struct {
	accession  string
	weight     float64
	effectType scorefile.EffectType
}

// Run executes one complete scoring pass: parse scoring files, match them
// against the cached target variants, write the match diagnostics, gate on
// match rate, extract dosages, and export scores.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	store := genostore.New(cfg.CacheDir, cfg.Sampleset)

	var rows []scorefile.ScoreVariant
	weightsByKey := make(map[string]rowWeight)
	skipped := 0
	for _, ref := range cfg.ScoreFiles {
		svs, err := scorefile.Load(ref.Path, ref.Accession, cfg.Layout)
		if errors.Is(err, scorefile.ErrNonAdditive) {
			// One non-additive file must not sink its siblings; the run fails
			// only when every scoring file is skipped.
			log.Warnf("Skipping %s (%s): %v", ref.Accession, ref.Path, err)
			skipped++
			continue
		}
		if err != nil {
			return err
		}
		log.Infof("Loaded %d scoring variants from %s (%s)", len(svs), ref.Path, ref.Accession)
		for _, sv := range svs {
			weightsByKey[rowKey(sv.Accession, sv.RowNr)] = rowWeight{
				accession:  sv.Accession,
				weight:     sv.EffectWeight,
				effectType: sv.EffectType,
			}
		}
		rows = append(rows, svs...)
	}
	if len(rows) == 0 && skipped > 0 {
		return fmt.Errorf("pipeline: all %d scoring files skipped: %w", skipped, scorefile.ErrNonAdditive)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	results, err := match.All(store, rows, cfg.matchFlags())
	if err != nil {
		return err
	}
	summaries := match.Summarize(results, cfg.MinOverlap)

	// The diagnostics are written before gating so a failed run still
	// leaves its match evidence behind.
	if err := score.WriteMatchLog(cfg.OutDir, results, cfg.Compress); err != nil {
		return err
	}
	if err := score.WriteSummaryLog(cfg.OutDir, summaries, cfg.Compress); err != nil {
		return err
	}

	pass, err := match.Gate(summaries, cfg.MinOverlap)
	if err != nil {
		return err
	}
	passing := make(map[string]bool, len(pass))
	for _, accession := range pass {
		passing[accession] = true
	}

	// Group the surviving matches by target file, preserving encounter
	// order so matrix rows stay contiguous per group.
	var filenames []string
	grouped := make(map[string][]match.Result)
	for _, r := range results {
		if !r.IsMatched || !passing[r.Accession] {
			continue
		}
		if _, seen := grouped[r.Filename]; !seen {
			filenames = append(filenames, r.Filename)
		}
		grouped[r.Filename] = append(grouped[r.Filename], r)
	}
	if len(filenames) == 0 {
		return pfx.Err(fmt.Errorf("pipeline: no scoring variants matched any cached target file"))
	}

	sampleIDs, err := store.SampleIDs(filenames[0])
	if err != nil {
		return err
	}
	for _, filename := range filenames[1:] {
		ids, err := store.SampleIDs(filename)
		if err != nil {
			return err
		}
		if len(ids) != len(sampleIDs) {
			return pfx.Err(fmt.Errorf("pipeline: %s has %d samples but %s has %d; one sampleset must share one cohort", filename, len(ids), filenames[0], len(sampleIDs)))
		}
		// Identical counts can still hide misaligned columns.
		for i := range ids {
			if ids[i] != sampleIDs[i] {
				return pfx.Err(fmt.Errorf("pipeline: %s and %s disagree on sample column %d (%s vs %s); one sampleset must share one cohort", filename, filenames[0], i, ids[i], sampleIDs[i]))
			}
		}
	}

	nRows := 0
	for _, filename := range filenames {
		nRows += len(grouped[filename])
	}

	p := dosage.NewPipeline(nRows, len(sampleIDs))
	weights := score.NewWeights(nRows)
	for _, filename := range filenames {
		matches := grouped[filename]
		effectTypes := make([]scorefile.EffectType, len(matches))
		for i, m := range matches {
			effectTypes[i] = weightsByKey[rowKey(m.Accession, m.RowNr)].effectType
		}

		offset := p.AddGroup(store, filename, matches, effectTypes, cfg.MinImpute)
		for i, m := range matches {
			rw := weightsByKey[rowKey(m.Accession, m.RowNr)]
			weights.Set(rw.accession, offset+i, rw.weight)
		}
	}

	matrix, err := p.Evaluate()
	if err != nil {
		return err
	}

	scores := score.Calculate(cfg.Sampleset, sampleIDs, matrix, weights)
	if err := score.WriteScores(cfg.OutDir, scores, cfg.Compress); err != nil {
		return err
	}

	log.Infof("Wrote %d score rows for %d accessions over %d samples", len(scores), len(pass), len(sampleIDs))

	return nil
}

func rowKey(accession string, rowNr int) string {
	return fmt.Sprintf("%s\x00%d", accession, rowNr)
}
