package score

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/carbocation/pfx"
	"github.com/klauspost/pgzip"

	"github.com/carbocation/pgscalc/match"
)

// Precision is the fixed decimal precision of exported numeric columns.
// Truncating the float representation limits re-identification through
// floating-point artifacts; it is a privacy decision, not cosmetics.
const Precision = 6

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', Precision, 64)
}

// openPartition creates one partition file, gzipped when compress is set.
func openPartition(dir, name string, compress bool) (io.WriteCloser, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, pfx.Err(err)
	}

	if compress {
		name += ".gz"
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, pfx.Err(err)
	}

	if !compress {
		return f, nil
	}

	return &gzWriteCloser{gz: pgzip.NewWriter(f), f: f}, nil
}

type gzWriteCloser struct {
	gz *pgzip.Writer
	f  *os.File
}

func (w *gzWriteCloser) Write(p []byte) (int, error) { return w.gz.Write(p) }

func (w *gzWriteCloser) Close() error {
	if err := w.gz.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// WriteScores exports results partitioned by (sampleset, accession) under
// outDir, one delimited file per partition with fixed-decimal numeric
// columns.
func WriteScores(outDir string, results []Result, compress bool) error {
	type partKey struct {
		sampleset, accession string
	}

	writers := make(map[partKey]io.WriteCloser)
	defer func() {
		for _, w := range writers {
			w.Close()
		}
	}()

	for _, r := range results {
		key := partKey{r.Sampleset, r.Accession}
		w, exists := writers[key]
		if !exists {
			var err error
			w, err = openPartition(
				filepath.Join(outDir, r.Sampleset, r.Accession),
				"scores.txt", compress)
			if err != nil {
				return err
			}
			writers[key] = w
			fmt.Fprintln(w, "sampleset\taccession\tsample_id\tn_matched\tallele_count\tdosage_sum\tscore\tscore_avg")
		}

		scoreAvg := "NA"
		if r.ScoreAvg.Valid {
			scoreAvg = formatFloat(r.ScoreAvg.Float64)
		}

		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			r.Sampleset, r.Accession, r.SampleID, r.NMatched, r.AlleleCount,
			formatFloat(r.DosageSum), formatFloat(r.Score), scoreAvg); err != nil {
			return pfx.Err(err)
		}
	}

	for key, w := range writers {
		delete(writers, key)
		if err := w.Close(); err != nil {
			return pfx.Err(err)
		}
	}

	return nil
}

// WriteMatchLog exports the per-variant match classifications partitioned by
// sampleset.
func WriteMatchLog(outDir string, results []match.Result, compress bool) error {
	writers := make(map[string]io.WriteCloser)
	defer func() {
		for _, w := range writers {
			w.Close()
		}
	}()

	for _, r := range results {
		w, exists := writers[r.Sampleset]
		if !exists {
			var err error
			w, err = openPartition(filepath.Join(outDir, r.Sampleset), "match_log.txt", compress)
			if err != nil {
				return err
			}
			writers[r.Sampleset] = w
			fmt.Fprintln(w, "sampleset\taccession\trow_nr\tchr_name\tchr_position\tmatch_type\tmatch_priority\tmatch_summary\tis_matched\tis_ambiguous\tis_multiallelic\teffect_allele_idx\tgeno_index")
		}

		if _, err := fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\t%d\t%s\t%t\t%t\t%t\t%d\t%d\n",
			r.Sampleset, r.Accession, r.RowNr, r.ChrName, r.ChrPosition,
			r.MatchType, r.MatchPriority, r.MatchSummary, r.IsMatched,
			r.IsAmbiguous, r.IsMultiallelic, r.EffectAlleleIdx, r.GenoIndex); err != nil {
			return pfx.Err(err)
		}
	}

	for key, w := range writers {
		delete(writers, key)
		if err := w.Close(); err != nil {
			return pfx.Err(err)
		}
	}

	return nil
}

// WriteSummaryLog exports the per-accession match-rate table.
func WriteSummaryLog(outDir string, summaries []match.AccessionSummary, compress bool) error {
	if len(summaries) == 0 {
		return nil
	}

	w, err := openPartition(filepath.Join(outDir, summaries[0].Sampleset), "summary_log.txt", compress)
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Fprintln(w, "sampleset\taccession\tmatch_summary\tis_ambiguous\tis_multiallelic\tcount\tfraction\tmatch_rate\tis_match_rate_ok")
	for _, s := range summaries {
		for _, row := range s.Rows {
			if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%d\t%s\t%s\t%t\n",
				row.Sampleset, row.Accession, row.MatchSummary, row.IsAmbiguous,
				row.IsMultiallelic, row.Count, formatFloat(row.Fraction),
				formatFloat(s.MatchRate), s.IsMatchRateOk); err != nil {
				return pfx.Err(err)
			}
		}
	}

	return nil
}
