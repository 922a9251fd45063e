package match

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
)

// DefaultMinOverlap is the minimum fraction of an accession's scoring
// variants that must reach a matched classification before scores are
// calculated for it.
const DefaultMinOverlap = 0.75

// SummaryRow is one per-category line of the match log summary: the count
// and fraction of one accession's variants that fell into one
// (summary, ambiguous, multiallelic) cell. Fractions within one
// (sampleset, accession) sum to 1.
type SummaryRow struct {
	Sampleset      string
	Accession      string
	MatchSummary   Summary
	IsAmbiguous    bool
	IsMultiallelic bool
	Count          int
	Fraction       float64
}

// AccessionSummary aggregates one accession's summary rows and the derived
// match-rate gate decision.
type AccessionSummary struct {
	Sampleset string
	Accession string
	Rows      []SummaryRow
	// MatchRate is the sum of the matched-cell fractions.
	MatchRate     float64
	IsMatchRateOk bool
}

// MatchRateError reports an accession whose match rate fell below the
// configured minimum overlap. It is raised only after matching has completed
// for every variant: a data-quality gate, not a matching failure.
type MatchRateError struct {
	Sampleset  string
	Accession  string
	MatchRate  float64
	MinOverlap float64
}

func (e MatchRateError) Error() string {
	return fmt.Sprintf("match: %s/%s match rate %.4f is below the minimum overlap %.2f",
		e.Sampleset, e.Accession, e.MatchRate, e.MinOverlap)
}

// ErrNoAccessionsPass is fatal: every accession failed the match-rate gate,
// so there is nothing to calculate.
type ErrNoAccessionsPass struct {
	Failures []MatchRateError
}

func (e ErrNoAccessionsPass) Error() string {
	return fmt.Sprintf("match: no accessions passed the minimum-overlap gate (%d failed)", len(e.Failures))
}

// Summarize partitions results by (sampleset, accession) and computes the
// per-cell fractions and match rates.
func Summarize(results []Result, minOverlap float64) []AccessionSummary {
	type accKey struct {
		sampleset, accession string
	}
	type cellKey struct {
		summary      Summary
		ambiguous    bool
		multiallelic bool
	}

	totals := make(map[accKey]int)
	cells := make(map[accKey]map[cellKey]int)
	for _, r := range results {
		ak := accKey{r.Sampleset, r.Accession}
		totals[ak]++
		if cells[ak] == nil {
			cells[ak] = make(map[cellKey]int)
		}
		cells[ak][cellKey{r.MatchSummary, r.IsAmbiguous, r.IsMultiallelic}]++
	}

	out := make([]AccessionSummary, 0, len(totals))
	for ak, total := range totals {
		summary := AccessionSummary{Sampleset: ak.sampleset, Accession: ak.accession}

		for ck, count := range cells[ak] {
			fraction := float64(count) / float64(total)
			summary.Rows = append(summary.Rows, SummaryRow{
				Sampleset:      ak.sampleset,
				Accession:      ak.accession,
				MatchSummary:   ck.summary,
				IsAmbiguous:    ck.ambiguous,
				IsMultiallelic: ck.multiallelic,
				Count:          count,
				Fraction:       fraction,
			})
			// The match rate sums only the matched cells, across all of
			// their ambiguity/multiallelic subdivisions.
			if ck.summary == Matched {
				summary.MatchRate += fraction
			}
		}

		sort.Slice(summary.Rows, func(i, j int) bool {
			return summary.Rows[i].Count > summary.Rows[j].Count
		})
		summary.IsMatchRateOk = summary.MatchRate > minOverlap
		out = append(out, summary)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Sampleset != out[j].Sampleset {
			return out[i].Sampleset < out[j].Sampleset
		}
		return out[i].Accession < out[j].Accession
	})

	return out
}

// Gate splits summaries into accessions that may proceed to score
// calculation and those excluded for insufficient overlap. Excluded
// accessions are logged; if nothing passes, the run cannot continue.
func Gate(summaries []AccessionSummary, minOverlap float64) (pass []string, err error) {
	var failures []MatchRateError
	for _, s := range summaries {
		if s.IsMatchRateOk {
			pass = append(pass, s.Accession)
			continue
		}

		failure := MatchRateError{
			Sampleset:  s.Sampleset,
			Accession:  s.Accession,
			MatchRate:  s.MatchRate,
			MinOverlap: minOverlap,
		}
		failures = append(failures, failure)
		log.Warnf("Excluding accession from score calculation: %v", failure)
	}

	if len(pass) == 0 && len(failures) > 0 {
		return nil, ErrNoAccessionsPass{Failures: failures}
	}

	return pass, nil
}
