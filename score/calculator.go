// Package score turns matched dosage into per-sample polygenic scores and
// exports them.
package score

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gopkg.in/guregu/null.v3"

	"github.com/carbocation/pgscalc/dosage"
)

// Weights is the wide per-accession weight matrix: one row per matched
// scoring variant (same row order as the dosage matrix), one column per
// accession. A zero published weight still makes a variant belong to its
// accession, so membership is tracked explicitly instead of being inferred
// from nonzero cells.
type Weights struct {
	Accessions []string
	rows       int
	weights    map[string][]float64 // accession -> dense column of length rows
	member     map[string][]bool
}

func NewWeights(nRows int) *Weights {
	return &Weights{
		rows:    nRows,
		weights: make(map[string][]float64),
		member:  make(map[string][]bool),
	}
}

// Set records that the given matrix row carries this accession's variant
// with the given effect weight.
func (w *Weights) Set(accession string, row int, weight float64) {
	if _, exists := w.weights[accession]; !exists {
		w.weights[accession] = make([]float64, w.rows)
		w.member[accession] = make([]bool, w.rows)
		w.Accessions = append(w.Accessions, accession)
		sort.Strings(w.Accessions)
	}
	w.weights[accession][row] = weight
	w.member[accession][row] = true
}

// Result is one exported score row.
type Result struct {
	Sampleset   string
	Accession   string
	SampleID    string
	NMatched    int
	AlleleCount int
	DosageSum   float64
	Score       float64
	// ScoreAvg is DosageSum/AlleleCount; null when the sample had no
	// non-missing calls across the accession's variants, rather than NaN.
	ScoreAvg null.Float
}

// Calculate computes the weighted dosage sum per sample per accession, plus
// the auxiliary per-sample statistics. AlleleCount counts non-missing calls
// (two per observed variant) using the pre-imputation mask, so imputed cells
// contribute to the score but not to the count.
func Calculate(sampleset string, sampleIDs []string, m *dosage.Matrix, w *Weights) []Result {
	out := make([]Result, 0, len(w.Accessions)*len(sampleIDs))

	col := make([]float64, m.NRows)
	for _, accession := range w.Accessions {
		weights := w.weights[accession]
		member := w.member[accession]

		nMatched := 0
		for _, in := range member {
			if in {
				nMatched++
			}
		}

		for sampleIdx, sampleID := range sampleIDs {
			for row := 0; row < m.NRows; row++ {
				col[row] = m.Dosage[row*m.NSamples+sampleIdx]
				if !member[row] {
					col[row] = 0
				}
			}

			r := Result{
				Sampleset: sampleset,
				Accession: accession,
				SampleID:  sampleID,
				NMatched:  nMatched,
				Score:     floats.Dot(weights, col),
				DosageSum: floats.Sum(col),
			}

			for row := 0; row < m.NRows; row++ {
				if member[row] && !m.Mask[row*m.NSamples+sampleIdx] {
					r.AlleleCount += 2
				}
			}

			if r.AlleleCount > 0 {
				r.ScoreAvg = null.FloatFrom(r.DosageSum / float64(r.AlleleCount))
			}

			out = append(out, r)
		}
	}

	return out
}
