package ancestry

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/carbocation/pfx"
)

// Adjusted-score and similarity tables are tab-delimited with a header, one
// row per (sample, accession) or per sample. Model metadata is a single JSON
// document. Non-finite floats are not representable in JSON, so the metadata
// encoder rewrites them to null before marshaling.

const exportPrecision = 6

func formatExportFloat(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'f', exportPrecision, 64)
}

// WriteAdjustedScores writes the long-format normalized score table.
func WriteAdjustedScores(outDir, sampleset string, scores []AdjustedScore) error {
	path := filepath.Join(outDir, sampleset, "adjusted_scores.txt")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pfx.Err(err)
	}
	f, err := os.Create(path)
	if err != nil {
		return pfx.Err(err)
	}
	defer f.Close()

	fmt.Fprintln(f, "sampleset\tsample_id\tis_reference\taccession\tpopulation\tSUM\tpercentile_MostSimilarPop\tZ_MostSimilarPop\tZ_norm1\tZ_norm2")
	for _, s := range scores {
		fmt.Fprintf(f, "%s\t%s\t%t\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sampleset, s.SampleID, s.IsReference, s.Accession, s.Population,
			formatExportFloat(s.Sum),
			nullFloatCol(s.Percentile), nullFloatCol(s.Z),
			nullFloatCol(s.ZNorm1), nullFloatCol(s.ZNorm2))
	}

	return nil
}

// WriteSimilarity writes one row per sample: assigned population,
// confidence, outlier p-value, and the PCs used for assignment.
func WriteSimilarity(outDir, sampleset string, assignments []Assignment) error {
	path := filepath.Join(outDir, sampleset, "popsimilarity.txt")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pfx.Err(err)
	}
	f, err := os.Create(path)
	if err != nil {
		return pfx.Err(err)
	}
	defer f.Close()

	nPCs := 0
	if len(assignments) > 0 {
		nPCs = len(assignments[0].PCs)
	}

	fmt.Fprint(f, "sampleset\tsample_id\tis_reference\tMostSimilarPop\tMostSimilarPop_LowConfidence\tconfidence\toutlier_p")
	for j := 1; j <= nPCs; j++ {
		fmt.Fprintf(f, "\tPC%d", j)
	}
	fmt.Fprintln(f)

	for _, a := range assignments {
		fmt.Fprintf(f, "%s\t%s\t%t\t%s\t%t\t%s\t%s",
			sampleset, a.SampleID, a.IsReference, a.Population, a.LowConfidence,
			formatExportFloat(a.Confidence), formatExportFloat(a.OutlierP))
		for _, pc := range a.PCs {
			fmt.Fprintf(f, "\t%s", formatExportFloat(pc))
		}
		fmt.Fprintln(f)
	}

	return nil
}

func nullFloatCol(v interface{ Ptr() *float64 }) string {
	p := v.Ptr()
	if p == nil {
		return "NA"
	}
	return formatExportFloat(*p)
}

// ModelMetadata is the JSON description of one normalization run: which
// similarity model produced the assignments and, per accession, the fitted
// normalization parameters.
type ModelMetadata struct {
	Sampleset  string                    `json:"sampleset"`
	Similarity ModelInfo                 `json:"similarity"`
	Accessions map[string]AccessionModel `json:"accessions"`
	Skipped    []SkippedAccession        `json:"skipped,omitempty"`
}

// AccessionModel holds fit results keyed by strategy name.
type AccessionModel struct {
	MeanFit    *FitResult `json:"mean_fit,omitempty"`
	MeanVarFit *FitResult `json:"mean_var_fit,omitempty"`
}

// WriteModelMetadata writes the model JSON, sanitizing non-finite values.
func WriteModelMetadata(outDir, sampleset string, meta ModelMetadata) error {
	path := filepath.Join(outDir, sampleset, "model.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pfx.Err(err)
	}
	f, err := os.Create(path)
	if err != nil {
		return pfx.Err(err)
	}
	defer f.Close()

	return encodeModelMetadata(f, meta)
}

func encodeModelMetadata(w io.Writer, meta ModelMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		// NaN or Inf leaked into a float field. Sanitize through an
		// intermediate tree and retry.
		tree := sanitizeTree(toTree(meta))
		raw, err = json.Marshal(tree)
		if err != nil {
			return pfx.Err(err)
		}
	}

	var indented map[string]interface{}
	if err := json.Unmarshal(raw, &indented); err != nil {
		return pfx.Err(err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return pfx.Err(enc.Encode(indented))
}

func toTree(meta ModelMetadata) map[string]interface{} {
	tree := map[string]interface{}{
		"sampleset":  meta.Sampleset,
		"similarity": meta.Similarity,
		"skipped":    meta.Skipped,
	}
	acc := make(map[string]interface{}, len(meta.Accessions))
	for name, m := range meta.Accessions {
		entry := map[string]interface{}{}
		if m.MeanFit != nil {
			entry["mean_fit"] = fitTree(*m.MeanFit)
		}
		if m.MeanVarFit != nil {
			entry["mean_var_fit"] = fitTree(*m.MeanVarFit)
		}
		acc[name] = entry
	}
	tree["accessions"] = acc

	return tree
}

func fitTree(fit FitResult) map[string]interface{} {
	return map[string]interface{}{
		"Converged":   fit.Converged,
		"Params":      fit.Params,
		"Diagnostics": fit.Diagnostics,
	}
}

// sanitizeTree replaces NaN and infinite floats with nil, recursively.
func sanitizeTree(v interface{}) interface{} {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case []float64:
		out := make([]interface{}, len(t))
		for i, f := range t {
			out[i] = sanitizeTree(f)
		}
		return out
	case map[string]float64:
		out := make(map[string]interface{}, len(t))
		for k, f := range t {
			out[k] = sanitizeTree(f)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = sanitizeTree(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = sanitizeTree(val)
		}
		return out
	default:
		return v
	}
}
