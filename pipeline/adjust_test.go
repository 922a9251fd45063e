package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbocation/pgscalc/ancestry"
)

// seedAdjustFixtures builds PCA coordinate files for two well-separated
// reference populations plus targets near each, and exported score tables
// for both samplesets.
func seedAdjustFixtures(t *testing.T, dir string) AdjustConfig {
	t.Helper()
	rng := rand.New(rand.NewSource(77))

	var refCoord, refPop, targetCoord strings.Builder
	refCoord.WriteString("sample_id\tPC1\tPC2\n")
	refPop.WriteString("sample_id\tpopulation\n")
	targetCoord.WriteString("sample_id\tPC1\tPC2\n")

	centers := []struct {
		name string
		x, y float64
	}{{"AFR", 0, 0}, {"EUR", 25, 0}}

	var refScores, targetScores strings.Builder
	header := "sampleset\taccession\tsample_id\tn_matched\tallele_count\tdosage_sum\tscore\tscore_avg\n"
	refScores.WriteString(header)
	targetScores.WriteString(header)

	for _, c := range centers {
		for i := 0; i < 80; i++ {
			id := fmt.Sprintf("%s_ref_%d", c.name, i)
			fmt.Fprintf(&refCoord, "%s\t%f\t%f\n", id, c.x+rng.NormFloat64(), c.y+rng.NormFloat64())
			fmt.Fprintf(&refPop, "%s\t%s\n", id, c.name)
			fmt.Fprintf(&refScores, "reference\tPGS000001\t%s\t2\t4\t%f\t%f\t0.5\n", id, 2+rng.NormFloat64(), c.x/10+rng.NormFloat64())
		}
		for i := 0; i < 6; i++ {
			id := fmt.Sprintf("%s_target_%d", c.name, i)
			fmt.Fprintf(&targetCoord, "%s\t%f\t%f\n", id, c.x+rng.NormFloat64(), c.y+rng.NormFloat64())
			fmt.Fprintf(&targetScores, "cineca\tPGS000001\t%s\t2\t4\t%f\t%f\t0.5\n", id, 2+rng.NormFloat64(), c.x/10+rng.NormFloat64())
		}
	}

	refCoordPath := filepath.Join(dir, "ref_pca.txt")
	refPopPath := filepath.Join(dir, "ref_pop.txt")
	targetCoordPath := filepath.Join(dir, "target_pca.txt")
	require.NoError(t, os.WriteFile(refCoordPath, []byte(refCoord.String()), 0o644))
	require.NoError(t, os.WriteFile(refPopPath, []byte(refPop.String()), 0o644))
	require.NoError(t, os.WriteFile(targetCoordPath, []byte(targetCoord.String()), 0o644))

	refScoreDir := filepath.Join(dir, "reference", "PGS000001")
	targetScoreDir := filepath.Join(dir, "cineca", "PGS000001")
	require.NoError(t, os.MkdirAll(refScoreDir, 0o755))
	require.NoError(t, os.MkdirAll(targetScoreDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(refScoreDir, "scores.txt"), []byte(refScores.String()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(targetScoreDir, "scores.txt"), []byte(targetScores.String()), 0o644))

	return AdjustConfig{
		OutDir:       dir,
		Sampleset:    "cineca",
		RefSampleset: "reference",
		RefCoord:     refCoordPath,
		RefPops:      refPopPath,
		TargetCoord:  targetCoordPath,
		Methods:      []ancestry.NormMethod{ancestry.EmpiricalNorm, ancestry.MeanNorm},
		Workers:      2,
	}
}

func TestRunAdjust(t *testing.T) {
	dir := t.TempDir()
	cfg := seedAdjustFixtures(t, dir)

	require.NoError(t, RunAdjust(context.Background(), cfg))

	// Similarity table: every target sample lands in its own cluster.
	simRaw, err := os.ReadFile(filepath.Join(dir, "cineca", "popsimilarity.txt"))
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(string(simRaw)), "\n")[1:] {
		fields := strings.Split(line, "\t")
		wantPop := strings.SplitN(fields[1], "_", 2)[0]
		assert.Equal(t, wantPop, fields[3], "line %q", line)
	}

	// Adjusted scores: every scored sample gets the requested columns.
	adjRaw, err := os.ReadFile(filepath.Join(dir, "cineca", "adjusted_scores.txt"))
	require.NoError(t, err)
	adjLines := strings.Split(strings.TrimSpace(string(adjRaw)), "\n")
	require.Len(t, adjLines, 1+2*80+2*6)
	for _, line := range adjLines[1:] {
		fields := strings.Split(line, "\t")
		require.Len(t, fields, 10)
		assert.NotEqual(t, "NA", fields[6], "percentile in %q", line)
		assert.NotEqual(t, "NA", fields[8], "Z_norm1 in %q", line)
		// The mean+variance strategy was not requested.
		assert.Equal(t, "NA", fields[9], "Z_norm2 in %q", line)
	}

	// Model metadata parses and records the fitted strategy.
	metaRaw, err := os.ReadFile(filepath.Join(dir, "cineca", "model.json"))
	require.NoError(t, err)
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(metaRaw, &meta))
	assert.Equal(t, "cineca", meta["sampleset"])
	accessions, castOk := meta["accessions"].(map[string]interface{})
	require.True(t, castOk)
	assert.Contains(t, accessions, "PGS000001")
}

func TestRunAdjustRequiresScores(t *testing.T) {
	dir := t.TempDir()
	cfg := seedAdjustFixtures(t, dir)
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "cineca")))
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "reference")))

	err := RunAdjust(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no score exports")
}
