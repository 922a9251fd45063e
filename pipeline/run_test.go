package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbocation/pgscalc/dosage"
	"github.com/carbocation/pgscalc/fetch"
	"github.com/carbocation/pgscalc/genostore"
	"github.com/carbocation/pgscalc/match"
	"github.com/carbocation/pgscalc/scorefile"
)

// seedCache builds a three-sample cache with two biallelic variants.
func seedCache(t *testing.T, cacheDir, sampleset string) {
	t.Helper()

	s := genostore.New(cacheDir, sampleset)
	require.NoError(t, s.Init())

	h, err := s.AcquireWrite("chr1.vcf", []string{"s1", "s2", "s3"})
	require.NoError(t, err)

	variants := []genostore.Variant{
		{ChrName: "1", ChrPos: 100, Ref: "A", Alts: "G"},
		{ChrName: "1", ChrPos: 200, Ref: "C", Alts: "T"},
	}
	calls := [][]uint8{
		{0, 0, 0, 1, 1, 1},
		{0, 1, 1, 1, 0, 0},
	}
	require.NoError(t, h.AppendBatch(variants, calls))
	require.NoError(t, h.Close())
}

func writeScoreFile(t *testing.T, dir, name string, rows ...string) string {
	t.Helper()

	contents := "chr_name\tchr_position\teffect_allele\tother_allele\teffect_weight\teffect_type\n" +
		strings.Join(rows, "\n") + "\n"
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	return path
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	seedCache(t, dir, "cineca")

	scorePath := writeScoreFile(t, dir, "scores.txt",
		"1\t100\tG\tA\t1.0\tadditive",
		"1\t200\tT\tC\t2.0\tadditive",
	)

	cfg := Config{
		CacheDir:   dir,
		OutDir:     filepath.Join(dir, "out"),
		Sampleset:  "cineca",
		Layout:     "PGSCATALOG",
		ScoreFiles: []ScoreFileRef{{Accession: "PGS000001", Path: scorePath}},
		MinOverlap: 0.75,
		MinImpute:  1,
		Workers:    1,
	}

	require.NoError(t, Run(context.Background(), cfg))

	raw, err := os.ReadFile(filepath.Join(dir, "out", "cineca", "PGS000001", "scores.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 4)

	// Effect-allele dosages: s1 = {0,1}, s2 = {1,2}, s3 = {2,0}; weights
	// {1, 2} give scores 2, 5, 2.
	assert.Contains(t, lines[1], "s1")
	assert.Contains(t, lines[1], "2.000000")
	assert.Contains(t, lines[2], "s2")
	assert.Contains(t, lines[2], "5.000000")
	assert.Contains(t, lines[3], "s3")
	assert.Contains(t, lines[3], "2.000000")

	// The match diagnostics are also written.
	_, err = os.Stat(filepath.Join(dir, "out", "cineca", "match_log.txt"))
	assert.NoError(t, err)
}

func TestRunSkipsNonAdditiveFile(t *testing.T) {
	dir := t.TempDir()
	seedCache(t, dir, "cineca")

	additive := writeScoreFile(t, dir, "additive.txt",
		"1\t100\tG\tA\t1.0\tadditive",
		"1\t200\tT\tC\t2.0\tadditive",
	)
	nonAdditive := writeScoreFile(t, dir, "nonadditive.txt",
		"1\t100\tG\tA\t1.0\tnonadditive",
	)

	cfg := Config{
		CacheDir:  dir,
		OutDir:    filepath.Join(dir, "out"),
		Sampleset: "cineca",
		Layout:    "PGSCATALOG",
		ScoreFiles: []ScoreFileRef{
			{Accession: "PGS000002", Path: nonAdditive},
			{Accession: "PGS000001", Path: additive},
		},
		MinOverlap: 0.75,
		MinImpute:  1,
		Workers:    1,
	}

	// The non-additive sibling is skipped with a warning; the additive file
	// still scores.
	require.NoError(t, Run(context.Background(), cfg))

	_, err := os.Stat(filepath.Join(dir, "out", "cineca", "PGS000001", "scores.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "out", "cineca", "PGS000002"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunFailsWhenEveryFileIsNonAdditive(t *testing.T) {
	dir := t.TempDir()
	seedCache(t, dir, "cineca")

	nonAdditive := writeScoreFile(t, dir, "nonadditive.txt",
		"1\t100\tG\tA\t1.0\tnonadditive",
	)

	cfg := Config{
		CacheDir:   dir,
		OutDir:     filepath.Join(dir, "out"),
		Sampleset:  "cineca",
		Layout:     "PGSCATALOG",
		ScoreFiles: []ScoreFileRef{{Accession: "PGS000002", Path: nonAdditive}},
		MinOverlap: 0.75,
		MinImpute:  1,
		Workers:    1,
	}

	err := Run(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, scorefile.ErrNonAdditive)
	assert.Equal(t, ExitNonAdditive, ExitCode(err))
}

func TestRunFailsTheMatchRateGate(t *testing.T) {
	dir := t.TempDir()
	seedCache(t, dir, "cineca")

	// Three of four variants miss the cache entirely.
	scorePath := writeScoreFile(t, dir, "scores.txt",
		"1\t100\tG\tA\t1.0\tadditive",
		"9\t901\tA\tC\t1.0\tadditive",
		"9\t902\tA\tC\t1.0\tadditive",
		"9\t903\tA\tC\t1.0\tadditive",
	)

	cfg := Config{
		CacheDir:   dir,
		OutDir:     filepath.Join(dir, "out"),
		Sampleset:  "cineca",
		Layout:     "PGSCATALOG",
		ScoreFiles: []ScoreFileRef{{Accession: "PGS000009", Path: scorePath}},
		MinOverlap: 0.75,
		MinImpute:  1,
		Workers:    1,
	}

	err := Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, ExitMatchRate, ExitCode(err))

	// The failed run still leaves its diagnostics behind.
	_, statErr := os.Stat(filepath.Join(dir, "out", "cineca", "summary_log.txt"))
	assert.NoError(t, statErr)
}

func TestRunRejectsMismatchedCohorts(t *testing.T) {
	dir := t.TempDir()

	s := genostore.New(dir, "cineca")
	require.NoError(t, s.Init())

	// Two target files with the same sample count but different identities.
	for filename, ids := range map[string][]string{
		"chr1.vcf": {"s1", "s2", "s3"},
		"chr2.vcf": {"sX", "s2", "s3"},
	} {
		h, err := s.AcquireWrite(filename, ids)
		require.NoError(t, err)

		chr := strings.TrimSuffix(strings.TrimPrefix(filename, "chr"), ".vcf")
		require.NoError(t, h.AppendBatch(
			[]genostore.Variant{{ChrName: chr, ChrPos: 100, Ref: "A", Alts: "G"}},
			[][]uint8{{0, 0, 0, 1, 1, 1}},
		))
		require.NoError(t, h.Close())
	}

	scorePath := writeScoreFile(t, dir, "scores.txt",
		"1\t100\tG\tA\t1.0\tadditive",
		"2\t100\tG\tA\t2.0\tadditive",
	)

	cfg := Config{
		CacheDir:   dir,
		OutDir:     filepath.Join(dir, "out"),
		Sampleset:  "cineca",
		Layout:     "PGSCATALOG",
		ScoreFiles: []ScoreFileRef{{Accession: "PGS000001", Path: scorePath}},
		MinOverlap: 0.75,
		MinImpute:  1,
		Workers:    1,
	}

	err := Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cohort")
}

func TestValidate(t *testing.T) {
	cfg := Config{
		CacheDir:   "/tmp/cache",
		Sampleset:  "cineca",
		ScoreFiles: []ScoreFileRef{{Accession: "PGS000001", Path: "x"}},
		MinOverlap: 0.75,
	}
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.Sampleset = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MinOverlap = 1.5
	assert.Error(t, bad.Validate())
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("anything else")))
	assert.Equal(t, ExitMatchRate, ExitCode(match.ErrNoAccessionsPass{}))
	assert.Equal(t, ExitMatchRate, ExitCode(match.MatchRateError{Accession: "PGS000001"}))
	assert.Equal(t, ExitImputeFloor, ExitCode(dosage.ErrImputeFloor{Observed: 3, Minimum: 50}))
	assert.Equal(t, ExitDownload, ExitCode(fetch.DownloadError{URL: "http://x", Err: errors.New("boom")}))
	assert.Equal(t, ExitChecksum, ExitCode(fetch.ChecksumError{URL: "http://x"}))
	assert.Equal(t, ExitNonAdditive, ExitCode(fmt.Errorf("loading: %w", scorefile.ErrNonAdditive)))
}
