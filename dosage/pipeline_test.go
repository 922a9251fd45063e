package dosage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carbocation/pgscalc/genostore"
	"github.com/carbocation/pgscalc/match"
	"github.com/carbocation/pgscalc/scorefile"
)

func cachedGroup(t *testing.T, s *genostore.Store, filename string, calls [][]uint8) []genostore.Variant {
	t.Helper()

	sampleIDs := make([]string, len(calls[0])/2)
	for i := range sampleIDs {
		sampleIDs[i] = "s" + string(rune('1'+i))
	}

	h, err := s.AcquireWrite(filename, sampleIDs)
	require.NoError(t, err)

	variants := make([]genostore.Variant, len(calls))
	for i := range variants {
		variants[i] = genostore.Variant{ChrName: "1", ChrPos: 100 + i, Ref: "A", Alts: "G"}
	}
	require.NoError(t, h.AppendBatch(variants, calls))
	require.NoError(t, h.Close())

	return variants
}

func TestPipelineEvaluatesGroupsSequentially(t *testing.T) {
	s := genostore.New(t.TempDir(), "test")
	require.NoError(t, s.Init())

	g1 := cachedGroup(t, s, "chr1.vcf", [][]uint8{
		{0, 0, 0, 1}, // dosages (effect on ref): 2, 1
		{0, 1, 1, 1}, // dosages: 1, 0
	})
	g2 := cachedGroup(t, s, "chr2.vcf", [][]uint8{
		{1, 1, 0, 0}, // dosages: 0, 2
	})

	p := NewPipeline(3, 2)

	m1 := []match.Result{
		{EffectAlleleIdx: 0, Filename: "chr1.vcf", FileRow: g1[0].FileRow},
		{EffectAlleleIdx: 0, Filename: "chr1.vcf", FileRow: g1[1].FileRow},
	}
	m2 := []match.Result{
		{EffectAlleleIdx: 0, Filename: "chr2.vcf", FileRow: g2[0].FileRow},
	}

	off1 := p.AddGroup(s, "chr1.vcf", m1, []scorefile.EffectType{scorefile.Additive, scorefile.Additive}, 1)
	off2 := p.AddGroup(s, "chr2.vcf", m2, []scorefile.EffectType{scorefile.Additive}, 1)
	require.Equal(t, 0, off1)
	require.Equal(t, 2, off2) // offsets accumulate monotonically

	matrix, err := p.Evaluate()
	require.NoError(t, err)

	require.Equal(t, []float64{2, 1}, matrix.Row(0))
	require.Equal(t, []float64{1, 0}, matrix.Row(1))
	require.Equal(t, []float64{0, 2}, matrix.Row(2))
}

func TestPipelineIsLazyBeforeEvaluate(t *testing.T) {
	s := genostore.New(t.TempDir(), "test")
	require.NoError(t, s.Init())

	p := NewPipeline(1, 2)
	// Scheduling a group against a file that was never cached must not fail
	// until Evaluate runs.
	p.AddGroup(s, "never-cached.vcf", []match.Result{
		{EffectAlleleIdx: 0, Filename: "never-cached.vcf", FileRow: 0},
	}, []scorefile.EffectType{scorefile.Additive}, 1)

	_, err := p.Evaluate()
	require.Error(t, err)
}
