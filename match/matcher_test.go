package match

import (
	"testing"

	"github.com/carbocation/pgscalc/genostore"
	"github.com/carbocation/pgscalc/scorefile"
)

func scoreVariant(effect, other string) scorefile.ScoreVariant {
	return scorefile.ScoreVariant{
		Accession:    "PGS000001",
		RowNr:        0,
		ChrName:      "1",
		ChrPosition:  100,
		EffectAllele: scorefile.Allele(effect),
		OtherAllele:  scorefile.Allele(other),
		EffectWeight: 1.0,
	}
}

func target(genoIndex int, ref, alts string) genostore.Variant {
	return genostore.Variant{
		Sampleset: "test",
		Filename:  "chr1.vcf",
		ChrName:   "1",
		ChrPos:    100,
		Ref:       ref,
		Alts:      alts,
		GenoIndex: genoIndex,
		FileRow:   genoIndex,
	}
}

func TestOrientationRoundTrip(t *testing.T) {
	sv := scoreVariant("A", "G")

	cases := []struct {
		ref, alts string
		wantType  MatchType
		wantIdx   uint8
	}{
		{"A", "G", RefAlt, 0},
		{"G", "A", AltRef, 1},
		{"T", "C", RefAltFlip, 0}, // complement(A)=T, complement(G)=C
		{"C", "T", AltRefFlip, 1},
	}
	for _, c := range cases {
		got := Best("test", sv, []genostore.Variant{target(0, c.ref, c.alts)}, Flags{})
		if got.MatchType != c.wantType {
			t.Errorf("ref=%s alt=%s: got %v, want %v", c.ref, c.alts, got.MatchType, c.wantType)
		}
		if got.EffectAlleleIdx != c.wantIdx {
			t.Errorf("ref=%s alt=%s: effect allele idx %d, want %d", c.ref, c.alts, got.EffectAlleleIdx, c.wantIdx)
		}
		if !got.IsMatched {
			t.Errorf("ref=%s alt=%s: expected a matched classification", c.ref, c.alts)
		}
	}
}

func TestNoOtherAlleleOrientations(t *testing.T) {
	sv := scoreVariant("A", "")

	got := Best("test", sv, []genostore.Variant{target(0, "A", "G")}, Flags{})
	if got.MatchType != RefNoOA || got.EffectAlleleIdx != 0 {
		t.Errorf("Expected ref_no_oa idx 0, got %v idx %d", got.MatchType, got.EffectAlleleIdx)
	}

	got = Best("test", sv, []genostore.Variant{target(0, "G", "A")}, Flags{})
	if got.MatchType != AltNoOA || got.EffectAlleleIdx != 1 {
		t.Errorf("Expected alt_no_oa idx 1, got %v idx %d", got.MatchType, got.EffectAlleleIdx)
	}
}

func TestAmbiguousPolicy(t *testing.T) {
	sv := scoreVariant("A", "T")

	got := Best("test", sv, []genostore.Variant{target(0, "A", "T")}, Flags{})
	if got.MatchType != Excluded || !got.IsAmbiguous {
		t.Errorf("A/T site should be excluded by default, got %v", got.MatchType)
	}
	if got.MatchSummary != SummaryExcluded {
		t.Errorf("Expected excluded summary, got %v", got.MatchSummary)
	}

	got = Best("test", sv, []genostore.Variant{target(0, "A", "T")}, Flags{MatchAmbiguous: true})
	if got.MatchType != RefAlt {
		t.Errorf("MatchAmbiguous should permit the match, got %v", got.MatchType)
	}
	if !got.IsAmbiguous {
		t.Error("The ambiguity flag should survive a permitted match")
	}
}

func TestMultiallelicPolicy(t *testing.T) {
	sv := scoreVariant("A", "G")

	got := Best("test", sv, []genostore.Variant{target(0, "A", "G,T")}, Flags{})
	if got.MatchType != Excluded || !got.IsMultiallelic {
		t.Errorf("Multiallelic site should be excluded by default, got %v", got.MatchType)
	}

	got = Best("test", sv, []genostore.Variant{target(0, "A", "G,T")}, Flags{MatchMultiallelic: true})
	if got.MatchType != RefAlt {
		t.Errorf("MatchMultiallelic should permit the match, got %v", got.MatchType)
	}

	// Only the first alternate allele is evaluated.
	got = Best("test", sv, []genostore.Variant{target(0, "A", "T,G")}, Flags{MatchMultiallelic: true})
	if got.MatchType == RefAlt {
		t.Error("Second alternate alleles must not be evaluated")
	}
}

func TestHigherPriorityWins(t *testing.T) {
	sv := scoreVariant("A", "G")

	// One target row offers AltRefFlip, another offers RefAlt; the numeric
	// priority must decide.
	targets := []genostore.Variant{
		target(0, "C", "T"), // altref_flip
		target(1, "A", "G"), // refalt
	}
	got := Best("test", sv, targets, Flags{})
	if got.MatchType != RefAlt || got.GenoIndex != 1 {
		t.Errorf("Expected refalt at geno index 1, got %v at %d", got.MatchType, got.GenoIndex)
	}
}

func TestTieBreakIsLowestGenoIndex(t *testing.T) {
	sv := scoreVariant("A", "G")

	targets := []genostore.Variant{
		target(7, "A", "G"),
		target(3, "A", "G"),
	}
	got := Best("test", sv, targets, Flags{})
	if got.GenoIndex != 7 {
		// Targets arrive in geno_index order from the store; within equal
		// priority the first row wins, so with pre-sorted input the lowest
		// geno_index wins.
		t.Errorf("First-row tie-break violated, got geno index %d", got.GenoIndex)
	}

	got = Best("test", sv, []genostore.Variant{targets[1], targets[0]}, Flags{})
	if got.GenoIndex != 3 {
		t.Errorf("First-row tie-break violated, got geno index %d", got.GenoIndex)
	}
}

func TestUnmatchedIsRecordedNotRaised(t *testing.T) {
	sv := scoreVariant("A", "G")

	got := Best("test", sv, nil, Flags{})
	if got.MatchType != NoMatch || got.IsMatched {
		t.Errorf("Expected no_match, got %v", got.MatchType)
	}
	if got.MatchSummary != Unmatched {
		t.Errorf("Expected unmatched summary, got %v", got.MatchSummary)
	}

	got = Best("test", sv, []genostore.Variant{target(0, "C", "A")}, Flags{})
	if got.MatchType != NoMatch {
		t.Errorf("Expected no_match for non-matching alleles, got %v", got.MatchType)
	}
}

func TestDeterminism(t *testing.T) {
	sv := scoreVariant("A", "G")
	targets := []genostore.Variant{
		target(0, "C", "T"),
		target(1, "A", "G"),
		target(2, "A", "G,T"),
	}

	first := Best("test", sv, targets, Flags{})
	for i := 0; i < 100; i++ {
		if got := Best("test", sv, targets, Flags{}); got != first {
			t.Fatalf("Run %d differed: %+v vs %+v", i, got, first)
		}
	}
}
