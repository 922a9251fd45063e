package match

import (
	"strings"

	"github.com/carbocation/pgscalc/genostore"
	"github.com/carbocation/pgscalc/scorefile"
)

// Flags are the matching policy switches. Both default to false: ambiguous
// and multiallelic candidates are excluded unless explicitly permitted.
type Flags struct {
	MatchAmbiguous    bool
	MatchMultiallelic bool
}

// Result is the single best allele match for one scoring-file variant, or
// its no-match record. There is exactly one Result per (accession, row_nr)
// per sampleset.
type Result struct {
	Sampleset string
	Accession string
	RowNr     int

	ChrName     string
	ChrPosition int

	// EffectAlleleIdx is 0 when the effect allele sits on the target ref, 1
	// when it sits on the (first) alt. Only meaningful when IsMatched.
	EffectAlleleIdx uint8
	GenoIndex       int
	Filename        string
	FileRow         int

	MatchType      MatchType
	MatchPriority  int
	MatchSummary   Summary
	IsMatched      bool
	IsAmbiguous    bool
	IsMultiallelic bool
}

// classify evaluates one scoring variant against one target variant and
// returns the orientation classification plus the effect-allele index.
// Multiallelic targets are evaluated against their first alternate allele
// only; the remaining alternates are not looped over.
func classify(sv scorefile.ScoreVariant, tv genostore.Variant, flags Flags) (mt MatchType, effectAlleleIdx uint8, ambiguous, multiallelic bool) {
	alts := tv.AltAlleles()
	if len(alts) == 0 {
		return NoMatch, 0, false, false
	}

	ref := strings.ToUpper(tv.Ref)
	alt := strings.ToUpper(alts[0])
	effect := strings.ToUpper(string(sv.EffectAllele))
	other := strings.ToUpper(string(sv.OtherAllele))

	multiallelic = tv.IsMultiallelic()
	ambiguous = IsBiallelicAmbiguous(ref, alt)

	// Determine the best orientation available for this target row,
	// independent of policy. Orientations are tested from highest to lowest
	// priority, so the first hit is the winner for this row.
	mt = NoMatch
	switch {
	case sv.HasOtherAllele() && effect == ref && other == alt:
		mt, effectAlleleIdx = RefAlt, 0
	case sv.HasOtherAllele() && effect == alt && other == ref:
		mt, effectAlleleIdx = AltRef, 1
	case sv.HasOtherAllele() && Complement(effect) == ref && Complement(other) == alt:
		mt, effectAlleleIdx = RefAltFlip, 0
	case sv.HasOtherAllele() && Complement(effect) == alt && Complement(other) == ref:
		mt, effectAlleleIdx = AltRefFlip, 1
	case !sv.HasOtherAllele() && effect == ref:
		mt, effectAlleleIdx = RefNoOA, 0
	case !sv.HasOtherAllele() && effect == alt:
		mt, effectAlleleIdx = AltNoOA, 1
	default:
		return NoMatch, 0, ambiguous, multiallelic
	}

	// Policy: a real orientation hit on an ambiguous or multiallelic site is
	// downgraded to Excluded unless the corresponding flag permits it.
	if ambiguous && !flags.MatchAmbiguous {
		return Excluded, effectAlleleIdx, ambiguous, multiallelic
	}
	if multiallelic && !flags.MatchMultiallelic {
		return Excluded, effectAlleleIdx, ambiguous, multiallelic
	}

	return mt, effectAlleleIdx, ambiguous, multiallelic
}

// Best resolves the winning match for one scoring variant across all target
// rows at its position. Ties on priority are broken deterministically by
// lowest geno_index, which is also the order VariantsAt returns rows in.
// An empty target slice yields a NoMatch record; unmatched variants never
// stop the pipeline.
func Best(sampleset string, sv scorefile.ScoreVariant, targets []genostore.Variant, flags Flags) Result {
	out := Result{
		Sampleset:   sampleset,
		Accession:   sv.Accession,
		RowNr:       sv.RowNr,
		ChrName:     sv.ChrName,
		ChrPosition: sv.ChrPosition,
		MatchType:   NoMatch,
		GenoIndex:   -1,
		FileRow:     -1,
	}

	for _, tv := range targets {
		mt, idx, ambiguous, multiallelic := classify(sv, tv, flags)
		if mt == NoMatch {
			continue
		}
		// Strictly-greater keeps the lowest-geno_index winner among exact
		// priority ties.
		if mt.Priority() > out.MatchPriority {
			out.MatchType = mt
			out.MatchPriority = mt.Priority()
			out.EffectAlleleIdx = idx
			out.GenoIndex = tv.GenoIndex
			out.Filename = tv.Filename
			out.FileRow = tv.FileRow
			out.IsAmbiguous = ambiguous
			out.IsMultiallelic = multiallelic
		}
	}

	out.MatchSummary = out.MatchType.SummaryOf()
	out.IsMatched = out.MatchSummary == Matched

	return out
}

// All matches every scoring variant against the store, returning one Result
// per input row in (accession, row_nr) order. Unmatched and excluded rows
// are recorded, not raised; quality gating happens in Summarize.
func All(store *genostore.Store, rows []scorefile.ScoreVariant, flags Flags) ([]Result, error) {
	out := make([]Result, 0, len(rows))
	for _, sv := range rows {
		targets, err := store.VariantsAt(sv.ChrName, sv.ChrPosition)
		if err != nil {
			return nil, err
		}
		out = append(out, Best(store.Sampleset, sv, targets, flags))
	}

	return out, nil
}
