// Package match joins Score Variant Table rows to cached target-genome
// variants and resolves the best allele-orientation match for each scoring
// variant under a fixed priority ordering.
package match

import "strings"

// MatchType is the closed set of allele-orientation classifications. The
// numeric value is the match priority: when several target rows or
// orientations are available for one scoring variant, the highest value
// wins.
type MatchType int

const (
	NoMatch    MatchType = 0 // no orientation matched
	Excluded   MatchType = 1 // matched but excluded by the ambiguity/multiallelic policy
	AltNoOA    MatchType = 2 // effect allele equals target alt; no other allele in the scoring file
	RefNoOA    MatchType = 3 // effect allele equals target ref; no other allele in the scoring file
	AltRefFlip MatchType = 4 // complemented effect allele equals alt, complemented other equals ref
	RefAltFlip MatchType = 5 // complemented effect allele equals ref, complemented other equals alt
	AltRef     MatchType = 6 // effect allele equals alt, other equals ref
	RefAlt     MatchType = 7 // effect allele equals ref, other equals alt
)

func (m MatchType) String() string {
	switch m {
	case RefAlt:
		return "refalt"
	case AltRef:
		return "altref"
	case RefAltFlip:
		return "refalt_flip"
	case AltRefFlip:
		return "altref_flip"
	case RefNoOA:
		return "ref_no_oa"
	case AltNoOA:
		return "alt_no_oa"
	case Excluded:
		return "excluded"
	case NoMatch:
		return "no_match"
	}

	return "invalid"
}

// Priority is the numeric rank used for best-match selection.
func (m MatchType) Priority() int {
	return int(m)
}

// Summary is the three-way rollup used for match-rate accounting.
type Summary int

const (
	Unmatched Summary = iota
	SummaryExcluded
	Matched
)

func (s Summary) String() string {
	switch s {
	case Matched:
		return "matched"
	case SummaryExcluded:
		return "excluded"
	}
	return "unmatched"
}

// SummaryOf rolls a match type up into the matched/excluded/unmatched
// partition used by the match-rate gate.
func (m MatchType) SummaryOf() Summary {
	switch m {
	case NoMatch:
		return Unmatched
	case Excluded:
		return SummaryExcluded
	}
	return Matched
}

var complements = map[byte]byte{
	'A': 'T',
	'T': 'A',
	'C': 'G',
	'G': 'C',
}

// Complement returns the nucleotide complement of an allele, or "" if the
// allele contains a non-ACGT base. Multi-base alleles are complemented
// base-by-base (strand flips reverse orientation, but matching compares
// allele content only).
func Complement(allele string) string {
	allele = strings.ToUpper(allele)
	out := make([]byte, len(allele))
	for i := 0; i < len(allele); i++ {
		c, ok := complements[allele[i]]
		if !ok {
			return ""
		}
		out[i] = c
	}

	return string(out)
}

// IsBiallelicAmbiguous reports whether a ref/alt pair is strand-ambiguous:
// both alleles are single bases and each is the other's complement (A/T or
// C/G). Multi-base alleles are never ambiguous.
func IsBiallelicAmbiguous(ref, alt string) bool {
	if len(ref) != 1 || len(alt) != 1 {
		return false
	}

	return Complement(ref) == strings.ToUpper(alt)
}
