package scorefile

import "strings"

// Layout describes where in a delimited scoring file each field lives, along
// with an optional row-parse hook for layouts that need per-row fixups (e.g.,
// stripping "chr" prefixes).
type Layout struct {
	Delimiter       rune
	Comment         rune
	ColChromosome   int
	ColPosition     int
	ColEffectAllele int
	ColOtherAllele  int
	ColWeight       int
	ColEffectType   int // -1 if the layout has no effect-type column (additive assumed)
	Parser          *func(layout *Layout, row []string) (ScoreVariant, error)
}

var Layouts = map[string]Layout{
	// The PGS Catalog harmonized format after upstream normalization:
	// chr_name, chr_position, effect_allele, other_allele, effect_weight,
	// effect_type.
	"PGSCATALOG": {
		Delimiter:       '\t',
		Comment:         '#',
		ColChromosome:   0,
		ColPosition:     1,
		ColEffectAllele: 2,
		ColOtherAllele:  3,
		ColWeight:       4,
		ColEffectType:   5,
		Parser:          &defaultParseRow,
	},
	// LDPred output: chrom, pos, snpid, a1 (effect), a2, ..., weight. No
	// effect-type column; everything is additive.
	"LDPRED": {
		Delimiter:       ' ',
		Comment:         '#',
		ColChromosome:   0,
		ColPosition:     1,
		ColEffectAllele: 3,
		ColOtherAllele:  4,
		ColWeight:       6,
		ColEffectType:   -1,
		Parser:          &ldpredParseRow,
	},
}

func LayoutNames() string {
	b := strings.Builder{}
	i := 0
	for m := range Layouts {
		if i != 0 {
			b.WriteString(", ")
		}
		b.WriteString(m)
		i++
	}

	return b.String()
}
