// Package scorefile loads normalized polygenic scoring-file rows into the
// Score Variant Table consumed by the matcher. One scoring file corresponds
// to one accession (e.g., a PGS Catalog ID such as PGS000001).
package scorefile

import (
	"errors"
	"fmt"
)

type Allele string

// EffectType is a closed enumeration of the inheritance models a scoring file
// may declare for a variant.
type EffectType int

const (
	Additive EffectType = iota
	Dominant
	Recessive
	NonAdditive
)

func (e EffectType) String() string {
	switch e {
	case Additive:
		return "additive"
	case Dominant:
		return "dominant"
	case Recessive:
		return "recessive"
	case NonAdditive:
		return "nonadditive"
	}

	return fmt.Sprintf("EffectType(%d)", int(e))
}

// ErrNonAdditive marks a scoring file that uses non-additive weighting, which
// the calculator does not support. Batch drivers skip the file with a warning
// and keep going; the batch as a whole only fails when every file is skipped.
var ErrNonAdditive = errors.New("scorefile: non-additive effect type is not supported")

// ErrInvalidEffectType marks a row that declares contradictory inheritance
// models (dominant and recessive at once). This is corrupt input and is fatal.
var ErrInvalidEffectType = errors.New("scorefile: variant flagged both dominant and recessive")

// ParseEffectType maps the textual effect-type columns of a harmonized
// scoring file onto the closed enum. isDominant and isRecessive come from the
// legacy boolean columns; both true is contradictory input.
func ParseEffectType(isDominant, isRecessive bool) (EffectType, error) {
	switch {
	case isDominant && isRecessive:
		return Additive, ErrInvalidEffectType
	case isDominant:
		return Dominant, nil
	case isRecessive:
		return Recessive, nil
	}

	return Additive, nil
}

// ScoreVariant is one parsed row of a scoring file. (Accession, RowNr) is
// unique across the whole run. EffectWeight is a float64 from this layer
// onward; upstream formatting is responsible for preserving the published
// string precision.
type ScoreVariant struct {
	Accession    string
	RowNr        int
	ChrName      string
	ChrPosition  int
	EffectAllele Allele
	OtherAllele  Allele
	EffectWeight float64
	EffectType   EffectType
	IsDuplicated bool
}

// HasOtherAllele reports whether the scoring file supplied a non-effect
// allele for this row. Rows without one can only be matched on the effect
// allele ("no other allele" orientations).
func (sv ScoreVariant) HasOtherAllele() bool {
	return sv.OtherAllele != "" && sv.OtherAllele != "."
}
