package scorefile

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// Parser parses rows of one scoring-file layout into ScoreVariants.
type Parser struct {
	CSVReaderSettings *csv.Reader
	Layout            Layout
}

func New(layout string) (*Parser, error) {
	l, exists := Layouts[layout]
	if !exists {
		return nil, fmt.Errorf("layout %s is not found. Valid layout names include: %s", layout, LayoutNames())
	}

	return NewWithLayout(l)
}

func NewWithLayout(layout Layout) (*Parser, error) {
	n := &Parser{}
	n.Layout = layout
	n.CSVReaderSettings = &csv.Reader{}
	n.CSVReaderSettings.Comma = layout.Delimiter
	n.CSVReaderSettings.Comment = layout.Comment

	return n, nil
}

func (p *Parser) ParseRow(row []string) (ScoreVariant, error) {
	if p.Layout.Parser == nil {
		return DefaultParseRow(&p.Layout, row)
	}

	return (*p.Layout.Parser)(&p.Layout, row)
}

// DefaultParseRow interprets a row according to the layout's column map
// without applying any layout-specific fixups.
func DefaultParseRow(layout *Layout, row []string) (ScoreVariant, error) {
	sv := ScoreVariant{}

	maxCol := layout.ColWeight
	for _, c := range []int{layout.ColChromosome, layout.ColPosition, layout.ColEffectAllele, layout.ColOtherAllele, layout.ColEffectType} {
		if c > maxCol {
			maxCol = c
		}
	}
	if len(row) <= maxCol {
		return sv, fmt.Errorf("row has %d columns but the layout requires at least %d", len(row), maxCol+1)
	}

	sv.ChrName = row[layout.ColChromosome]
	sv.EffectAllele = Allele(strings.ToUpper(row[layout.ColEffectAllele]))
	sv.OtherAllele = Allele(strings.ToUpper(row[layout.ColOtherAllele]))

	pos, err := strconv.Atoi(row[layout.ColPosition])
	if err != nil {
		return sv, err
	}
	sv.ChrPosition = pos

	weight, err := strconv.ParseFloat(row[layout.ColWeight], 64)
	if err != nil {
		return sv, err
	}
	sv.EffectWeight = weight

	if layout.ColEffectType >= 0 {
		et, err := parseEffectTypeText(row[layout.ColEffectType])
		if err != nil {
			return sv, err
		}
		sv.EffectType = et
	}

	return sv, nil
}

var defaultParseRow = DefaultParseRow

// ldpredParseRow additionally strips the chrom_ prefix LDPred emits on its
// chromosome column.
var ldpredParseRow = func(layout *Layout, row []string) (ScoreVariant, error) {
	sv, err := DefaultParseRow(layout, row)
	if err != nil {
		return sv, err
	}

	sv.ChrName = strings.TrimPrefix(sv.ChrName, "chrom_")
	sv.ChrName = strings.TrimPrefix(sv.ChrName, "chr")

	return sv, nil
}

func parseEffectTypeText(text string) (EffectType, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "", "additive":
		return Additive, nil
	case "dominant":
		return Dominant, nil
	case "recessive":
		return Recessive, nil
	case "nonadditive", "non-additive":
		return NonAdditive, nil
	}

	return Additive, fmt.Errorf("unrecognized effect type %q", text)
}
