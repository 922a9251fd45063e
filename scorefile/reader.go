package scorefile

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"

	"github.com/carbocation/pfx"
	log "github.com/sirupsen/logrus"

	pgscalc "github.com/carbocation/pgscalc"
)

// Load reads one possibly-compressed scoring file and returns its Score
// Variant Table rows. RowNr is assigned in file order starting from 0 and,
// together with the accession, uniquely identifies each row for the rest of
// the run. Duplicated (chromosome, position, effect allele, other allele)
// rows within the file are flagged rather than dropped.
//
// Files whose rows use non-additive weighting return ErrNonAdditive so batch
// callers can skip the file and continue with its siblings.
func Load(path, accession, layout string) ([]ScoreVariant, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	fd, err := pgscalc.MaybeDecompressReadCloserFromFile(f)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer fd.Close()

	// The DETECT pseudo-layout uses the PGS Catalog column order but
	// sniffs the delimiter, since files in the wild are variously tab-,
	// comma-, and space-delimited.
	if layout == "DETECT" {
		raw, err := io.ReadAll(fd)
		if err != nil {
			return nil, pfx.Err(err)
		}

		detected := Layouts["PGSCATALOG"]
		detected.Delimiter = pgscalc.DetermineDelimiter(bytes.NewReader(raw))
		parser, err := NewWithLayout(detected)
		if err != nil {
			return nil, pfx.Err(err)
		}

		return load(bytes.NewReader(raw), accession, parser)
	}

	parser, err := New(layout)
	if err != nil {
		return nil, pfx.Err(err)
	}

	return load(fd, accession, parser)
}

func load(fd io.Reader, accession string, parser *Parser) ([]ScoreVariant, error) {
	reader := csv.NewReader(fd)
	reader.Comma = parser.CSVReaderSettings.Comma
	reader.Comment = parser.CSVReaderSettings.Comment
	reader.TrimLeadingSpace = parser.CSVReaderSettings.TrimLeadingSpace
	reader.FieldsPerRecord = -1

	type siteKey struct {
		chr    string
		pos    int
		effect Allele
		other  Allele
	}
	seen := make(map[siteKey]int)

	out := make([]ScoreVariant, 0)
	rowNr := 0
	for i := 0; ; i++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, pfx.Err(err)
		}

		sv, err := parser.ParseRow(row)
		if err != nil && i == 0 {
			// Permit a header and skip it
			continue
		} else if err != nil {
			return nil, pfx.Err(err)
		}

		if sv.EffectType == NonAdditive {
			return nil, ErrNonAdditive
		}

		sv.Accession = accession
		sv.RowNr = rowNr
		rowNr++

		key := siteKey{sv.ChrName, sv.ChrPosition, sv.EffectAllele, sv.OtherAllele}
		if prior, exists := seen[key]; exists {
			sv.IsDuplicated = true
			out[prior].IsDuplicated = true
		} else {
			seen[key] = len(out)
		}

		out = append(out, sv)
	}

	if len(out) == 0 {
		log.Warnf("scoring file for %s contained no parseable rows", accession)
	}

	return out, nil
}
