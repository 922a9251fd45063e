// Package ancestry assigns target samples to their most-similar reference
// population in PCA space and re-normalizes polygenic scores against that
// population's distribution.
package ancestry

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/gocarina/gocsv"

	pgscalc "github.com/carbocation/pgscalc"
)

// MinReferenceSamples is the QC floor for a usable reference panel.
const MinReferenceSamples = 100

// ErrReferenceTooSmall is fatal: ancestry assignment against a tiny panel
// is statistically meaningless.
type ErrReferenceTooSmall struct {
	N int
}

func (e ErrReferenceTooSmall) Error() string {
	return fmt.Sprintf("ancestry: reference panel has %d samples, need at least %d", e.N, MinReferenceSamples)
}

// Sample is one row of a loaded PCA table.
type Sample struct {
	ID         string
	Population string // empty for target samples
	Unrelated  bool   // eligible for model training
	PCs        []float64
}

// PrincipalComponents owns a lazily-loaded table of per-sample PCA
// coordinates, optionally joined with population labels and relatedness
// exclusions. Construct with NewReferencePCA or NewTargetPCA; coordinates
// are read on first use.
type PrincipalComponents struct {
	coordPath string
	popPath   string
	relPath   string

	loaded  bool
	nPCs    int
	samples []Sample
}

// NewReferencePCA describes a reference panel: coordinates plus population
// labels, with an optional relatedness-exclusion file (sample IDs to keep
// out of model training).
func NewReferencePCA(coordPath, popPath, relPath string) *PrincipalComponents {
	return &PrincipalComponents{coordPath: coordPath, popPath: popPath, relPath: relPath}
}

// NewTargetPCA describes target samples: coordinates only.
func NewTargetPCA(coordPath string) *PrincipalComponents {
	return &PrincipalComponents{coordPath: coordPath}
}

// popRow is the gocsv shape of the population-label file.
type popRow struct {
	SampleID   string `csv:"sample_id"`
	Population string `csv:"population"`
}

// relRow is the gocsv shape of the relatedness-exclusion file.
type relRow struct {
	SampleID string `csv:"sample_id"`
}

// Load reads the table if it has not been read yet.
func (p *PrincipalComponents) Load() error {
	if p.loaded {
		return nil
	}

	samples, nPCs, err := readCoordinates(p.coordPath)
	if err != nil {
		return err
	}

	if p.popPath != "" {
		pops, err := readPopulations(p.popPath)
		if err != nil {
			return err
		}
		for i := range samples {
			samples[i].Population = pops[samples[i].ID]
		}
	}

	excluded := make(map[string]bool)
	if p.relPath != "" {
		excluded, err = readExclusions(p.relPath)
		if err != nil {
			return err
		}
	}
	for i := range samples {
		samples[i].Unrelated = !excluded[samples[i].ID]
	}

	p.samples = samples
	p.nPCs = nPCs
	p.loaded = true

	return nil
}

func (p *PrincipalComponents) Samples() ([]Sample, error) {
	if err := p.Load(); err != nil {
		return nil, err
	}
	return p.samples, nil
}

// NPCs reports how many principal components the file provides; requests to
// use more than this are rejected by the assigner.
func (p *PrincipalComponents) NPCs() (int, error) {
	if err := p.Load(); err != nil {
		return 0, err
	}
	return p.nPCs, nil
}

// readCoordinates parses a delimited table whose header contains a sample
// identifier column followed by PC1..PCn. The PC column count varies by
// upstream PCA tooling, so the header drives parsing instead of a fixed
// struct shape.
func readCoordinates(path string) ([]Sample, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, pfx.Err(err)
	}
	defer f.Close()

	fd, err := pgscalc.MaybeDecompressReadCloserFromFile(f)
	if err != nil {
		return nil, 0, pfx.Err(err)
	}
	defer fd.Close()

	reader := csv.NewReader(fd)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, pfx.Err(err)
	}

	idCol := -1
	pcCols := make([]int, 0, len(header))
	for i, name := range header {
		switch {
		case strings.EqualFold(name, "sample_id") || strings.EqualFold(name, "IID") || name == "#IID":
			idCol = i
		case strings.HasPrefix(strings.ToUpper(name), "PC"):
			pcCols = append(pcCols, i)
		}
	}
	if idCol < 0 {
		return nil, 0, pfx.Err(fmt.Errorf("%s: no sample identifier column in header %v", path, header))
	}
	if len(pcCols) == 0 {
		return nil, 0, pfx.Err(fmt.Errorf("%s: no PC columns in header %v", path, header))
	}

	maxCol := idCol
	for _, c := range pcCols {
		if c > maxCol {
			maxCol = c
		}
	}

	var samples []Sample
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, 0, pfx.Err(err)
		}

		if len(row) <= maxCol {
			return nil, 0, pfx.Err(fmt.Errorf("%s: row %v has %d fields but the header names %d", path, row, len(row), maxCol+1))
		}

		s := Sample{ID: row[idCol], PCs: make([]float64, 0, len(pcCols))}
		for _, c := range pcCols {
			v, err := strconv.ParseFloat(row[c], 64)
			if err != nil {
				return nil, 0, pfx.Err(fmt.Errorf("%s: sample %s: %w", path, s.ID, err))
			}
			s.PCs = append(s.PCs, v)
		}
		samples = append(samples, s)
	}

	return samples, len(pcCols), nil
}

func readPopulations(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	var rows []popRow
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		r := csv.NewReader(in)
		r.Comma = '\t'
		return r
	})
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, pfx.Err(err)
	}

	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.SampleID] = r.Population
	}

	return out, nil
}

func readExclusions(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	var rows []relRow
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		r := csv.NewReader(in)
		r.Comma = '\t'
		return r
	})
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, pfx.Err(err)
	}

	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[r.SampleID] = true
	}

	return out, nil
}
