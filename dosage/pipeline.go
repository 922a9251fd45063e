package dosage

import (
	"fmt"

	"github.com/carbocation/pfx"
	"github.com/carbocation/pgscalc/genostore"
	"github.com/carbocation/pgscalc/match"
	"github.com/carbocation/pgscalc/scorefile"
)

// Matrix is the shared dosage rectangle for one score-calculation run:
// one row per matched scoring variant (in weight-matrix row order, grouped
// by target file), one column per sample. Mask records which cells were
// missing before imputation; the calculator uses it for allele counting.
type Matrix struct {
	NRows    int
	NSamples int
	Dosage   []float64 // row-major
	Mask     []bool    // row-major, pre-imputation missingness
}

func NewMatrix(nRows, nSamples int) *Matrix {
	return &Matrix{
		NRows:    nRows,
		NSamples: nSamples,
		Dosage:   make([]float64, nRows*nSamples),
		Mask:     make([]bool, nRows*nSamples),
	}
}

func (m *Matrix) Row(i int) []float64 {
	return m.Dosage[i*m.NSamples : (i+1)*m.NSamples]
}

func (m *Matrix) MaskRow(i int) []bool {
	return m.Mask[i*m.NSamples : (i+1)*m.NSamples]
}

// stage is one deferred row-range computation: all matched variants of one
// target-file group, destined for rows [rowOffset, rowOffset+len(matches)).
// Building a stage performs no I/O and no writes; everything happens at
// Evaluate.
type stage struct {
	store     *genostore.Store
	filename  string
	rowOffset int
	matches   []match.Result
	effect    []scorefile.EffectType
	minImpute int
}

// Pipeline is an explicit staged computation over the dosage matrix. Stages
// are appended per target-file group and evaluated sequentially; each stage
// writes only its contiguous row range, so no two stages ever race on a row.
type Pipeline struct {
	matrix  *Matrix
	stages  []stage
	nextRow int
}

func NewPipeline(nRows, nSamples int) *Pipeline {
	return &Pipeline{matrix: NewMatrix(nRows, nSamples)}
}

// AddGroup schedules one target file's matched variants. matches and
// effectTypes run parallel; rows are assigned contiguously in call order,
// and the row offset accumulates monotonically across groups. The returned
// offset is the group's first row in the shared matrix.
func (p *Pipeline) AddGroup(store *genostore.Store, filename string, matches []match.Result, effectTypes []scorefile.EffectType, minImpute int) int {
	offset := p.nextRow
	p.stages = append(p.stages, stage{
		store:     store,
		filename:  filename,
		rowOffset: offset,
		matches:   matches,
		effect:    effectTypes,
		minImpute: minImpute,
	})
	p.nextRow += len(matches)

	return offset
}

// Evaluate materializes every stage in order and returns the filled matrix.
// This is the only point in the pipeline with side effects.
func (p *Pipeline) Evaluate() (*Matrix, error) {
	for _, st := range p.stages {
		if err := st.run(p.matrix); err != nil {
			return nil, err
		}
	}

	return p.matrix, nil
}

func (st stage) run(m *Matrix) error {
	fileRows := make([]int, 0, len(st.matches))
	for _, mr := range st.matches {
		fileRows = append(fileRows, mr.FileRow)
	}

	calls, err := st.store.ReadCalls(st.filename, fileRows)
	if err != nil {
		return err
	}

	for i, mr := range st.matches {
		row := calls[mr.FileRow]
		if row == nil {
			return pfx.Err(ErrMissingRow{Filename: st.filename, FileRow: mr.FileRow})
		}

		dosages, missingMask := Extract(row, mr.EffectAlleleIdx)
		if err := FillMissing(dosages, missingMask, st.minImpute); err != nil {
			return err
		}
		AdjustEffectType(dosages, st.effect[i])

		copy(m.Row(st.rowOffset+i), dosages)
		copy(m.MaskRow(st.rowOffset+i), missingMask)
	}

	return nil
}

type ErrMissingRow struct {
	Filename string
	FileRow  int
}

func (e ErrMissingRow) Error() string {
	return fmt.Sprintf("dosage: no cached genotype row in %s at file row %d", e.Filename, e.FileRow)
}
