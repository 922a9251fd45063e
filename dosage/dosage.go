// Package dosage converts hard genotype calls into continuous effect-allele
// dosage, imputes missing values from the cohort allele frequency, and
// applies dominant/recessive inheritance adjustments.
package dosage

import (
	"fmt"
	"math"

	"github.com/carbocation/pgscalc/genostore"
	"github.com/carbocation/pgscalc/scorefile"
)

// NMinimumImpute is the default minimum number of samples with non-missing
// calls a variant needs before mean imputation is considered trustworthy.
const NMinimumImpute = 50

// ErrImputeFloor reports a variant whose cohort had too few observed calls
// to impute from.
type ErrImputeFloor struct {
	Observed int
	Minimum  int
}

func (e ErrImputeFloor) Error() string {
	return fmt.Sprintf("dosage: only %d samples with non-missing calls, need at least %d to impute", e.Observed, e.Minimum)
}

// Extract computes per-sample effect-allele dosage for one variant from its
// flattened (sample, ploidy) call row. effectAlleleIdx is 0 when the effect
// allele is the target ref, 1 when it is the first alt. A sample with either
// call missing gets a NaN dosage and a true missing-mask entry: partial
// observations are treated as fully missing, never as a reduced count.
func Extract(calls []uint8, effectAlleleIdx uint8) (dosages []float64, missing []bool) {
	nSamples := len(calls) / 2
	dosages = make([]float64, nSamples)
	missing = make([]bool, nSamples)

	for i := 0; i < nSamples; i++ {
		a, b := calls[2*i], calls[2*i+1]
		if a == genostore.MissingCall || b == genostore.MissingCall {
			dosages[i] = math.NaN()
			missing[i] = true
			continue
		}

		var d float64
		if a == effectAlleleIdx {
			d++
		}
		if b == effectAlleleIdx {
			d++
		}
		dosages[i] = d
	}

	return dosages, missing
}

// FillMissing replaces NaN dosages in place with twice the observed
// effect-allele frequency (mean imputation). If no dosage is missing, the
// input is returned untouched. Imputation with fewer than minImpute observed
// samples is refused.
func FillMissing(dosages []float64, missing []bool, minImpute int) error {
	var observed int
	var total float64
	anyMissing := false
	for i, d := range dosages {
		if missing[i] {
			anyMissing = true
			continue
		}
		observed++
		total += d
	}

	if !anyMissing {
		return nil
	}

	if observed < minImpute {
		return ErrImputeFloor{Observed: observed, Minimum: minImpute}
	}

	frequency := total / (2 * float64(observed))
	expected := 2 * frequency
	for i := range dosages {
		if missing[i] {
			dosages[i] = expected
		}
	}

	return nil
}

// AdjustEffectType maps raw allele-count dosage onto the declared
// inheritance model, in place. Dominant caps at one copy; recessive drops
// the first copy and clamps at zero; additive passes through. Contradictory
// effect-type input is rejected upstream at parse time.
func AdjustEffectType(dosages []float64, effectType scorefile.EffectType) {
	switch effectType {
	case scorefile.Dominant:
		for i, d := range dosages {
			if d > 1 {
				dosages[i] = 1
			}
		}
	case scorefile.Recessive:
		for i, d := range dosages {
			dosages[i] = math.Max(d-1, 0)
		}
	}
}
