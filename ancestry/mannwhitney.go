package ancestry

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// MannWhitneyU computes the two-sided Mann-Whitney U test between two
// samples using the normal approximation with midranks and a tie
// correction. gonum does not ship a rank-sum test, so this stays local. It
// is used only to flag PCs whose reference/target separation looks like
// batch structure rather than ancestry, so the approximation (valid for
// n >= ~20, which the caller enforces) is sufficient.
func MannWhitneyU(xs, ys []float64) (u, p float64) {
	n1, n2 := float64(len(xs)), float64(len(ys))
	if n1 == 0 || n2 == 0 {
		return 0, 1
	}

	type obs struct {
		value float64
		first bool
	}
	pooled := make([]obs, 0, len(xs)+len(ys))
	for _, x := range xs {
		pooled = append(pooled, obs{x, true})
	}
	for _, y := range ys {
		pooled = append(pooled, obs{y, false})
	}
	sort.Slice(pooled, func(i, j int) bool { return pooled[i].value < pooled[j].value })

	// Midranks, accumulating the tie-correction term Σ(t³-t).
	ranks := make([]float64, len(pooled))
	tieTerm := 0.0
	for i := 0; i < len(pooled); {
		j := i
		for j < len(pooled) && pooled[j].value == pooled[i].value {
			j++
		}
		midrank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[k] = midrank
		}
		t := float64(j - i)
		tieTerm += t*t*t - t
		i = j
	}

	var r1 float64
	for i, o := range pooled {
		if o.first {
			r1 += ranks[i]
		}
	}

	u1 := r1 - n1*(n1+1)/2
	u2 := n1*n2 - u1
	u = math.Min(u1, u2)

	n := n1 + n2
	mean := n1 * n2 / 2
	variance := n1 * n2 / 12 * ((n + 1) - tieTerm/(n*(n-1)))
	if variance <= 0 {
		return u, 1
	}

	// Continuity-corrected two-sided p.
	z := (math.Abs(u-mean) - 0.5) / math.Sqrt(variance)
	if z < 0 {
		z = 0
	}
	p = 2 * distuv.UnitNormal.Survival(z)
	if p > 1 {
		p = 1
	}

	return u, p
}
