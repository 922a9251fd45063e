package ancestry

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/carbocation/pfx"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// CovarianceModel is a fitted location/scatter estimate over PCA
// coordinates, queryable for squared Mahalanobis distances.
type CovarianceModel struct {
	Mean []float64
	chol mat.Cholesky
}

// FitEmpirical fits the standard sample mean and covariance over the rows
// of x.
func FitEmpirical(x *mat.Dense) (*CovarianceModel, error) {
	n, p := x.Dims()
	if n <= p {
		return nil, pfx.Err(fmt.Errorf("ancestry: %d observations cannot support a %d-dimensional covariance", n, p))
	}

	mean := make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, x)
		mean[j] = stat.Mean(col, nil)
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, x, nil)

	m := &CovarianceModel{Mean: mean}
	if ok := m.chol.Factorize(&cov); !ok {
		return nil, pfx.Err(fmt.Errorf("ancestry: covariance matrix is not positive definite"))
	}

	return m, nil
}

// FitMCD fits a minimum-covariance-determinant estimate: start from a random
// subset holding supportFraction of the rows, then iterate C-steps (refit on
// the rows closest to the current estimate) until the covariance determinant
// stops shrinking. A robust alternative to FitEmpirical when the reference
// panel carries outliers.
func FitMCD(x *mat.Dense, supportFraction float64, maxSteps int, seed int64) (*CovarianceModel, error) {
	n, p := x.Dims()
	h := int(supportFraction * float64(n))
	if h <= p {
		return nil, pfx.Err(fmt.Errorf("ancestry: support of %d rows cannot estimate %d dimensions", h, p))
	}
	if h >= n {
		return FitEmpirical(x)
	}

	rng := rand.New(rand.NewSource(seed))
	subset := rng.Perm(n)[:h]

	model, err := fitRows(x, subset)
	if err != nil {
		return nil, err
	}
	best := model.chol.LogDet()

	row := make([]float64, p)
	for step := 0; step < maxSteps; step++ {
		// C-step: keep the h rows nearest to the current estimate.
		type scored struct {
			idx int
			dsq float64
		}
		distances := make([]scored, n)
		for i := 0; i < n; i++ {
			mat.Row(row, i, x)
			distances[i] = scored{i, model.MahalanobisSq(row)}
		}
		sort.Slice(distances, func(a, b int) bool { return distances[a].dsq < distances[b].dsq })

		for i := 0; i < h; i++ {
			subset[i] = distances[i].idx
		}

		next, err := fitRows(x, subset)
		if err != nil {
			return nil, err
		}

		logDet := next.chol.LogDet()
		if logDet >= best {
			break
		}
		model, best = next, logDet
	}

	return model, nil
}

func fitRows(x *mat.Dense, rows []int) (*CovarianceModel, error) {
	_, p := x.Dims()
	sub := mat.NewDense(len(rows), p, nil)
	for i, r := range rows {
		sub.SetRow(i, mat.Row(nil, r, x))
	}

	return FitEmpirical(sub)
}

// MahalanobisSq returns the squared Mahalanobis distance from the model's
// centroid.
func (m *CovarianceModel) MahalanobisSq(x []float64) float64 {
	diff := make([]float64, len(x))
	for i := range x {
		diff[i] = x[i] - m.Mean[i]
	}

	d := stat.Mahalanobis(
		mat.NewVecDense(len(diff), diff),
		mat.NewVecDense(len(m.Mean), make([]float64, len(m.Mean))),
		&m.chol,
	)

	return d * d
}

// ChiSquaredPValue converts a squared Mahalanobis distance into a p-value
// via the chi-squared survival function.
func ChiSquaredPValue(dsq float64, df int) float64 {
	if df < 1 {
		df = 1
	}
	return distuv.ChiSquared{K: float64(df)}.Survival(dsq)
}
