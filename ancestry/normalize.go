package ancestry

import (
	"fmt"
	"io"
	stdlog "log"
	"math"

	"github.com/carbocation/pfx"
	"github.com/carbocation/runningvariance"
	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gopkg.in/guregu/null.v3"
)

// NormMethod selects a PGS normalization strategy. The three strategies are
// independently selectable and produce separate output columns.
type NormMethod int

const (
	// EmpiricalNorm reports percentile and Z against the assigned
	// population's raw score distribution.
	EmpiricalNorm NormMethod = iota
	// MeanNorm regresses score on PCs and standardizes the residual
	// ("Z_norm1").
	MeanNorm
	// MeanVarNorm additionally models residual variance on PCs
	// ("Z_norm2").
	MeanVarNorm
)

// FitResult is the outcome of a numerical fit. Callers must branch on
// Converged instead of poking at diagnostics; a non-converged fit still
// carries its best-effort parameters.
type FitResult struct {
	Converged   bool
	Params      []float64
	Diagnostics map[string]float64
}

// ScoreInput is one sample's raw aggregated score (SUM) for one accession,
// joined with its similarity assignment.
type ScoreInput struct {
	Assignment
	Accession string
	Sum       float64
}

// AdjustedScore is one sample's normalized outputs for one accession.
// Columns for strategies that were not requested, or that could not be
// computed, stay null.
type AdjustedScore struct {
	SampleID    string
	IsReference bool
	Accession   string
	Population  string
	Sum         float64

	Percentile null.Float
	Z          null.Float
	ZNorm1     null.Float
	ZNorm2     null.Float
}

// NormalizeConfig selects strategies and the mean+variance fitting mode.
type NormalizeConfig struct {
	Methods []NormMethod
	// StandardizePCs standardizes PC columns before regression.
	StandardizePCs bool
	// FullLikelihood re-optimizes the mean and variance coefficients
	// jointly after the two-step fit.
	FullLikelihood bool
}

// SkippedAccession records an accession excluded from normalization, so
// skips leave a trace instead of silently vanishing.
type SkippedAccession struct {
	Accession string
	Reason    string
}

var glmConfig = &glm.Config{
	Family:    glm.NewFamily(glm.GammaFamily),
	Link:      glm.NewLink(glm.LogLink),
	FitMethod: "IRLS",
	Log:       stdlog.New(io.Discard, "", 0),
}

// Normalize applies the configured strategies to one accession's scores.
// Reference training samples define every distribution and regression;
// reference and target samples are both normalized against them. An
// accession with zero variance in either its reference or its target SUMs
// is skipped entirely with a warning (the division-by-zero guard) and
// reported in the returned skip record.
func Normalize(inputs []ScoreInput, cfg NormalizeConfig) ([]AdjustedScore, map[NormMethod]FitResult, *SkippedAccession, error) {
	if len(inputs) == 0 {
		return nil, nil, nil, nil
	}
	accession := inputs[0].Accession

	refStat, targetStat := runningvariance.NewRunningStat(), runningvariance.NewRunningStat()
	for _, in := range inputs {
		if in.IsReference {
			refStat.Push(in.Sum)
		} else {
			targetStat.Push(in.Sum)
		}
	}
	if refStat.N > 0 && refStat.StandardDeviation() == 0 {
		skip := &SkippedAccession{Accession: accession, Reason: "zero variance in reference SUM"}
		log.Warnf("Skipping %s: %s", accession, skip.Reason)
		return nil, nil, skip, nil
	}
	if targetStat.N > 0 && targetStat.StandardDeviation() == 0 {
		skip := &SkippedAccession{Accession: accession, Reason: "zero variance in target SUM"}
		log.Warnf("Skipping %s: %s", accession, skip.Reason)
		return nil, nil, skip, nil
	}

	out := make([]AdjustedScore, len(inputs))
	for i, in := range inputs {
		out[i] = AdjustedScore{
			SampleID:    in.SampleID,
			IsReference: in.IsReference,
			Accession:   in.Accession,
			Population:  in.Population,
			Sum:         in.Sum,
		}
	}

	fits := make(map[NormMethod]FitResult)
	for _, method := range cfg.Methods {
		switch method {
		case EmpiricalNorm:
			if err := normalizeEmpirical(inputs, out); err != nil {
				return nil, nil, nil, err
			}
		case MeanNorm:
			fit, err := normalizeMean(inputs, out, cfg.StandardizePCs)
			if err != nil {
				return nil, nil, nil, err
			}
			fits[MeanNorm] = fit
		case MeanVarNorm:
			fit, err := normalizeMeanVar(inputs, out, cfg)
			if err != nil {
				return nil, nil, nil, err
			}
			fits[MeanVarNorm] = fit
		}
	}

	return out, fits, nil, nil
}

// normalizeEmpirical computes percentile rank and Z against the assigned
// population's reference training distribution.
func normalizeEmpirical(inputs []ScoreInput, out []AdjustedScore) error {
	byPop := make(map[string][]float64)
	for _, in := range inputs {
		if in.IsReference && in.Unrelated {
			byPop[in.Population] = append(byPop[in.Population], in.Sum)
		}
	}

	type popStats struct {
		mean, std float64
		sums      []float64
	}
	fitted := make(map[string]popStats, len(byPop))
	for pop, sums := range byPop {
		mean, err := stats.Mean(sums)
		if err != nil {
			return pfx.Err(err)
		}
		std, err := stats.StandardDeviation(sums)
		if err != nil {
			return pfx.Err(err)
		}
		fitted[pop] = popStats{mean: mean, std: std, sums: sums}
	}

	for i, in := range inputs {
		ps, exists := fitted[in.Population]
		if !exists || ps.std == 0 {
			continue
		}

		below := 0
		for _, s := range ps.sums {
			if s <= in.Sum {
				below++
			}
		}
		out[i].Percentile = null.FloatFrom(100 * float64(below) / float64(len(ps.sums)))
		out[i].Z = null.FloatFrom((in.Sum - ps.mean) / ps.std)
	}

	return nil
}

// designMatrix builds [1, PC1..PCn] rows for the given samples, optionally
// standardizing the PC columns using the training samples' moments.
func designMatrix(inputs []ScoreInput, standardize bool) (*mat.Dense, []int, error) {
	if len(inputs) == 0 {
		return nil, nil, pfx.Err(fmt.Errorf("ancestry: no samples to build a design matrix from"))
	}
	nPCs := len(inputs[0].PCs)

	var trainIdx []int
	for i, in := range inputs {
		if in.IsReference && in.Unrelated {
			trainIdx = append(trainIdx, i)
		}
	}
	if len(trainIdx) <= nPCs+1 {
		return nil, nil, pfx.Err(fmt.Errorf("ancestry: %d reference training samples cannot fit %d PCs", len(trainIdx), nPCs))
	}

	means := make([]float64, nPCs)
	stds := make([]float64, nPCs)
	for j := 0; j < nPCs; j++ {
		rs := runningvariance.NewRunningStat()
		for _, i := range trainIdx {
			rs.Push(inputs[i].PCs[j])
		}
		means[j] = rs.Mean()
		stds[j] = rs.StandardDeviation()
		if !standardize || stds[j] == 0 {
			means[j], stds[j] = 0, 1
		}
	}

	x := mat.NewDense(len(inputs), nPCs+1, nil)
	for i, in := range inputs {
		x.Set(i, 0, 1)
		for j := 0; j < nPCs; j++ {
			x.Set(i, j+1, (in.PCs[j]-means[j])/stds[j])
		}
	}

	return x, trainIdx, nil
}

// normalizeMean fits ordinary least squares of SUM on PCs over the
// reference training samples and standardizes everyone's residual by the
// training residual standard deviation.
func normalizeMean(inputs []ScoreInput, out []AdjustedScore, standardize bool) (FitResult, error) {
	x, trainIdx, err := designMatrix(inputs, standardize)
	if err != nil {
		return FitResult{}, err
	}
	_, p := x.Dims()

	xTrain := mat.NewDense(len(trainIdx), p, nil)
	yTrain := mat.NewVecDense(len(trainIdx), nil)
	for row, i := range trainIdx {
		xTrain.SetRow(row, mat.Row(nil, i, x))
		yTrain.SetVec(row, inputs[i].Sum)
	}

	var beta mat.VecDense
	if err := beta.SolveVec(xTrain, yTrain); err != nil {
		return FitResult{}, pfx.Err(err)
	}

	residStat := runningvariance.NewRunningStat()
	for _, i := range trainIdx {
		residStat.Push(inputs[i].Sum - predict(x, i, &beta))
	}
	sd := residStat.StandardDeviation()
	if sd == 0 {
		return FitResult{}, pfx.Err(fmt.Errorf("ancestry: zero residual variance in mean regression"))
	}

	for i := range inputs {
		out[i].ZNorm1 = null.FloatFrom((inputs[i].Sum - predict(x, i, &beta)) / sd)
	}

	params := make([]float64, p)
	copy(params, beta.RawVector().Data)

	return FitResult{
		Converged:   true,
		Params:      params,
		Diagnostics: map[string]float64{"residual_sd": sd, "n_train": float64(len(trainIdx))},
	}, nil
}

func predict(x *mat.Dense, row int, beta *mat.VecDense) float64 {
	_, p := x.Dims()
	var sum float64
	for j := 0; j < p; j++ {
		sum += x.At(row, j) * beta.AtVec(j)
	}
	return sum
}

// normalizeMeanVar runs the two-step fit (OLS for the mean, then a Gamma
// GLM with log link regressing squared residuals on the PCs for the
// variance) and optionally re-optimizes both coefficient vectors jointly
// under the full Gaussian likelihood.
func normalizeMeanVar(inputs []ScoreInput, out []AdjustedScore, cfg NormalizeConfig) (FitResult, error) {
	x, trainIdx, err := designMatrix(inputs, cfg.StandardizePCs)
	if err != nil {
		return FitResult{}, err
	}
	_, p := x.Dims()

	xTrain := mat.NewDense(len(trainIdx), p, nil)
	yTrain := mat.NewVecDense(len(trainIdx), nil)
	for row, i := range trainIdx {
		xTrain.SetRow(row, mat.Row(nil, i, x))
		yTrain.SetVec(row, inputs[i].Sum)
	}

	var beta mat.VecDense
	if err := beta.SolveVec(xTrain, yTrain); err != nil {
		return FitResult{}, pfx.Err(err)
	}

	// Step two: Gamma regression (log link) of squared mean-residuals on
	// the same design, giving log-linear predicted variance.
	gamma, err := fitGammaVariance(x, trainIdx, inputs, &beta, p)
	if err != nil {
		return FitResult{}, err
	}

	fit := FitResult{
		Converged:   true,
		Params:      append(append([]float64{}, beta.RawVector().Data...), gamma...),
		Diagnostics: map[string]float64{"n_train": float64(len(trainIdx))},
	}

	if cfg.FullLikelihood {
		fit = fitFullLikelihood(x, trainIdx, inputs, fit.Params, p)
	}

	betaHat := fit.Params[:p]
	gammaHat := fit.Params[p:]
	for i := range inputs {
		mean := dot(x, i, betaHat)
		sd := math.Sqrt(math.Exp(dot(x, i, gammaHat)))
		if sd == 0 || math.IsNaN(sd) || math.IsInf(sd, 0) {
			continue
		}
		out[i].ZNorm2 = null.FloatFrom((inputs[i].Sum - mean) / sd)
	}

	return fit, nil
}

func dot(x *mat.Dense, row int, coef []float64) float64 {
	var sum float64
	for j, c := range coef {
		sum += x.At(row, j) * c
	}
	return sum
}

func fitGammaVariance(x *mat.Dense, trainIdx []int, inputs []ScoreInput, beta *mat.VecDense, p int) (params []float64, fitErr error) {
	names := make([]string, 0, p+1)
	names = append(names, "resid2")
	series := make([][]statmodel.Dtype, 0, p+1)

	resid2 := make([]statmodel.Dtype, len(trainIdx))
	for row, i := range trainIdx {
		r := inputs[i].Sum - predict(x, i, beta)
		// A literally-zero squared residual breaks the Gamma family; nudge.
		resid2[row] = statmodel.Dtype(math.Max(r*r, 1e-12))
	}
	series = append(series, resid2)

	for j := 0; j < p; j++ {
		col := make([]statmodel.Dtype, len(trainIdx))
		for row, i := range trainIdx {
			col[row] = statmodel.Dtype(x.At(i, j))
		}
		series = append(series, col)
		if j == 0 {
			names = append(names, "intercept")
		} else {
			names = append(names, fmt.Sprintf("pc%d", j))
		}
	}

	dataset := statmodel.NewDataset(series, names)
	model, err := glm.NewGLM(dataset, "resid2", names[1:], glmConfig)
	if err != nil {
		return nil, pfx.Err(err)
	}

	// IRLS panics on singular or near-singular designs (e.g. collinear
	// PCs) rather than returning an error.
	defer func() {
		if recover() != nil {
			params = nil
			fitErr = pfx.Err(fmt.Errorf("ancestry: variance model fit failed on a singular design"))
		}
	}()
	result := model.Fit()

	return append([]float64{}, result.Params()...), nil
}

// fitFullLikelihood jointly minimizes the Gaussian negative log-likelihood
// over (beta, gamma) with BFGS and the analytic gradient, initialized from
// the two-step parameters. Non-convergence is a warning, not an error: the
// optimizer's best parameters are still returned, flagged via Converged.
func fitFullLikelihood(x *mat.Dense, trainIdx []int, inputs []ScoreInput, init []float64, p int) FitResult {
	nll := func(theta []float64) float64 {
		beta, gamma := theta[:p], theta[p:]
		var total float64
		for _, i := range trainIdx {
			resid := inputs[i].Sum - dot(x, i, beta)
			logVar := dot(x, i, gamma)
			total += 0.5*(math.Log(2*math.Pi)+logVar) + 0.5*resid*resid/math.Exp(logVar)
		}
		return total
	}

	grad := func(dst, theta []float64) {
		beta, gamma := theta[:p], theta[p:]
		for j := range dst {
			dst[j] = 0
		}
		for _, i := range trainIdx {
			resid := inputs[i].Sum - dot(x, i, beta)
			invVar := math.Exp(-dot(x, i, gamma))
			for j := 0; j < p; j++ {
				xij := x.At(i, j)
				dst[j] -= resid * invVar * xij
				dst[p+j] += 0.5 * xij * (1 - resid*resid*invVar)
			}
		}
	}

	problem := optimize.Problem{Func: nll, Grad: grad}
	start := append([]float64{}, init...)

	result, err := optimize.Minimize(problem, start, nil, &optimize.BFGS{})

	fit := FitResult{
		Params:      start,
		Diagnostics: map[string]float64{"n_train": float64(len(trainIdx))},
	}
	if result != nil {
		fit.Params = result.X
		fit.Diagnostics["nll"] = result.F
		fit.Diagnostics["evaluations"] = float64(result.FuncEvaluations)
		fit.Diagnostics["status"] = float64(result.Status)
	}
	if err != nil {
		log.Warnf("Full-likelihood fit did not converge (%v); keeping best-effort parameters", err)
		return fit
	}

	fit.Converged = true
	return fit
}
