package ancestry

import (
	"fmt"
	"sort"

	"github.com/carbocation/pfx"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Method selects the population-similarity strategy.
type Method int

const (
	Mahalanobis Method = iota
	RandomForest
)

func (m Method) String() string {
	if m == RandomForest {
		return "randomforest"
	}
	return "mahalanobis"
}

// Estimator selects the covariance estimator used by the Mahalanobis
// method.
type Estimator int

const (
	Empirical Estimator = iota
	MinCovDet
)

const (
	// DefaultMahalanobisThreshold flags assignments whose best chi-squared
	// p-value is still essentially zero.
	DefaultMahalanobisThreshold = 1e-10
	// DefaultForestThreshold flags assignments below even odds.
	DefaultForestThreshold = 0.5
	// minSamplesForPCCheck is the target count below which the per-PC
	// stratification check is skipped.
	minSamplesForPCCheck = 20
)

// AssignConfig configures similarity assignment. Zero values select the
// Mahalanobis method with the empirical estimator and the method's default
// confidence threshold.
type AssignConfig struct {
	Method             Method
	Estimator          Estimator
	NPCs               int     // 0 means all available
	Threshold          float64 // 0 means the method default
	TrainUnrelatedOnly bool
	Seed               int64
}

// Assignment is one target (or reference) sample's population call.
type Assignment struct {
	SampleID    string
	IsReference bool
	// Unrelated marks reference samples in the training subset; downstream
	// normalization fits its distributions on these, matching the samples
	// the similarity models trained on.
	Unrelated     bool
	Population    string // assigned most-similar population
	Confidence    float64
	LowConfidence bool
	// OutlierP is the diagnostic p-value against the pooled reference
	// distribution; it does not gate the assignment.
	OutlierP float64
	PCs      []float64
}

// ModelInfo captures the fitted similarity model for the metadata export.
type ModelInfo struct {
	Method        string         `json:"method"`
	NPCs          int            `json:"n_pcs"`
	Threshold     float64        `json:"threshold"`
	Populations   []string       `json:"populations"`
	TrainCounts   map[string]int `json:"train_counts"`
	StratifiedPCs []int          `json:"stratified_pcs,omitempty"`
}

// Assign computes population-similarity assignments for every target sample
// (and, for normalization bookkeeping, every reference sample). The
// reference panel must meet the QC floor, and cfg.NPCs may not exceed the
// PCs available in either file.
func Assign(ref, target *PrincipalComponents, cfg AssignConfig) ([]Assignment, *ModelInfo, error) {
	refSamples, err := ref.Samples()
	if err != nil {
		return nil, nil, err
	}
	targetSamples, err := target.Samples()
	if err != nil {
		return nil, nil, err
	}

	if len(refSamples) < MinReferenceSamples {
		return nil, nil, ErrReferenceTooSmall{N: len(refSamples)}
	}

	refPCs, err := ref.NPCs()
	if err != nil {
		return nil, nil, err
	}
	targetPCs, err := target.NPCs()
	if err != nil {
		return nil, nil, err
	}
	available := refPCs
	if targetPCs < available {
		available = targetPCs
	}

	nPCs := cfg.NPCs
	if nPCs == 0 {
		nPCs = available
	}
	if nPCs > available {
		return nil, nil, pfx.Err(fmt.Errorf("ancestry: %d PCs requested but only %d available", cfg.NPCs, available))
	}

	threshold := cfg.Threshold
	if threshold == 0 {
		if cfg.Method == RandomForest {
			threshold = DefaultForestThreshold
		} else {
			threshold = DefaultMahalanobisThreshold
		}
	}

	training := trainingSet(refSamples, cfg.TrainUnrelatedOnly)
	populations := populationList(refSamples)
	if len(populations) == 0 {
		return nil, nil, pfx.Err(fmt.Errorf("ancestry: reference panel has no population labels"))
	}

	info := &ModelInfo{
		Method:      cfg.Method.String(),
		NPCs:        nPCs,
		Threshold:   threshold,
		Populations: populations,
		TrainCounts: make(map[string]int),
	}
	for _, s := range training {
		info.TrainCounts[s.Population]++
	}

	// Outlier pre-check: every target sample's p-value against the pooled
	// reference training distribution. Diagnostic only.
	pooled, err := fitSamples(training, nPCs, cfg)
	if err != nil {
		return nil, nil, err
	}
	outlierP := make([]float64, len(targetSamples))
	for i, s := range targetSamples {
		outlierP[i] = ChiSquaredPValue(pooled.MahalanobisSq(s.PCs[:nPCs]), nPCs-1)
	}

	// With enough target samples, test each PC for reference/target
	// separation that more likely reflects batch structure than ancestry.
	if len(targetSamples) >= minSamplesForPCCheck {
		info.StratifiedPCs = stratifiedPCs(training, targetSamples, nPCs)
		for _, pc := range info.StratifiedPCs {
			log.Warnf("PC%d separates reference from target samples; it may capture batch stratification rather than ancestry", pc)
		}
	}

	var assignments []Assignment
	switch cfg.Method {
	case RandomForest:
		assignments, err = assignForest(training, refSamples, targetSamples, populations, nPCs, threshold, cfg.Seed)
	default:
		assignments, err = assignMahalanobis(training, refSamples, targetSamples, populations, nPCs, threshold, cfg)
	}
	if err != nil {
		return nil, nil, err
	}

	// Attach the diagnostic p-values to the target assignments. When
	// relatedness exclusions are off, every reference sample trains.
	targetIdx := 0
	for i := range assignments {
		if !cfg.TrainUnrelatedOnly {
			assignments[i].Unrelated = true
		}
		if !assignments[i].IsReference {
			assignments[i].OutlierP = outlierP[targetIdx]
			targetIdx++
		}
	}

	return assignments, info, nil
}

func trainingSet(refSamples []Sample, unrelatedOnly bool) []Sample {
	if !unrelatedOnly {
		return refSamples
	}

	out := make([]Sample, 0, len(refSamples))
	for _, s := range refSamples {
		if s.Unrelated {
			out = append(out, s)
		}
	}
	return out
}

func populationList(refSamples []Sample) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range refSamples {
		if s.Population != "" && !seen[s.Population] {
			seen[s.Population] = true
			out = append(out, s.Population)
		}
	}
	sort.Strings(out)
	return out
}

func pcMatrix(samples []Sample, nPCs int) *mat.Dense {
	x := mat.NewDense(len(samples), nPCs, nil)
	for i, s := range samples {
		for j := 0; j < nPCs; j++ {
			x.Set(i, j, s.PCs[j])
		}
	}
	return x
}

func fitSamples(samples []Sample, nPCs int, cfg AssignConfig) (*CovarianceModel, error) {
	x := pcMatrix(samples, nPCs)
	if cfg.Estimator == MinCovDet {
		return FitMCD(x, 0.75, 30, cfg.Seed)
	}
	return FitEmpirical(x)
}

func stratifiedPCs(training, targetSamples []Sample, nPCs int) []int {
	var out []int
	for pc := 0; pc < nPCs; pc++ {
		refVals := make([]float64, len(training))
		for i, s := range training {
			refVals[i] = s.PCs[pc]
		}
		targetVals := make([]float64, len(targetSamples))
		for i, s := range targetSamples {
			targetVals[i] = s.PCs[pc]
		}

		if _, p := MannWhitneyU(refVals, targetVals); p < 1e-4 {
			out = append(out, pc+1)
		}
	}
	return out
}

// assignMahalanobis fits one covariance model per population on its
// training samples, converts each sample's squared distance to every
// centroid into a chi-squared p-value with nPCs-1 degrees of freedom, and
// assigns the maximum.
func assignMahalanobis(training, refSamples, targetSamples []Sample, populations []string, nPCs int, threshold float64, cfg AssignConfig) ([]Assignment, error) {
	models := make(map[string]*CovarianceModel, len(populations))
	for _, pop := range populations {
		var popTraining []Sample
		for _, s := range training {
			if s.Population == pop {
				popTraining = append(popTraining, s)
			}
		}
		m, err := fitSamples(popTraining, nPCs, cfg)
		if err != nil {
			return nil, pfx.Err(fmt.Errorf("population %s: %w", pop, err))
		}
		models[pop] = m
	}

	assign := func(s Sample, isRef bool) Assignment {
		best, bestP := "", -1.0
		for _, pop := range populations {
			p := ChiSquaredPValue(models[pop].MahalanobisSq(s.PCs[:nPCs]), nPCs-1)
			if p > bestP {
				best, bestP = pop, p
			}
		}
		return Assignment{
			SampleID:      s.ID,
			IsReference:   isRef,
			Unrelated:     s.Unrelated,
			Population:    best,
			Confidence:    bestP,
			LowConfidence: bestP < threshold,
			PCs:           s.PCs[:nPCs],
		}
	}

	out := make([]Assignment, 0, len(refSamples)+len(targetSamples))
	for _, s := range refSamples {
		out = append(out, assign(s, true))
	}
	for _, s := range targetSamples {
		out = append(out, assign(s, false))
	}

	return out, nil
}

// assignForest trains the bagged-tree classifier on reference training
// samples and assigns every sample the argmax class probability.
func assignForest(training, refSamples, targetSamples []Sample, populations []string, nPCs int, threshold float64, seed int64) ([]Assignment, error) {
	classIdx := make(map[string]int, len(populations))
	for i, pop := range populations {
		classIdx[pop] = i
	}

	x := make([][]float64, 0, len(training))
	y := make([]int, 0, len(training))
	for _, s := range training {
		if s.Population == "" {
			continue
		}
		x = append(x, s.PCs[:nPCs])
		y = append(y, classIdx[s.Population])
	}
	if len(x) == 0 {
		return nil, pfx.Err(fmt.Errorf("ancestry: no labeled training samples"))
	}

	fcfg := defaultForestConfig(nPCs)
	if seed != 0 {
		fcfg.seed = seed
	}
	f := trainForest(x, y, len(populations), fcfg)

	assign := func(s Sample, isRef bool) Assignment {
		probs := f.predictProba(s.PCs[:nPCs])
		best, bestP := 0, probs[0]
		for i, p := range probs {
			if p > bestP {
				best, bestP = i, p
			}
		}
		return Assignment{
			SampleID:      s.ID,
			IsReference:   isRef,
			Unrelated:     s.Unrelated,
			Population:    populations[best],
			Confidence:    bestP,
			LowConfidence: bestP < threshold,
			PCs:           s.PCs[:nPCs],
		}
	}

	out := make([]Assignment, 0, len(refSamples)+len(targetSamples))
	for _, s := range refSamples {
		out = append(out, assign(s, true))
	}
	for _, s := range targetSamples {
		out = append(out, assign(s, false))
	}

	return out, nil
}
