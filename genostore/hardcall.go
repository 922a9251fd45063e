package genostore

// Hard-call derivation from genotype probabilities, for probability-encoded
// inputs (BGEN). Unphased biallelic data arrives as three probability
// buckets [hom-ref, het, hom-alt]; the call pair is the argmax bucket.
// Phased data arrives as two haplotypes of two allele probabilities each;
// each haplotype's call is its own argmax.

// HardCallUnphased converts [P(0/0), P(0/1), P(1/1)] into a call pair.
func HardCallUnphased(probs []float64) (a, b uint8) {
	if len(probs) != 3 {
		return MissingCall, MissingCall
	}

	best, bestIdx := probs[0], 0
	for i := 1; i < 3; i++ {
		if probs[i] > best {
			best, bestIdx = probs[i], i
		}
	}

	switch bestIdx {
	case 0:
		return 0, 0
	case 1:
		return 0, 1
	}
	return 1, 1
}

// HardCallPhased converts [P(h1=ref), P(h1=alt), P(h2=ref), P(h2=alt)] into
// a call pair, taking each haplotype's argmax independently.
func HardCallPhased(probs []float64) (a, b uint8) {
	if len(probs) != 4 {
		return MissingCall, MissingCall
	}

	a, b = 0, 0
	if probs[1] > probs[0] {
		a = 1
	}
	if probs[3] > probs[2] {
		b = 1
	}

	return a, b
}

// HardCall dispatches on the probability-bucket layout: three buckets for
// unphased genotypes, four for phased haplotypes. Anything else is treated
// as missing.
func HardCall(probs []float64, missing bool) (a, b uint8) {
	if missing {
		return MissingCall, MissingCall
	}

	switch len(probs) {
	case 3:
		return HardCallUnphased(probs)
	case 4:
		return HardCallPhased(probs)
	}

	return MissingCall, MissingCall
}
