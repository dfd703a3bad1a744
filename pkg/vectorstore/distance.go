package vectorstore

import "math"

// CosineSimilarity returns the cosine of the angle between a and b.
// Returns 0 for zero-length or zero-norm inputs.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// DotProduct returns the inner product of a and b.
func DotProduct(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot)
}

// L2Distance returns the Euclidean distance between a and b.
func L2Distance(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

// Score computes the normalized higher-is-better score for the given
// metric. L2 distances are mapped through 1/(1+d) so all metrics sort
// the same direction.
func Score(metric Metric, query, candidate []float32) float32 {
	switch metric {
	case L2:
		return float32(1.0 / (1.0 + float64(L2Distance(query, candidate))))
	case Dot:
		return DotProduct(query, candidate)
	default:
		return CosineSimilarity(query, candidate)
	}
}

// Normalize returns a unit-length copy of v. Zero vectors and vectors
// already within 1e-6 of unit norm are returned unchanged, so
// normalizing twice is bit-identical to normalizing once. Adapters
// normalize at the storage boundary for metrics that require it;
// embedders never renormalize.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 || math.Abs(norm-1) <= 1e-6 {
		return v
	}
	inv := 1.0 / math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
