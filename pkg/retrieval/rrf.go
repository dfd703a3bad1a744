package retrieval

import "sort"

// DefaultRRFConstant damps the dominance of rank-1 hits in reciprocal
// rank fusion.
const DefaultRRFConstant = 60

// FusedResult is one id after rank fusion.
type FusedResult struct {
	ID    string
	Score float64

	// BestRank is the lowest 1-based rank this id held across the
	// input lists. It breaks score ties before the id does.
	BestRank int
}

// FuseRRF combines ranked id lists with reciprocal rank fusion. Each
// occurrence of an id at 1-based rank r contributes 1/(r+c) to its
// fused score; ids absent from a list contribute nothing for it.
// Output is ordered by descending score, then ascending best rank,
// then ascending id.
func FuseRRF(lists [][]string, c int) []FusedResult {
	if c <= 0 {
		c = DefaultRRFConstant
	}

	scores := make(map[string]float64)
	bestRank := make(map[string]int)

	for _, list := range lists {
		for i, id := range list {
			rank := i + 1
			scores[id] += 1.0 / float64(rank+c)
			if prev, ok := bestRank[id]; !ok || rank < prev {
				bestRank[id] = rank
			}
		}
	}

	fused := make([]FusedResult, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, FusedResult{ID: id, Score: score, BestRank: bestRank[id]})
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		if fused[i].BestRank != fused[j].BestRank {
			return fused[i].BestRank < fused[j].BestRank
		}
		return fused[i].ID < fused[j].ID
	})

	return fused
}
