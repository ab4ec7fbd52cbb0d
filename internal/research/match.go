package research

import (
	"math"

	"github.com/jonathan/identity-pipeline/internal/embedding"
	"github.com/jonathan/identity-pipeline/internal/types"
)

// DefaultMatchThreshold is the similarity at which a claim counts as covering a requirement.
const DefaultMatchThreshold = 0.75

// Weights of must-have and nice-to-have coverage in the overall score.
const (
	mustHaveWeight   = 0.7
	niceToHaveWeight = 0.3
)

// Match scores each requirement against its nearest claim. Requirements or claims
// without embeddings never match.
func Match(reqs []types.Requirement, claims []types.Claim, threshold float64) *types.MatchScore {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	score := &types.MatchScore{Requirements: make([]types.RequirementMatch, 0, len(reqs))}

	var mustTotal, mustHit, niceTotal, niceHit int
	for _, r := range reqs {
		m := types.RequirementMatch{Requirement: r.Text, Priority: r.Priority}
		for _, c := range claims {
			if sim := embedding.Cosine(r.Embedding, c.Embedding); sim > m.Similarity {
				m.Similarity = sim
				m.ClaimLabel = c.Label
			}
		}
		m.Similarity = round(m.Similarity)
		m.Matched = m.Similarity >= threshold
		if !m.Matched {
			m.ClaimLabel = ""
		}

		if r.Priority == types.MustHave {
			mustTotal++
			if m.Matched {
				mustHit++
			}
		} else {
			niceTotal++
			if m.Matched {
				niceHit++
			}
		}
		score.Requirements = append(score.Requirements, m)
	}

	score.MustHaveCoverage = ratio(mustHit, mustTotal)
	score.NiceToHaveCoverage = ratio(niceHit, niceTotal)
	switch {
	case mustTotal > 0 && niceTotal > 0:
		score.Overall = round(mustHaveWeight*score.MustHaveCoverage + niceToHaveWeight*score.NiceToHaveCoverage)
	case mustTotal > 0:
		score.Overall = score.MustHaveCoverage
	default:
		score.Overall = score.NiceToHaveCoverage
	}
	return score
}

func ratio(hit, total int) float64 {
	if total == 0 {
		return 0
	}
	return round(float64(hit) / float64(total))
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
