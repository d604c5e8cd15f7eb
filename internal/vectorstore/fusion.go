package vectorstore

import (
	"sort"

	"github.com/fyrsmithlabs/reporadar/internal/repository"
)

// OverfetchFactor multiplies the requested limit when querying each space so
// enough candidates survive the merge and filter.
const OverfetchFactor = 3

// SearchQuery is a fused similarity query. The weights are used as given;
// callers that want a convex blend make them sum to 1.
type SearchQuery struct {
	Purpose       []float32
	Stack         []float32
	WeightPurpose float64
	WeightStack   float64
	Limit         int
	MinScore      float64
}

// Fuse merges per-space hits by id. A candidate missing from one space
// scores 0 there. The result holds candidates whose fused score
// WeightPurpose*purpose + WeightStack*stack is at least MinScore, best
// first with ties broken by ascending id, truncated to Limit.
func Fuse(purposeHits, stackHits []Hit, q SearchQuery) []repository.SearchResult {
	if q.Limit <= 0 {
		return []repository.SearchResult{}
	}

	byID := make(map[uint64]*repository.SearchResult, len(purposeHits)+len(stackHits))
	candidate := func(h Hit) *repository.SearchResult {
		r, ok := byID[h.ID]
		if !ok {
			r = &repository.SearchResult{ID: h.ID, Payload: h.Payload}
			byID[h.ID] = r
		}
		return r
	}
	for _, h := range purposeHits {
		candidate(h).PurposeScore = h.Score
	}
	for _, h := range stackHits {
		candidate(h).StackScore = h.Score
	}

	results := make([]repository.SearchResult, 0, len(byID))
	for _, r := range byID {
		r.Score = q.WeightPurpose*r.PurposeScore + q.WeightStack*r.StackScore
		if r.Score < q.MinScore {
			continue
		}
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results
}
