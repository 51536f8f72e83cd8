package retrieval

import (
	"math"
	"sort"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
)

// GraphHit is an entity reached by traversal at its minimal hop distance
type GraphHit struct {
	Entity apptype.Entity
	Hop    int
}

// VectorHit is a nearest-neighbor match. Entity is filled when the graph knows the id.
type VectorHit struct {
	EntityID   string
	Similarity float64
	Entity     *apptype.Entity
}

// HopScore is the relevance of a graph hit: 1.0 at hop 0, times decay per hop.
func HopScore(hop int, decay float64) float64 {
	if hop <= 0 {
		return 1.0
	}
	return math.Pow(decay, float64(hop))
}

// Merge scores, deduplicates, ranks and caps the hits of both sources.
//
// Each entity appears once with its highest score. When a graph score and a
// vector score are exactly equal the graph item is kept. Items are ordered by
// score descending; equal scores put graph before vector, then id ascending.
// maxItems <= 0 disables the cap.
func Merge(graph []GraphHit, vector []VectorHit, decay float64, maxItems int) []apptype.RetrievalItem {
	best := make(map[string]apptype.RetrievalItem, len(graph)+len(vector))
	offer := func(it apptype.RetrievalItem) {
		cur, ok := best[it.EntityID]
		if !ok || it.Score > cur.Score ||
			(it.Score == cur.Score && it.Provenance == apptype.ProvenanceGraph && cur.Provenance != apptype.ProvenanceGraph) {
			best[it.EntityID] = it
		}
	}
	for _, h := range graph {
		offer(apptype.RetrievalItem{
			EntityID:   h.Entity.ID,
			Provenance: apptype.ProvenanceGraph,
			Score:      clamp01(HopScore(h.Hop, decay)),
			Hop:        h.Hop,
			Kind:       h.Entity.Kind,
			Payload:    h.Entity.Attributes,
		})
	}
	for _, h := range vector {
		it := apptype.RetrievalItem{
			EntityID:   h.EntityID,
			Provenance: apptype.ProvenanceVector,
			Score:      clamp01(h.Similarity),
		}
		if h.Entity != nil {
			it.Kind = h.Entity.Kind
			it.Payload = h.Entity.Attributes
		}
		offer(it)
	}

	items := make([]apptype.RetrievalItem, 0, len(best))
	for _, it := range best {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Provenance != b.Provenance {
			return a.Provenance == apptype.ProvenanceGraph
		}
		return a.EntityID < b.EntityID
	})
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
