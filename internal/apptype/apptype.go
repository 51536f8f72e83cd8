package apptype

import (
	"fmt"
	"sort"
	"sync"
)

// EntityKind classifies a node in the knowledge graph
type EntityKind string

const (
	KindAsset      EntityKind = "asset"
	KindIndicator  EntityKind = "indicator"
	KindPricePoint EntityKind = "price_point"
	KindSignal     EntityKind = "signal"
)

// Valid reports whether k is one of the known entity kinds
func (k EntityKind) Valid() bool {
	switch k {
	case KindAsset, KindIndicator, KindPricePoint, KindSignal:
		return true
	}
	return false
}

// RelationKind classifies a directed edge in the knowledge graph
type RelationKind string

const (
	RelHasPricePoint   RelationKind = "has_price_point"
	RelCorrelatesWith  RelationKind = "correlates_with"
	RelBasedOn         RelationKind = "based_on"
	RelTracks          RelationKind = "tracks"
	RelBelongsToSector RelationKind = "belongs_to_sector"
	RelAffects         RelationKind = "affects"
)

var (
	relKindsMu sync.RWMutex
	relKinds   = map[RelationKind]struct{}{
		RelHasPricePoint:   {},
		RelCorrelatesWith:  {},
		RelBasedOn:         {},
		RelTracks:          {},
		RelBelongsToSector: {},
		RelAffects:         {},
	}
)

// RegisterRelationKind extends the set of accepted relation kinds.
// Intended to be called during process start, before ingestion begins.
func RegisterRelationKind(k RelationKind) error {
	if k == "" {
		return fmt.Errorf("relation kind cannot be empty")
	}
	relKindsMu.Lock()
	relKinds[k] = struct{}{}
	relKindsMu.Unlock()
	return nil
}

// Valid reports whether k has been registered
func (k RelationKind) Valid() bool {
	relKindsMu.RLock()
	_, ok := relKinds[k]
	relKindsMu.RUnlock()
	return ok
}

// RelationKinds returns the registered relation kinds sorted by name
func RelationKinds() []RelationKind {
	relKindsMu.RLock()
	out := make([]RelationKind, 0, len(relKinds))
	for k := range relKinds {
		out = append(out, k)
	}
	relKindsMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Entity represents a node in the knowledge graph
type Entity struct {
	ID         string         `json:"id"`
	Kind       EntityKind     `json:"kind"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Relation represents a directed relationship between two entities
type Relation struct {
	Source string       `json:"source"`
	Kind   RelationKind `json:"kind"`
	Target string       `json:"target"`
	Weight *float64     `json:"weight,omitempty"`
}

// Key identifies a relation tuple; a given tuple exists at most once.
func (r Relation) Key() string {
	return r.Source + "\x00" + string(r.Kind) + "\x00" + r.Target
}

// EmbeddingVector is an entity's embedding as produced by a given model
type EmbeddingVector struct {
	EntityID   string    `json:"entityId"`
	Dims       int       `json:"dims"`
	Components []float32 `json:"components"`
	Model      string    `json:"model,omitempty"`
}

// Provenance names the retrieval source that produced a context item
type Provenance string

const (
	ProvenanceGraph  Provenance = "graph"
	ProvenanceVector Provenance = "vector"
)

// RetrievalItem is one ranked entry of a RetrievalContext
type RetrievalItem struct {
	EntityID   string         `json:"entityId"`
	Provenance Provenance     `json:"provenance"`
	Score      float64        `json:"score"`
	Hop        int            `json:"hop,omitempty"`
	Kind       EntityKind     `json:"kind,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// RetrievalContext is the merged, ranked grounding context for one request
type RetrievalContext struct {
	RequestID string          `json:"requestId"`
	Query     string          `json:"query"`
	SeedIDs   []string        `json:"seedIds,omitempty"`
	Items     []RetrievalItem `json:"items"`
	Degraded  bool            `json:"degraded"`
	Faults    []Fault         `json:"faults,omitempty"`
}

// Has reports whether the context contains the entity id
func (rc RetrievalContext) Has(entityID string) bool {
	for _, it := range rc.Items {
		if it.EntityID == entityID {
			return true
		}
	}
	return false
}

// IDs returns the entity ids of the context in rank order
func (rc RetrievalContext) IDs() []string {
	out := make([]string, len(rc.Items))
	for i, it := range rc.Items {
		out[i] = it.EntityID
	}
	return out
}

// Fault is a serializable descriptor of a recorded failure
type Fault struct {
	Kind      string `json:"kind"`
	Component string `json:"component,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Message   string `json:"message"`
}

// FaultReport is returned to callers in place of an artifact
type FaultReport struct {
	RequestID string  `json:"requestId,omitempty"`
	Kind      string  `json:"kind"`
	Message   string  `json:"message"`
	Faults    []Fault `json:"faults,omitempty"`
}
