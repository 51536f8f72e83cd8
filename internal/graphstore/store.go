// Package graphstore holds the process-wide knowledge graph of typed entities
// and directed typed relations.
//
// Reads never lock: each reader loads the current immutable snapshot and works
// on it until it is done. Writers serialize on a mutex, build a new snapshot
// that shares unchanged parts with the old one, and publish it atomically. A
// traversal that started before a write therefore sees the pre-write graph in
// full, and a write only ever waits for other writers.
package graphstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/faults"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/metrics"
)

const component = "graphstore"

// aliasAttributes are the entity attributes indexed for Lookup besides the id.
var aliasAttributes = []string{"symbol", "ticker", "name"}

type snapshot struct {
	entities map[string]apptype.Entity
	out      map[string][]apptype.Relation
	keys     map[string]struct{}
	aliases  map[string][]string
	version  uint64
	relCount int
}

func emptySnapshot() *snapshot {
	return &snapshot{
		entities: map[string]apptype.Entity{},
		out:      map[string][]apptype.Relation{},
		keys:     map[string]struct{}{},
		aliases:  map[string][]string{},
	}
}

// Store is a concurrency-safe in-memory knowledge graph
type Store struct {
	writeMu sync.Mutex
	snap    atomic.Pointer[snapshot]
}

// Reached is an entity found by Traverse with its minimal hop distance
type Reached struct {
	Entity apptype.Entity `json:"entity"`
	Hop    int            `json:"hop"`
}

// Stats summarizes the current graph
type Stats struct {
	Entities  int    `json:"entities"`
	Relations int    `json:"relations"`
	Version   uint64 `json:"version"`
}

// New returns an empty store
func New() *Store {
	s := &Store{}
	s.snap.Store(emptySnapshot())
	return s
}

func (s *Store) load() *snapshot { return s.snap.Load() }

// Get returns the entity with the given id
func (s *Store) Get(id string) (apptype.Entity, bool) {
	e, ok := s.load().entities[id]
	return e, ok
}

// Stats returns entity and relation counts of the current snapshot
func (s *Store) Stats() Stats {
	snap := s.load()
	return Stats{Entities: len(snap.entities), Relations: snap.relCount, Version: snap.version}
}

// Lookup returns the ids of entities whose id, symbol, ticker or name equals
// term case-insensitively, sorted by id.
func (s *Store) Lookup(term string) []string {
	ids := s.load().aliases[normalizeAlias(term)]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Entities returns every entity sorted by id
func (s *Store) Entities() []apptype.Entity {
	snap := s.load()
	out := make([]apptype.Entity, 0, len(snap.entities))
	for _, e := range snap.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Relations returns every relation sorted by source, kind and target
func (s *Store) Relations() []apptype.Relation {
	snap := s.load()
	out := make([]apptype.Relation, 0, snap.relCount)
	for _, rels := range snap.out {
		out = append(out, rels...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// AddEntities inserts new entities. The batch is applied atomically: if any
// entity is invalid or its id already exists nothing is written.
func (s *Store) AddEntities(ctx context.Context, entities []apptype.Entity) error {
	done := metrics.TimeOp("graph_add_entities")
	success := false
	defer func() { done(success) }()

	if len(entities) == 0 {
		success = true
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return faults.Wrap(err, faults.RequestCancelled, component, "add entities")
	}

	cur := s.load()
	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		if err := validateEntity(e); err != nil {
			return err
		}
		if _, dup := seen[e.ID]; dup {
			return faults.New(faults.InvalidArgument, component, "entity %q repeated in batch", e.ID)
		}
		if _, exists := cur.entities[e.ID]; exists {
			return faults.New(faults.InvalidArgument, component, "entity %q already exists; entities are immutable", e.ID)
		}
		seen[e.ID] = struct{}{}
	}

	next := &snapshot{
		entities: make(map[string]apptype.Entity, len(cur.entities)+len(entities)),
		out:      cur.out,
		keys:     cur.keys,
		aliases:  make(map[string][]string, len(cur.aliases)+len(entities)),
		version:  cur.version + 1,
		relCount: cur.relCount,
	}
	for id, e := range cur.entities {
		next.entities[id] = e
	}
	for k, v := range cur.aliases {
		next.aliases[k] = v
	}
	for _, e := range entities {
		e.Attributes = cloneAttributes(e.Attributes)
		next.entities[e.ID] = e
		for _, alias := range aliasesFor(e) {
			next.aliases[alias] = insertSorted(next.aliases[alias], e.ID)
		}
	}
	s.snap.Store(next)
	success = true
	return nil
}

// AddRelations inserts relations whose endpoints already exist. The batch is
// atomic. Re-adding an identical (source, kind, target) tuple is a no-op.
func (s *Store) AddRelations(ctx context.Context, relations []apptype.Relation) error {
	done := metrics.TimeOp("graph_add_relations")
	success := false
	defer func() { done(success) }()

	if len(relations) == 0 {
		success = true
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return faults.Wrap(err, faults.RequestCancelled, component, "add relations")
	}

	cur := s.load()
	for _, r := range relations {
		if r.Source == "" || r.Target == "" {
			return faults.New(faults.InvalidArgument, component, "relation endpoints cannot be empty")
		}
		if !r.Kind.Valid() {
			return faults.New(faults.InvalidArgument, component, "unknown relation kind %q", r.Kind)
		}
		if _, ok := cur.entities[r.Source]; !ok {
			return faults.New(faults.UnknownEntity, component, "relation source %q not found", r.Source)
		}
		if _, ok := cur.entities[r.Target]; !ok {
			return faults.New(faults.UnknownEntity, component, "relation target %q not found", r.Target)
		}
	}

	next := &snapshot{
		entities: cur.entities,
		out:      make(map[string][]apptype.Relation, len(cur.out)),
		keys:     make(map[string]struct{}, len(cur.keys)+len(relations)),
		aliases:  cur.aliases,
		version:  cur.version + 1,
		relCount: cur.relCount,
	}
	for k, v := range cur.out {
		next.out[k] = v
	}
	for k := range cur.keys {
		next.keys[k] = struct{}{}
	}
	touched := map[string]bool{}
	for _, r := range relations {
		key := r.Key()
		if _, exists := next.keys[key]; exists {
			continue
		}
		next.keys[key] = struct{}{}
		if !touched[r.Source] {
			// copy before append so the previous snapshot's slice stays untouched
			prev := next.out[r.Source]
			next.out[r.Source] = append(make([]apptype.Relation, 0, len(prev)+1), prev...)
			touched[r.Source] = true
		}
		next.out[r.Source] = append(next.out[r.Source], r)
		next.relCount++
	}
	for src := range touched {
		rels := next.out[src]
		sort.Slice(rels, func(i, j int) bool { return rels[i].Key() < rels[j].Key() })
	}
	s.snap.Store(next)
	success = true
	return nil
}

// Traverse walks outgoing relations breadth-first from startID, following only
// allowedKinds (all kinds when empty), up to maxDepth hops. Each reachable
// entity is returned once with the hop at which it was first reached. Results
// are ordered by hop, then id.
func (s *Store) Traverse(ctx context.Context, startID string, allowedKinds []apptype.RelationKind, maxDepth int) ([]Reached, error) {
	done := metrics.TimeOp("graph_traverse")
	success := false
	defer func() { done(success) }()

	snap := s.load()
	start, ok := snap.entities[startID]
	if !ok {
		return nil, faults.New(faults.UnknownEntity, component, "start entity %q not found", startID)
	}
	if maxDepth < 0 {
		maxDepth = 0
	}
	allowed := make(map[apptype.RelationKind]bool, len(allowedKinds))
	for _, k := range allowedKinds {
		allowed[k] = true
	}

	visited := map[string]int{startID: 0}
	out := []Reached{{Entity: start, Hop: 0}}
	frontier := []string{startID}
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, faults.Wrap(err, faults.KindOf(err), component, "traverse interrupted")
		}
		var next []string
		for _, id := range frontier {
			for _, r := range snap.out[id] {
				if len(allowed) > 0 && !allowed[r.Kind] {
					continue
				}
				if _, seen := visited[r.Target]; seen {
					continue
				}
				visited[r.Target] = depth
				next = append(next, r.Target)
			}
		}
		sort.Strings(next)
		for _, id := range next {
			out = append(out, Reached{Entity: snap.entities[id], Hop: depth})
		}
		frontier = next
	}
	success = true
	return out, nil
}

func validateEntity(e apptype.Entity) error {
	if strings.TrimSpace(e.ID) == "" {
		return faults.New(faults.InvalidArgument, component, "entity id must be a non-empty string")
	}
	if !e.Kind.Valid() {
		return faults.New(faults.InvalidArgument, component, "invalid kind %q for entity %q", e.Kind, e.ID)
	}
	return nil
}

func normalizeAlias(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$")))
}

func aliasesFor(e apptype.Entity) []string {
	set := map[string]struct{}{normalizeAlias(e.ID): {}}
	for _, attr := range aliasAttributes {
		if v, ok := e.Attributes[attr].(string); ok && strings.TrimSpace(v) != "" {
			set[normalizeAlias(v)] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	return out
}

func insertSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:i]...)
	out = append(out, id)
	return append(out, ids[i:]...)
}

func cloneAttributes(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
