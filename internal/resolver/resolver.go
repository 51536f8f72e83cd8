// Package resolver maps a free-text query onto seed entities of the knowledge graph.
package resolver

import (
	"context"
	"strings"
	"unicode"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/faults"
)

// AliasLookup finds entity ids by id, symbol or name
type AliasLookup interface {
	Lookup(term string) []string
}

// GraphResolver resolves queries against the graph's alias index. It tries
// every token and every adjacent token pair ("apple inc") so multi-word names match.
type GraphResolver struct {
	lookup   AliasLookup
	maxSeeds int
}

// New returns a resolver over lookup. maxSeeds <= 0 means 8.
func New(lookup AliasLookup, maxSeeds int) *GraphResolver {
	if maxSeeds <= 0 {
		maxSeeds = 8
	}
	return &GraphResolver{lookup: lookup, maxSeeds: maxSeeds}
}

// Resolve returns seed ids in order of first mention. NoSeedEntities when nothing matches.
func (r *GraphResolver) Resolve(ctx context.Context, query string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(err, faults.RequestCancelled, "resolver", "resolve")
	}
	tokens := tokenize(query)
	seen := map[string]bool{}
	var seeds []string
	add := func(term string) {
		for _, id := range r.lookup.Lookup(term) {
			if !seen[id] && len(seeds) < r.maxSeeds {
				seen[id] = true
				seeds = append(seeds, id)
			}
		}
	}
	for i, tok := range tokens {
		if i+1 < len(tokens) {
			add(tok + " " + tokens[i+1])
		}
		add(tok)
		if trimmed := strings.TrimRight(tok, ".-"); trimmed != tok {
			add(trimmed)
		}
	}
	if len(seeds) == 0 {
		return nil, faults.New(faults.NoSeedEntities, "resolver", "query %q matched no graph entity", query)
	}
	return seeds, nil
}

func tokenize(q string) []string {
	return strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' && r != '-' && r != '$'
	})
}
