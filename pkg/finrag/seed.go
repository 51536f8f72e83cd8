package finrag

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
)

// Seed is a batch of graph data loaded from a YAML file
type Seed struct {
	Entities  []apptype.Entity   `yaml:"entities"`
	Relations []apptype.Relation `yaml:"relations"`
}

// LoadSeed reads a seed file
func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var s Seed
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return &s, nil
}

// ApplySeed adds the entities that do not exist yet and every relation, then
// embeds whatever lacks a vector. Applying the same seed twice is a no-op.
func (e *Engine) ApplySeed(ctx context.Context, s *Seed) error {
	var fresh []apptype.Entity
	for _, ent := range s.Entities {
		if _, ok := e.graph.Get(ent.ID); !ok {
			fresh = append(fresh, ent)
		}
	}
	if err := e.ingest.AddEntities(ctx, fresh); err != nil {
		return err
	}
	if err := e.ingest.AddRelations(ctx, s.Relations); err != nil {
		return err
	}
	n, err := e.ingest.EmbedEntities(ctx, nil)
	if err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{"entities": len(fresh), "relations": len(s.Relations), "embedded": n}).Info("seed applied")
	return nil
}
