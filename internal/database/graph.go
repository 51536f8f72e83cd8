package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/metrics"
)

// SaveEntities inserts entities in one transaction. Entities are immutable,
// so an id that already exists is left untouched.
func (dm *DBManager) SaveEntities(ctx context.Context, entities []apptype.Entity) error {
	done := metrics.TimeOp("db_save_entities")
	success := false
	defer func() { done(success) }()
	if len(entities) == 0 {
		success = true
		return nil
	}

	stmt, err := dm.getPreparedStmt(ctx, "INSERT INTO entities (id, kind, attributes) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING")
	if err != nil {
		return err
	}
	tx, err := dm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	txStmt := tx.StmtContext(ctx, stmt)

	for _, e := range entities {
		attrs := e.Attributes
		if attrs == nil {
			attrs = map[string]any{}
		}
		raw, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("failed to encode attributes of %q: %w", e.ID, err)
		}
		if _, err := txStmt.ExecContext(ctx, e.ID, string(e.Kind), string(raw)); err != nil {
			return fmt.Errorf("failed to insert entity %q: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entities: %w", err)
	}
	success = true
	return nil
}

// SaveRelations inserts relations in one transaction, updating the weight of
// a (source, kind, target) tuple that already exists
func (dm *DBManager) SaveRelations(ctx context.Context, relations []apptype.Relation) error {
	done := metrics.TimeOp("db_save_relations")
	success := false
	defer func() { done(success) }()
	if len(relations) == 0 {
		success = true
		return nil
	}

	stmt, err := dm.getPreparedStmt(ctx, `INSERT INTO relations (source, kind, target, weight) VALUES (?, ?, ?, ?)
        ON CONFLICT(source, kind, target) DO UPDATE SET weight = excluded.weight`)
	if err != nil {
		return err
	}
	tx, err := dm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	txStmt := tx.StmtContext(ctx, stmt)

	for _, r := range relations {
		var weight sql.NullFloat64
		if r.Weight != nil {
			weight = sql.NullFloat64{Float64: *r.Weight, Valid: true}
		}
		if _, err := txStmt.ExecContext(ctx, r.Source, string(r.Kind), r.Target, weight); err != nil {
			return fmt.Errorf("failed to insert relation %s -%s-> %s: %w", r.Source, r.Kind, r.Target, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit relations: %w", err)
	}
	success = true
	return nil
}

// LoadGraph reads every entity and relation, in insertion order
func (dm *DBManager) LoadGraph(ctx context.Context) ([]apptype.Entity, []apptype.Relation, error) {
	done := metrics.TimeOp("db_load_graph")
	success := false
	defer func() { done(success) }()

	entities, err := dm.loadEntities(ctx)
	if err != nil {
		return nil, nil, err
	}
	relations, err := dm.loadRelations(ctx)
	if err != nil {
		return nil, nil, err
	}
	success = true
	return entities, relations, nil
}

func (dm *DBManager) loadEntities(ctx context.Context) ([]apptype.Entity, error) {
	stmt, err := dm.getPreparedStmt(ctx, "SELECT id, kind, attributes FROM entities ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	entities := []apptype.Entity{}
	for rows.Next() {
		var id, kind, raw string
		if err := rows.Scan(&id, &kind, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e := apptype.Entity{ID: id, Kind: apptype.EntityKind(kind)}
		if raw != "" && raw != "{}" {
			if err := json.Unmarshal([]byte(raw), &e.Attributes); err != nil {
				return nil, fmt.Errorf("failed to decode attributes of %q: %w", id, err)
			}
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func (dm *DBManager) loadRelations(ctx context.Context) ([]apptype.Relation, error) {
	stmt, err := dm.getPreparedStmt(ctx, "SELECT source, kind, target, weight FROM relations ORDER BY id")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer rows.Close()

	relations := []apptype.Relation{}
	for rows.Next() {
		var r apptype.Relation
		var kind string
		var weight sql.NullFloat64
		if err := rows.Scan(&r.Source, &kind, &r.Target, &weight); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		r.Kind = apptype.RelationKind(kind)
		if weight.Valid {
			w := weight.Float64
			r.Weight = &w
		}
		relations = append(relations, r)
	}
	return relations, rows.Err()
}

// Stats counts the stored rows
type Stats struct {
	Entities   int `json:"entities"`
	Relations  int `json:"relations"`
	Embeddings int `json:"embeddings"`
	Artifacts  int `json:"artifacts"`
}

// Stats returns row counts per table
func (dm *DBManager) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := dm.db.QueryRowContext(ctx, `SELECT
        (SELECT COUNT(*) FROM entities),
        (SELECT COUNT(*) FROM relations),
        (SELECT COUNT(*) FROM embeddings),
        (SELECT COUNT(*) FROM artifacts)`).Scan(&s.Entities, &s.Relations, &s.Embeddings, &s.Artifacts)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count rows: %w", err)
	}
	return s, nil
}
