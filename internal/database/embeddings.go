package database

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/metrics"
)

// SaveEmbeddings upserts vectors keyed by entity id
func (dm *DBManager) SaveEmbeddings(ctx context.Context, vecs []apptype.EmbeddingVector) error {
	done := metrics.TimeOp("db_save_embeddings")
	success := false
	defer func() { done(success) }()
	if len(vecs) == 0 {
		success = true
		return nil
	}

	stmt, err := dm.getPreparedStmt(ctx, `INSERT INTO embeddings (entity_id, model, embedding) VALUES (?, ?, vector32(?))
        ON CONFLICT(entity_id) DO UPDATE SET model = excluded.model, embedding = excluded.embedding, updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return err
	}
	tx, err := dm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	txStmt := tx.StmtContext(ctx, stmt)

	for _, v := range vecs {
		vectorString, err := dm.vectorToString(v.Components)
		if err != nil {
			return fmt.Errorf("failed to convert embedding for %q: %w", v.EntityID, err)
		}
		if _, err := txStmt.ExecContext(ctx, v.EntityID, v.Model, vectorString); err != nil {
			return fmt.Errorf("failed to upsert embedding for %q: %w", v.EntityID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit embeddings: %w", err)
	}
	success = true
	return nil
}

// LoadEmbeddings reads every stored vector
func (dm *DBManager) LoadEmbeddings(ctx context.Context) ([]apptype.EmbeddingVector, error) {
	done := metrics.TimeOp("db_load_embeddings")
	success := false
	defer func() { done(success) }()

	stmt, err := dm.getPreparedStmt(ctx, "SELECT entity_id, model, embedding FROM embeddings ORDER BY entity_id")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	dims := dm.config.EmbeddingDims
	out := []apptype.EmbeddingVector{}
	for rows.Next() {
		var id, model string
		var blob []byte
		if err := rows.Scan(&id, &model, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		comps, err := ExtractVector(blob, dims)
		if err != nil {
			return nil, fmt.Errorf("embedding of %q: %w", id, err)
		}
		out = append(out, apptype.EmbeddingVector{EntityID: id, Dims: dims, Components: comps, Model: model})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	success = true
	return out, nil
}
