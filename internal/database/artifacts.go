package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/metrics"
)

// ErrArtifactNotFound is returned by GetArtifact for an unknown id
var ErrArtifactNotFound = errors.New("artifact not found")

const defaultListLimit = 20

// SaveArtifact stores a finished artifact as JSON
func (dm *DBManager) SaveArtifact(ctx context.Context, art apptype.OutputArtifact) error {
	done := metrics.TimeOp("db_save_artifact")
	success := false
	defer func() { done(success) }()
	if art.ID == "" {
		return fmt.Errorf("artifact id cannot be empty")
	}

	payload, err := json.Marshal(art)
	if err != nil {
		return fmt.Errorf("failed to encode artifact %q: %w", art.ID, err)
	}
	stmt, err := dm.getPreparedStmt(ctx, `INSERT INTO artifacts (id, type, request_id, query, confidence, degraded, payload, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	degraded := 0
	if art.Degraded {
		degraded = 1
	}
	created := art.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if _, err := stmt.ExecContext(ctx, art.ID, string(art.Type), art.RequestID, art.Query, art.Confidence,
		degraded, string(payload), created.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to insert artifact %q: %w", art.ID, err)
	}
	success = true
	return nil
}

// GetArtifact returns one artifact by id
func (dm *DBManager) GetArtifact(ctx context.Context, id string) (*apptype.OutputArtifact, error) {
	done := metrics.TimeOp("db_get_artifact")
	success := false
	defer func() { done(success) }()

	stmt, err := dm.getPreparedStmt(ctx, "SELECT payload FROM artifacts WHERE id = ?")
	if err != nil {
		return nil, err
	}
	var payload string
	if err := stmt.QueryRowContext(ctx, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
		}
		return nil, fmt.Errorf("failed to query artifact %q: %w", id, err)
	}
	var art apptype.OutputArtifact
	if err := json.Unmarshal([]byte(payload), &art); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %q: %w", id, err)
	}
	success = true
	return &art, nil
}

// ListArtifacts returns the newest artifacts first. An empty type lists all
// types; limit <= 0 means 20.
func (dm *DBManager) ListArtifacts(ctx context.Context, t apptype.ArtifactType, limit int) ([]apptype.OutputArtifact, error) {
	done := metrics.TimeOp("db_list_artifacts")
	success := false
	defer func() { done(success) }()
	if limit <= 0 {
		limit = defaultListLimit
	}

	stmt, err := dm.getPreparedStmt(ctx, `SELECT payload FROM artifacts
        WHERE (? = '' OR type = ?)
        ORDER BY created_at DESC, id
        LIMIT ?`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, string(t), string(t), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	out := []apptype.OutputArtifact{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		var art apptype.OutputArtifact
		if err := json.Unmarshal([]byte(payload), &art); err != nil {
			return nil, fmt.Errorf("failed to decode artifact: %w", err)
		}
		out = append(out, art)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	success = true
	return out, nil
}
