package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/metrics"
)

// getPreparedStmt returns or prepares and caches a statement
func (dm *DBManager) getPreparedStmt(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	// fast path read
	dm.stmtMu.RLock()
	if stmt, ok := dm.stmtCache[sqlText]; ok {
		dm.stmtMu.RUnlock()
		metrics.Default().IncStmtCache("hit")
		return stmt, nil
	}
	dm.stmtMu.RUnlock()
	metrics.Default().IncStmtCache("miss")

	stmt, err := dm.db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	dm.stmtMu.Lock()
	if prev, ok := dm.stmtCache[sqlText]; ok {
		dm.stmtMu.Unlock()
		_ = stmt.Close()
		return prev, nil
	}
	dm.stmtCache[sqlText] = stmt
	dm.stmtMu.Unlock()
	return stmt, nil
}

func (dm *DBManager) closeStmts() error {
	dm.stmtMu.Lock()
	defer dm.stmtMu.Unlock()
	var first error
	for k, stmt := range dm.stmtCache {
		if err := stmt.Close(); err != nil && first == nil {
			first = err
		}
		delete(dm.stmtCache, k)
	}
	return first
}
