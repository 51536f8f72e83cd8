// Package database is the durable libSQL store behind the in-memory graph and
// vector index: entities, relations, embeddings and finished artifacts. The
// process hydrates its stores from here at startup.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/metrics"
)

// DBManager owns the libSQL handle and its prepared statements
type DBManager struct {
	config *Config
	db     *sql.DB
	log    logrus.FieldLogger

	stmtMu    sync.RWMutex
	stmtCache map[string]*sql.Stmt
}

// NewDBManager opens the database, creates the schema and reconciles the
// embedding dimension with an existing database
func NewDBManager(config *Config) (*DBManager, error) {
	if config.EmbeddingDims <= 0 || config.EmbeddingDims > 65536 {
		return nil, fmt.Errorf("embedding dims must be between 1 and 65536 inclusive, got %d", config.EmbeddingDims)
	}
	cfg := *config
	manager := &DBManager{
		config:    &cfg,
		log:       logrus.StandardLogger().WithField("component", "database"),
		stmtCache: make(map[string]*sql.Stmt),
	}

	db, err := sql.Open("libsql", connectionURL(cfg.URL, cfg.AuthToken))
	if err != nil {
		return nil, fmt.Errorf("failed to create database connector: %w", err)
	}

	// An existing database keeps the dimension it was created with
	if dbDims := detectDBEmbeddingDims(db); dbDims > 0 && dbDims != cfg.EmbeddingDims {
		manager.log.WithFields(logrus.Fields{"db": dbDims, "config": cfg.EmbeddingDims}).
			Warn("embedding dims mismatch, adopting database dims")
		manager.config.EmbeddingDims = dbDims
	}

	if err := manager.initialize(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleSec > 0 {
		db.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleSec) * time.Second)
	}
	if cfg.ConnMaxLifeSec > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifeSec) * time.Second)
	}
	manager.db = db
	manager.ReportPoolStats()
	return manager, nil
}

// connectionURL appends the auth token to remote URLs
func connectionURL(dbURL, authToken string) string {
	if strings.HasPrefix(dbURL, "file:") || authToken == "" {
		return dbURL
	}
	if u, err := url.Parse(dbURL); err == nil {
		q := u.Query()
		q.Set("authToken", authToken)
		u.RawQuery = q.Encode()
		return u.String()
	}
	if strings.Contains(dbURL, "?") {
		return dbURL + "&authToken=" + url.QueryEscape(authToken)
	}
	return dbURL + "?authToken=" + url.QueryEscape(authToken)
}

// detectDBEmbeddingDims reads the F32_BLOB size of embeddings.embedding, or 0
// when the table does not exist yet
func detectDBEmbeddingDims(db *sql.DB) int {
	var sqlText string
	_ = db.QueryRow("SELECT sql FROM sqlite_master WHERE type='table' AND name='embeddings'").Scan(&sqlText)
	if sqlText != "" {
		low := strings.ToLower(sqlText)
		idx := strings.Index(low, "f32_blob(")
		if idx >= 0 {
			rest := low[idx+len("f32_blob("):]
			end := strings.Index(rest, ")")
			if end > 0 {
				if n, err := strconv.Atoi(strings.TrimSpace(rest[:end])); err == nil && n > 0 {
					return n
				}
			}
		}
	}
	var blob []byte
	_ = db.QueryRow("SELECT embedding FROM embeddings LIMIT 1").Scan(&blob)
	if len(blob) > 0 && len(blob)%4 == 0 {
		return len(blob) / 4
	}
	return 0
}

// initialize creates tables and indexes if they don't exist
func (dm *DBManager) initialize(db *sql.DB) error {
	done := metrics.TimeOp("db_initialize")
	success := false
	defer func() { done(success) }()
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for initialization: %w", err)
	}
	defer tx.Rollback()

	for _, statement := range dynamicSchema(dm.config.EmbeddingDims) {
		if _, err := tx.Exec(statement); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	success = true
	return nil
}

// Dims is the embedding dimension of the embeddings table
func (dm *DBManager) Dims() int { return dm.config.EmbeddingDims }

// Ping checks that the database answers
func (dm *DBManager) Ping(ctx context.Context) error {
	if err := dm.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// Close releases cached statements and the connection pool
func (dm *DBManager) Close() error {
	stmtErr := dm.closeStmts()
	if err := dm.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	if stmtErr != nil {
		return fmt.Errorf("failed to close statements: %w", stmtErr)
	}
	return nil
}

// ReportPoolStats publishes the current connection pool gauges
func (dm *DBManager) ReportPoolStats() {
	stats := dm.db.Stats()
	metrics.Default().ObservePoolStats(stats.InUse, stats.Idle)
}
