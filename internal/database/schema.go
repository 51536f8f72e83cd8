package database

import "fmt"

// dynamicSchema returns schema DDL using the configured embedding dimension
func dynamicSchema(embeddingDims int) []string {
	if embeddingDims <= 0 {
		embeddingDims = 4
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS entities (
        id TEXT PRIMARY KEY,
        kind TEXT NOT NULL,
        attributes TEXT NOT NULL DEFAULT '{}',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    )`,

		// Relations are unique per (source, kind, target); several kinds may join a pair
		`CREATE TABLE IF NOT EXISTS relations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        source TEXT NOT NULL,
        kind TEXT NOT NULL,
        target TEXT NOT NULL,
        weight REAL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        UNIQUE (source, kind, target)
    )`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings (
        entity_id TEXT PRIMARY KEY,
        model TEXT NOT NULL DEFAULT '',
        embedding F32_BLOB(%d) NOT NULL,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    )`, embeddingDims),

		`CREATE TABLE IF NOT EXISTS artifacts (
        id TEXT PRIMARY KEY,
        type TEXT NOT NULL,
        request_id TEXT NOT NULL,
        query TEXT NOT NULL,
        confidence REAL NOT NULL,
        degraded INTEGER NOT NULL DEFAULT 0,
        payload TEXT NOT NULL,
        created_at TEXT NOT NULL
    )`,

		`CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_source ON relations(source)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_kind_source ON relations(kind, source)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_type_created ON artifacts(type, created_at)`,

		`CREATE INDEX IF NOT EXISTS idx_embeddings_vector ON embeddings(libsql_vector_idx(embedding))`,
	}
}
