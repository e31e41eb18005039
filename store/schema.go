package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Versioned knowledge entries. Rows are never hard-deleted; active=0
-- marks a soft delete and version guards optimistic concurrency.
CREATE TABLE IF NOT EXISTS entries (
    id INTEGER PRIMARY KEY,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    category TEXT NOT NULL,
    tags JSON NOT NULL DEFAULT '[]',
    source TEXT,
    version INTEGER NOT NULL DEFAULT 1,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_category ON entries(category) WHERE active = 1;

-- Typed weighted edges between entries. Edges survive endpoint
-- deactivation; traversal filters inactive endpoints at read time.
CREATE TABLE IF NOT EXISTS relations (
    id INTEGER PRIMARY KEY,
    source_id INTEGER NOT NULL REFERENCES entries(id),
    target_id INTEGER NOT NULL REFERENCES entries(id),
    relation_type TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 1.0,
    created_at TEXT NOT NULL,
    UNIQUE(source_id, target_id, relation_type)
);

CREATE INDEX IF NOT EXISTS idx_relations_source ON relations(source_id);
CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target_id);

-- Entry embeddings via sqlite-vec. Loaded into the in-memory index at
-- startup so entries do not need re-embedding on every boot.
CREATE VIRTUAL TABLE IF NOT EXISTS vec_entries USING vec0(
    entry_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Tracks which entry version each stored embedding was computed from.
CREATE TABLE IF NOT EXISTS entry_index_state (
    entry_id INTEGER PRIMARY KEY,
    version INTEGER NOT NULL
);

-- Consultation log. status only ever moves pending -> completed or
-- pending -> failed.
CREATE TABLE IF NOT EXISTS consultations (
    id INTEGER PRIMARY KEY,
    user_id TEXT,
    question TEXT NOT NULL,
    context TEXT,
    category TEXT,
    classifier_category TEXT,
    classifier_confidence REAL,
    answer TEXT,
    confidence REAL,
    sources JSON NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'completed', 'failed')),
    error TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_consultations_user ON consultations(user_id, id);
`, embeddingDim)
}
