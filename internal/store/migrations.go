package store

import "fmt"

var createTables = []string{
	`CREATE TABLE IF NOT EXISTS files (
		file_id     TEXT PRIMARY KEY,
		root_id     TEXT NOT NULL DEFAULT '',
		path        TEXT NOT NULL UNIQUE,
		parent_path TEXT NOT NULL DEFAULT '',
		name        TEXT NOT NULL,
		ext         TEXT NOT NULL DEFAULT '',
		is_dir      INTEGER NOT NULL DEFAULT 0,
		size_bytes  INTEGER NOT NULL DEFAULT 0,
		mtime       TEXT,
		ctime       TEXT,
		category    TEXT NOT NULL DEFAULT 'other',
		status      TEXT NOT NULL DEFAULT 'pending'
	)`,
	`CREATE TABLE IF NOT EXISTS edges (
		edge_id          TEXT PRIMARY KEY,
		src_id           TEXT NOT NULL,
		dst_id           TEXT NOT NULL,
		relation         TEXT NOT NULL,
		confidence       REAL NOT NULL DEFAULT 0,
		evidence         TEXT NOT NULL DEFAULT '',
		evidence_file_id TEXT NOT NULL DEFAULT '',
		created_by       TEXT NOT NULL DEFAULT '',
		created_at       TEXT NOT NULL DEFAULT (datetime('now')),
		UNIQUE(src_id, dst_id, relation)
	)`,
	`CREATE TABLE IF NOT EXISTS candidate_edges (
		candidate_id TEXT PRIMARY KEY,
		strategy_id  TEXT NOT NULL,
		src_id       TEXT NOT NULL,
		dst_id       TEXT NOT NULL,
		relation     TEXT NOT NULL,
		confidence   REAL NOT NULL DEFAULT 0,
		evidence     TEXT NOT NULL DEFAULT '{}',
		status       TEXT NOT NULL DEFAULT 'pending',
		reviewer     TEXT NOT NULL DEFAULT '',
		reviewed_at  TEXT,
		created_at   TEXT NOT NULL DEFAULT (datetime('now')),
		UNIQUE(strategy_id, src_id, dst_id, relation)
	)`,
	`CREATE TABLE IF NOT EXISTS linker_strategies (
		strategy_id    TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		version        INTEGER NOT NULL DEFAULT 1,
		active         INTEGER NOT NULL DEFAULT 1,
		src_pattern    TEXT NOT NULL DEFAULT '*',
		dst_pattern    TEXT NOT NULL DEFAULT '*',
		relation       TEXT NOT NULL DEFAULT 'related_to',
		weights        TEXT NOT NULL DEFAULT '{}',
		token_patterns TEXT NOT NULL DEFAULT '{}',
		created_at     TEXT NOT NULL DEFAULT (datetime('now')),
		UNIQUE(name, version)
	)`,
	`CREATE TABLE IF NOT EXISTS audits (
		audit_id               TEXT PRIMARY KEY,
		candidate_id           TEXT NOT NULL,
		verdict                TEXT NOT NULL,
		confidence             REAL NOT NULL DEFAULT 0,
		reasoning              TEXT NOT NULL DEFAULT '',
		recommended_next_steps TEXT NOT NULL DEFAULT 'null',
		gating_reason          TEXT NOT NULL DEFAULT '',
		model                  TEXT NOT NULL DEFAULT '',
		prompt_version         TEXT NOT NULL DEFAULT '',
		created_at             TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
	`CREATE TABLE IF NOT EXISTS candidate_labels (
		candidate_id TEXT PRIMARY KEY,
		label        TEXT NOT NULL,
		labeled_by   TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_candidates_status ON candidate_edges(status)`,
	`CREATE INDEX IF NOT EXISTS idx_candidates_dst ON candidate_edges(dst_id)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_src ON edges(src_id)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audits_candidate ON audits(candidate_id)`,
}

// migration is one additive column change applied to an existing table.
type migration struct {
	Table  string
	Column string
	Def    string
}

// migrations lists columns added after the initial schema shipped.
var migrations = []migration{
	{Table: "audits", Column: "recommended_next_steps", Def: "TEXT NOT NULL DEFAULT 'null'"},
	{Table: "audits", Column: "prompt_version", Def: "TEXT NOT NULL DEFAULT ''"},
}

func (s *Store) migrate() error {
	for _, stmt := range createTables {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create table failed: %w", err)
		}
	}
	for _, m := range migrations {
		exists, err := s.columnExists(m.Table, m.Column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("add column %s.%s failed: %w", m.Table, m.Column, err)
		}
	}
	return nil
}

func (s *Store) columnExists(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table_info %s failed: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
