// Package store persists the decision platform's state to SQLite or
// PostgreSQL through database/sql. SQLite serves development and tests;
// PostgreSQL serves production. Queries are written once with ? markers
// and rebound to $N for the PostgreSQL backend.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DB wraps the SQL handle together with backend detection and the
// per-case locks used to serialize transitions on SQLite, which has no
// row-level SELECT ... FOR UPDATE.
type DB struct {
	sql        *sql.DB
	isPostgres bool

	mu        sync.Mutex
	caseLocks map[string]*sync.Mutex
}

// Open connects to the database named by dsn. A dsn starting with
// postgres:// or postgresql:// selects the pgx backend; anything else is
// treated as a SQLite file path.
func Open(dsn string) (*DB, error) {
	if dsn == "" {
		dsn = "decisiond.db"
	}
	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")

	var db *sql.DB
	var err error
	if isPostgres {
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	} else {
		dir := filepath.Dir(dsn)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// WAL keeps readers unblocked during case processing.
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &DB{
		sql:        db,
		isPostgres: isPostgres,
		caseLocks:  make(map[string]*sync.Mutex),
	}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *DB) Close() error { return s.sql.Close() }

// SQL exposes the raw handle for packages that run their own queries in
// the same database (audit log, policy store).
func (s *DB) SQL() *sql.DB { return s.sql }

// IsPostgres reports whether the store is backed by PostgreSQL.
func (s *DB) IsPostgres() bool { return s.isPostgres }

// Rebind rewrites ? placeholders into $N for the PostgreSQL backend.
func (s *DB) Rebind(query string) string {
	return rebind(s.isPostgres, query)
}

func rebind(isPostgres bool, query string) string {
	if !isPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// BeginTx starts a transaction.
func (s *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.sql.BeginTx(ctx, nil)
}

// lockCase serializes case mutation on the SQLite backend. PostgreSQL
// relies on SELECT ... FOR UPDATE instead; the in-process lock would not
// help a multi-replica deployment anyway.
func (s *DB) lockCase(caseID string) func() {
	if s.isPostgres {
		return func() {}
	}
	s.mu.Lock()
	l, ok := s.caseLocks[caseID]
	if !ok {
		l = &sync.Mutex{}
		s.caseLocks[caseID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *DB) createTables() error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.isPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cases (
			case_id TEXT PRIMARY KEY,
			vertical TEXT NOT NULL,
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			policy_version TEXT NOT NULL,
			customer_id TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			sla_deadline TEXT,
			metadata_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status)`,
		`CREATE INDEX IF NOT EXISTS idx_cases_vertical ON cases(vertical)`,

		`CREATE TABLE IF NOT EXISTS documents (
			document_id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL,
			document_type TEXT NOT NULL,
			document_subtype TEXT,
			file_path TEXT NOT NULL,
			file_size_bytes INTEGER NOT NULL,
			mime_type TEXT NOT NULL,
			uploaded_at TEXT NOT NULL,
			ocr_status TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_case ON documents(case_id)`,

		`CREATE TABLE IF NOT EXISTS evidence (
			evidence_id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL,
			evidence_type TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			data_json TEXT NOT NULL,
			UNIQUE(case_id, evidence_type, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_evidence_case_type ON evidence(case_id, evidence_type)`,

		`CREATE TABLE IF NOT EXISTS agent_recommendations (
			recommendation_id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			agent_version TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			recommendation_json TEXT NOT NULL,
			processing_time_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recommendations_case ON agent_recommendations(case_id)`,

		`CREATE TABLE IF NOT EXISTS ensemble_decisions (
			ensemble_id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			voting_strategy TEXT NOT NULL,
			agent_votes_json TEXT NOT NULL,
			final_json TEXT NOT NULL,
			UNIQUE(case_id, attempt)
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS audit_events (
			id %s,
			event_id TEXT UNIQUE NOT NULL,
			case_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			event_type TEXT NOT NULL,
			actor_json TEXT NOT NULL,
			transition_from TEXT,
			transition_to TEXT,
			policy_version TEXT,
			policy_rule_matched TEXT,
			payload_json TEXT NOT NULL,
			prev_hash TEXT NOT NULL,
			event_hash TEXT NOT NULL
		)`, pk),
		`CREATE INDEX IF NOT EXISTS idx_audit_case_time ON audit_events(case_id, timestamp, id)`,

		`CREATE TABLE IF NOT EXISTS queue_assignments (
			assignment_id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL,
			queue TEXT NOT NULL,
			assigned_role TEXT NOT NULL,
			assigned_to_user TEXT,
			claimed_at TEXT,
			sla_deadline TEXT,
			priority INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_open ON queue_assignments(queue, claimed_at)`,

		`CREATE TABLE IF NOT EXISTS policies (
			policy_version TEXT PRIMARY KEY,
			vertical TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 0,
			loaded_at TEXT NOT NULL,
			document_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_policies_vertical ON policies(vertical, active)`,

		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			full_name TEXT,
			role TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			last_login TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.sql.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
