package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"decisiond/internal/store"
)

// DefaultCacheTTL bounds how stale a cached policy can be. Policies are
// immutable by version, so only the active-policy pointer benefits from
// a short TTL.
const DefaultCacheTTL = 30 * time.Second

// Store persists policy documents and serves them through a two-level
// cache: an in-process map for the hot path and an optional shared Redis
// layer so replicas see activations without waiting for their local TTL.
type Store struct {
	db     *store.DB
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	policy  *Policy
	expires time.Time
}

// NewStore wires a policy store. rdb may be nil; the local cache then
// works alone.
func NewStore(db *store.DB, rdb *redis.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		rdb:    rdb,
		ttl:    DefaultCacheTTL,
		logger: logger,
		cache:  make(map[string]cacheEntry),
	}
}

func activeKey(vertical string) string { return "policy:active:" + vertical }
func idKey(policyID string) string     { return "policy:id:" + policyID }

// Save validates and inserts a policy document. Saving does not activate
// it; Activate flips the active pointer separately.
func (s *Store) Save(ctx context.Context, p *Policy) error {
	if err := Validate(p); err != nil {
		return err
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	active := 0
	if p.Active {
		active = 1
	}
	_, err = s.db.SQL().ExecContext(ctx, s.db.Rebind(`
		INSERT INTO policies (policy_version, vertical, active, loaded_at, document_json)
		VALUES (?, ?, ?, ?, ?)`),
		p.PolicyID, p.Vertical, active,
		time.Now().UTC().Format(time.RFC3339Nano), string(doc))
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	if p.Active {
		s.invalidate(ctx, p.Vertical, p.PolicyID)
	}
	return nil
}

// Activate makes a stored policy the single active one for its vertical.
func (s *Store) Activate(ctx context.Context, policyID string) error {
	p, err := s.Get(ctx, policyID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin activate: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE policies SET active = 0 WHERE vertical = ?`), p.Vertical); err != nil {
		return fmt.Errorf("deactivate policies: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE policies SET active = 1 WHERE policy_version = ?`), policyID); err != nil {
		return fmt.Errorf("activate policy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activate: %w", err)
	}

	s.invalidate(ctx, p.Vertical, policyID)
	return nil
}

func (s *Store) invalidate(ctx context.Context, vertical, policyID string) {
	s.mu.Lock()
	delete(s.cache, activeKey(vertical))
	delete(s.cache, idKey(policyID))
	s.mu.Unlock()
	if s.rdb != nil {
		if err := s.rdb.Del(ctx, activeKey(vertical), idKey(policyID)).Err(); err != nil {
			s.logger.Warn("redis invalidation failed", "vertical", vertical, "error", err)
		}
	}
}

// Get loads a policy by version.
func (s *Store) Get(ctx context.Context, policyID string) (*Policy, error) {
	if p := s.cached(ctx, idKey(policyID)); p != nil {
		return p, nil
	}
	row := s.db.SQL().QueryRowContext(ctx, s.db.Rebind(`
		SELECT document_json, active FROM policies WHERE policy_version = ?`), policyID)
	p, err := s.scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, &store.NotFoundError{Kind: "policy", ID: policyID}
	}
	if err != nil {
		return nil, fmt.Errorf("query policy: %w", err)
	}
	s.remember(ctx, idKey(policyID), p)
	return p, nil
}

// GetActive loads the active policy for a vertical.
func (s *Store) GetActive(ctx context.Context, vertical string) (*Policy, error) {
	if p := s.cached(ctx, activeKey(vertical)); p != nil {
		return p, nil
	}
	row := s.db.SQL().QueryRowContext(ctx, s.db.Rebind(`
		SELECT document_json, active FROM policies WHERE vertical = ? AND active = 1
		LIMIT 1`), vertical)
	p, err := s.scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, &NoActivePolicyError{Vertical: vertical}
	}
	if err != nil {
		return nil, fmt.Errorf("query active policy: %w", err)
	}
	s.remember(ctx, activeKey(vertical), p)
	return p, nil
}

// List returns every stored policy, newest first.
func (s *Store) List(ctx context.Context) ([]*Policy, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT document_json, active FROM policies ORDER BY loaded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var out []*Policy
	for rows.Next() {
		p, err := s.scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) scanPolicy(row interface{ Scan(...any) error }) (*Policy, error) {
	var doc string
	var active int
	if err := row.Scan(&doc, &active); err != nil {
		return nil, err
	}
	var p Policy
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("unmarshal policy document: %w", err)
	}
	p.Active = active != 0
	return &p, nil
}

func (s *Store) cached(ctx context.Context, key string) *Policy {
	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.policy
	}

	if s.rdb != nil {
		data, err := s.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var p Policy
			if err := json.Unmarshal(data, &p); err == nil {
				s.mu.Lock()
				s.cache[key] = cacheEntry{policy: &p, expires: time.Now().Add(s.ttl)}
				s.mu.Unlock()
				return &p
			}
		} else if err != redis.Nil {
			s.logger.Warn("redis policy lookup failed", "key", key, "error", err)
		}
	}
	return nil
}

func (s *Store) remember(ctx context.Context, key string, p *Policy) {
	s.mu.Lock()
	s.cache[key] = cacheEntry{policy: p, expires: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	if s.rdb != nil {
		data, err := json.Marshal(p)
		if err == nil {
			if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
				s.logger.Warn("redis policy cache write failed", "key", key, "error", err)
			}
		}
	}
}
