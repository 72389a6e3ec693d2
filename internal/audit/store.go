package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schoolhub/schoolhub/internal/platform/db"
)

// Writer appends entries to a compliance sink. Implementations never update or
// delete.
type Writer interface {
	Append(ctx context.Context, e Entry) error
}

// Filter narrows a timeline query. Zero values mean no constraint.
type Filter struct {
	From         time.Time
	To           time.Time
	PrincipalID  string
	ResourceType string
	Granted      *bool
	Offset       int
	Limit        int
}

// Reader queries the compliance sink ordered by timestamp, newest first.
type Reader interface {
	List(ctx context.Context, f Filter) ([]Entry, error)
	CountExpired(ctx context.Context, asOf time.Time) (int64, error)
}

// Store is a full compliance sink.
type Store interface {
	Writer
	Reader
}

// Schema creates the append-only audit table. The rules turn UPDATE and DELETE into
// no-ops so the table stays write-once even for privileged database sessions that
// go through the application role.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id                    UUID PRIMARY KEY,
	operation             TEXT NOT NULL,
	resource_type         TEXT NOT NULL,
	resource_id           TEXT NOT NULL,
	protected_resource_id TEXT,
	resource_ref          TEXT,
	principal_id          TEXT NOT NULL,
	principal_role        TEXT NOT NULL,
	granted               BOOLEAN NOT NULL,
	reason                TEXT NOT NULL,
	permission            TEXT,
	occurred_at           TIMESTAMPTZ NOT NULL,
	network_origin        TEXT,
	data_classification   TEXT NOT NULL,
	retain_until          TIMESTAMPTZ NOT NULL,
	meta                  JSONB
);
CREATE INDEX IF NOT EXISTS audit_entries_occurred_at_idx ON audit_entries (occurred_at DESC);
CREATE INDEX IF NOT EXISTS audit_entries_principal_idx ON audit_entries (principal_id, occurred_at DESC);
CREATE OR REPLACE RULE audit_entries_no_update AS ON UPDATE TO audit_entries DO INSTEAD NOTHING;
CREATE OR REPLACE RULE audit_entries_no_delete AS ON DELETE TO audit_entries DO INSTEAD NOTHING;
`

// PGStore persists entries into PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore returns a new PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// schemaLockKey serialises EnsureSchema across replicas starting together.
const schemaLockKey int64 = 0x5c400a0d17

// EnsureSchema applies Schema.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("audit store not initialised")
	}
	return db.WithAdvisoryLock(ctx, s.pool, schemaLockKey, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, Schema); err != nil {
			return fmt.Errorf("audit: ensure schema: %w", err)
		}
		return nil
	})
}

// Append inserts the entry. Replays of the same id are ignored.
func (s *PGStore) Append(ctx context.Context, e Entry) error {
	if s == nil || s.pool == nil {
		return errors.New("audit store not initialised")
	}
	if e.ID == "" || e.Operation == "" || e.ResourceType == "" {
		return fmt.Errorf("%w: entry requires id/operation/resource_type", ErrInvalidInput)
	}
	var metaJSON []byte
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		metaJSON = raw
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO audit_entries (
		id, operation, resource_type, resource_id, protected_resource_id, resource_ref,
		principal_id, principal_role, granted, reason, permission, occurred_at,
		network_origin, data_classification, retain_until, meta
	) VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, NULLIF($11, ''), $12, NULLIF($13, ''), $14, $15, $16)
	ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Operation, e.ResourceType, e.ResourceID, e.ProtectedResourceID, e.ResourceRef,
		e.PrincipalID, e.PrincipalRole, e.Granted, e.Reason, e.Permission, e.Timestamp,
		e.NetworkOrigin, e.Classification.String(), e.RetainUntil, metaJSON)
	return err
}

// List returns entries matching f, newest first.
func (s *PGStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("audit store not initialised")
	}
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < $%d", f.To)
	}
	if f.PrincipalID != "" {
		add("principal_id = $%d", f.PrincipalID)
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", f.ResourceType)
	}
	if f.Granted != nil {
		add("granted = $%d", *f.Granted)
	}
	query := `SELECT id, operation, resource_type, resource_id, COALESCE(protected_resource_id, ''),
		COALESCE(resource_ref, ''), principal_id, principal_role, granted, reason, COALESCE(permission, ''),
		occurred_at, COALESCE(network_origin, ''), data_classification, retain_until, meta
		FROM audit_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanEntry)
}

func scanEntry(row pgx.CollectableRow) (Entry, error) {
	var (
		e     Entry
		class string
		meta  []byte
	)
	err := row.Scan(&e.ID, &e.Operation, &e.ResourceType, &e.ResourceID, &e.ProtectedResourceID,
		&e.ResourceRef, &e.PrincipalID, &e.PrincipalRole, &e.Granted, &e.Reason, &e.Permission,
		&e.Timestamp, &e.NetworkOrigin, &class, &e.RetainUntil, &meta)
	if err != nil {
		return Entry{}, err
	}
	e.Classification, _ = ParseClassification(class)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return Entry{}, err
		}
	}
	return e, nil
}

// CountExpired counts entries whose retention window ended before asOf.
func (s *PGStore) CountExpired(ctx context.Context, asOf time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("audit store not initialised")
	}
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_entries WHERE retain_until < $1`, asOf).Scan(&n)
	return n, err
}

// MemoryStore keeps entries in process. It backs tests and single-node development.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	seen    map[string]struct{}
	err     error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]struct{})}
}

// FailWith makes subsequent appends return err until called with nil.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Append stores a copy of e.
func (s *MemoryStore) Append(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, dup := s.seen[e.ID]; dup {
		return nil
	}
	s.seen[e.ID] = struct{}{}
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns every stored entry in insertion order.
func (s *MemoryStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// List implements Reader.
func (s *MemoryStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	matched := make([]Entry, 0)
	for _, e := range s.Entries() {
		if !f.From.IsZero() && e.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
			continue
		}
		if f.PrincipalID != "" && e.PrincipalID != f.PrincipalID {
			continue
		}
		if f.ResourceType != "" && e.ResourceType != f.ResourceType {
			continue
		}
		if f.Granted != nil && e.Granted != *f.Granted {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []Entry{}, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// CountExpired implements Reader.
func (s *MemoryStore) CountExpired(ctx context.Context, asOf time.Time) (int64, error) {
	var n int64
	for _, e := range s.Entries() {
		if e.RetainUntil.Before(asOf) {
			n++
		}
	}
	return n, nil
}

var (
	_ Store = (*PGStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
