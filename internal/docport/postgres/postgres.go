// Package postgres adapts a *pgxpool.Pool to memoria's DocStore port:
// canonical rows keyed by memory_id, plus the conversation_meta table
// referenced in §6. Grounded on the teacher's
// internal/persistence/databases/pool.go (pgxpool.Pool construction idiom).
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"memoria/internal/merrors"
	"memoria/internal/model"
	"memoria/internal/ports"
)

// Store adapts a shared connection pool to ports.DocStore. The pool is also
// shared with the textport/postgres adapter (one pgxpool per process,
// mirroring the teacher's single OpenPool-constructed pool).
type Store struct {
	pool *pgxpool.Pool
}

// OpenPool mirrors the teacher's OpenPool helper.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, dsn)
}

// New wraps an already-open pool. Schema is expected to be migrated out of
// band (a single `memories` table keyed by memory_id plus a `fields` jsonb
// column, and a `conversation_meta` table keyed by group_id).
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the shared pool so other adapters (textport/postgres) can
// reuse the same connection pool rather than opening a second one.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Put(ctx context.Context, row ports.DocRow) error {
	fieldsJSON, err := json.Marshal(row.Fields)
	if err != nil {
		return merrors.Input("doc row fields not json-serializable", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO memories (memory_id, memory_type, user_id, group_id, created_at, deleted, version, index_pending, fields)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (memory_id) DO UPDATE SET
			memory_type = EXCLUDED.memory_type,
			user_id = EXCLUDED.user_id,
			group_id = EXCLUDED.group_id,
			deleted = EXCLUDED.deleted,
			version = EXCLUDED.version,
			index_pending = EXCLUDED.index_pending,
			fields = EXCLUDED.fields
	`, row.MemoryID, string(row.Type), row.UserID, row.GroupID, row.CreatedAt, row.Deleted, row.Version, row.IndexPending, fieldsJSON)
	if err != nil {
		return merrors.Transient("postgres put failed", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, memoryID string) (ports.DocRow, error) {
	var row ports.DocRow
	var fieldsJSON []byte
	var memType string
	err := s.pool.QueryRow(ctx, `
		SELECT memory_id, memory_type, user_id, group_id, created_at, deleted, version, index_pending, fields
		FROM memories WHERE memory_id = $1 AND deleted = false
	`, memoryID).Scan(&row.MemoryID, &memType, &row.UserID, &row.GroupID, &row.CreatedAt, &row.Deleted, &row.Version, &row.IndexPending, &fieldsJSON)
	if err != nil {
		return ports.DocRow{}, merrors.NotFound("memory not found: "+memoryID, err)
	}
	row.Type = model.MemoryType(memType)
	if err := json.Unmarshal(fieldsJSON, &row.Fields); err != nil {
		return ports.DocRow{}, merrors.Fatal("corrupt doc row fields", err)
	}
	return row, nil
}

func (s *Store) Query(ctx context.Context, filter ports.DocFilter) ([]ports.DocRow, error) {
	clauses := []string{"deleted = false"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = "+arg(filter.UserID))
	}
	if filter.GroupID != "" {
		clauses = append(clauses, "group_id = "+arg(filter.GroupID))
	}
	if filter.Type != "" {
		clauses = append(clauses, "memory_type = "+arg(string(filter.Type)))
	}
	if len(filter.Types) > 0 {
		strs := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			strs[i] = string(t)
		}
		clauses = append(clauses, "memory_type = ANY("+arg(strs)+")")
	}
	if !filter.StartTime.IsZero() {
		clauses = append(clauses, "created_at >= "+arg(filter.StartTime))
	}
	if !filter.EndTime.IsZero() {
		clauses = append(clauses, "created_at <= "+arg(filter.EndTime))
	}

	order := "DESC"
	if filter.SortOrder == "asc" {
		order = "ASC"
	}
	sortCol := "created_at"
	if filter.SortBy != "" {
		sortCol = filter.SortBy
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	query := fmt.Sprintf(`
		SELECT memory_id, memory_type, user_id, group_id, created_at, deleted, version, index_pending, fields
		FROM memories WHERE %s ORDER BY %s %s LIMIT %s OFFSET %s
	`, strings.Join(clauses, " AND "), sortCol, order, arg(limit), arg(filter.Offset))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, merrors.Transient("postgres query failed", err)
	}
	defer rows.Close()

	var out []ports.DocRow
	for rows.Next() {
		var row ports.DocRow
		var fieldsJSON []byte
		var memType string
		if err := rows.Scan(&row.MemoryID, &memType, &row.UserID, &row.GroupID, &row.CreatedAt, &row.Deleted, &row.Version, &row.IndexPending, &fieldsJSON); err != nil {
			return nil, merrors.Transient("postgres scan failed", err)
		}
		row.Type = model.MemoryType(memType)
		_ = json.Unmarshal(fieldsJSON, &row.Fields)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) Patch(ctx context.Context, memoryID string, fields map[string]interface{}, expectVersion int) error {
	existing, err := s.Get(ctx, memoryID)
	if err != nil {
		return err
	}
	if expectVersion > 0 && existing.Version != expectVersion {
		return merrors.Input("version conflict on patch", nil)
	}
	merged := existing.Fields
	if merged == nil {
		merged = map[string]interface{}{}
	}
	for k, v := range fields {
		merged[k] = v
	}
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return merrors.Input("patch fields not json-serializable", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE memories SET fields = $1, version = version + 1 WHERE memory_id = $2 AND version = $3
	`, mergedJSON, memoryID, existing.Version)
	if err != nil {
		return merrors.Transient("postgres patch failed", err)
	}
	return nil
}

func (s *Store) SoftDelete(ctx context.Context, filter ports.DocFilter) (int, error) {
	if filter.UserID == "" && filter.GroupID == "" && filter.Type == "" {
		return 0, merrors.Input("soft_delete requires at least one non-__all__ filter", nil)
	}
	clauses := []string{"deleted = false"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = "+arg(filter.UserID))
	}
	if filter.GroupID != "" {
		clauses = append(clauses, "group_id = "+arg(filter.GroupID))
	}
	if filter.Type != "" {
		clauses = append(clauses, "memory_type = "+arg(string(filter.Type)))
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`UPDATE memories SET deleted = true WHERE %s`, strings.Join(clauses, " AND ")), args...)
	if err != nil {
		return 0, merrors.Transient("postgres soft_delete failed", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) MarkIndexPending(ctx context.Context, memoryID string, pending bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE memories SET index_pending = $1 WHERE memory_id = $2`, pending, memoryID)
	if err != nil {
		return merrors.Transient("postgres mark index_pending failed", err)
	}
	return nil
}
