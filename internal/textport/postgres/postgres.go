// Package postgres adapts a *pgxpool.Pool to memoria's TextIndex port using
// Postgres full-text search (tsvector + ts_rank_cd) as the BM25-ish lexical
// ranking function named in the retrieval contract. Shares the pool with
// docport/postgres, per the teacher's single-pool-per-process idiom
// (internal/persistence/databases/pool.go).
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"memoria/internal/merrors"
	"memoria/internal/ports"
)

// Index adapts the pool to ports.TextIndex. Schema: a `memory_text` table
// with (memory_id primary key, memory_type, user_id, group_id, created_at,
// body text, body_tsv tsvector generated column, gin index on body_tsv).
type Index struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Index { return &Index{pool: pool} }

func (ix *Index) Upsert(ctx context.Context, memoryID string, text string, filter ports.DocFilter) error {
	_, err := ix.pool.Exec(ctx, `
		INSERT INTO memory_text (memory_id, memory_type, user_id, group_id, created_at, body)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (memory_id) DO UPDATE SET body = EXCLUDED.body
	`, memoryID, string(filter.Type), filter.UserID, filter.GroupID, filter.CreatedAt, text)
	if err != nil {
		return merrors.Transient("postgres text upsert failed", err)
	}
	return nil
}

func (ix *Index) Delete(ctx context.Context, memoryID string) error {
	_, err := ix.pool.Exec(ctx, `DELETE FROM memory_text WHERE memory_id = $1`, memoryID)
	if err != nil {
		return merrors.Transient("postgres text delete failed", err)
	}
	return nil
}

func (ix *Index) Query(ctx context.Context, q ports.TextQuery) ([]ports.TextHit, error) {
	clauses := []string{"body_tsv @@ websearch_to_tsquery('english', $1)"}
	args := []interface{}{q.Query}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.Type != "" {
		clauses = append(clauses, "memory_type = "+arg(string(q.Type)))
	}
	if q.UserID != "" {
		clauses = append(clauses, "user_id = "+arg(q.UserID))
	}
	if q.GroupID != "" {
		clauses = append(clauses, "group_id = "+arg(q.GroupID))
	}
	if !q.StartTime.IsZero() {
		clauses = append(clauses, "created_at >= "+arg(q.StartTime))
	}
	if !q.EndTime.IsZero() {
		clauses = append(clauses, "created_at <= "+arg(q.EndTime))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT memory_id, ts_rank_cd(body_tsv, websearch_to_tsquery('english', $1)) AS score
		FROM memory_text WHERE %s ORDER BY score DESC LIMIT %s
	`, strings.Join(clauses, " AND "), arg(limit))

	rows, err := ix.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, merrors.Transient("postgres text query failed", err)
	}
	defer rows.Close()

	var hits []ports.TextHit
	for rows.Next() {
		var hit ports.TextHit
		if err := rows.Scan(&hit.MemoryID, &hit.Score); err != nil {
			return nil, merrors.Transient("postgres text scan failed", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}
