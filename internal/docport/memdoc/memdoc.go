// Package memdoc is an in-memory DocStore adapter, used for tests and local
// development. It satisfies the same ports.DocStore contract the postgres
// adapter does.
package memdoc

import (
	"context"
	"sort"
	"sync"

	"memoria/internal/merrors"
	"memoria/internal/model"
	"memoria/internal/ports"
)

// Store is a mutex-guarded in-memory DocStore.
type Store struct {
	mu   sync.Mutex
	rows map[string]ports.DocRow
}

// New constructs an empty Store.
func New() *Store {
	return &Store{rows: make(map[string]ports.DocRow)}
}

func (s *Store) Put(ctx context.Context, row ports.DocRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.MemoryID] = row
	return nil
}

func (s *Store) Get(ctx context.Context, memoryID string) (ports.DocRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[memoryID]
	if !ok || row.Deleted {
		return ports.DocRow{}, merrors.NotFound("memory not found: "+memoryID, nil)
	}
	return row, nil
}

func (s *Store) Query(ctx context.Context, filter ports.DocFilter) ([]ports.DocRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ports.DocRow
	for _, row := range s.rows {
		if row.Deleted {
			continue
		}
		if filter.UserID != "" && row.UserID != filter.UserID {
			continue
		}
		if filter.GroupID != "" && row.GroupID != filter.GroupID {
			continue
		}
		if filter.Type != "" && row.Type != filter.Type {
			continue
		}
		if len(filter.Types) > 0 && !containsType(filter.Types, row.Type) {
			continue
		}
		if !filter.StartTime.IsZero() && row.CreatedAt.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && row.CreatedAt.After(filter.EndTime) {
			continue
		}
		out = append(out, row)
	}

	desc := filter.SortOrder != "asc"
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else if filter.Offset >= len(out) {
		out = nil
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func containsType(types []model.MemoryType, t model.MemoryType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func (s *Store) Patch(ctx context.Context, memoryID string, fields map[string]interface{}, expectVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[memoryID]
	if !ok {
		return merrors.NotFound("memory not found: "+memoryID, nil)
	}
	if expectVersion > 0 && row.Version != expectVersion {
		return merrors.Input("version conflict", nil)
	}
	for k, v := range fields {
		row.Fields[k] = v
	}
	row.Version++
	s.rows[memoryID] = row
	return nil
}

func (s *Store) SoftDelete(ctx context.Context, filter ports.DocFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if filter.UserID == "" && filter.GroupID == "" && filter.Type == "" {
		return 0, merrors.Input("soft_delete requires at least one non-__all__ filter", nil)
	}
	n := 0
	for id, row := range s.rows {
		if filter.UserID != "" && row.UserID != filter.UserID {
			continue
		}
		if filter.GroupID != "" && row.GroupID != filter.GroupID {
			continue
		}
		if filter.Type != "" && row.Type != filter.Type {
			continue
		}
		row.Deleted = true
		s.rows[id] = row
		n++
	}
	return n, nil
}

func (s *Store) MarkIndexPending(ctx context.Context, memoryID string, pending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[memoryID]
	if !ok {
		return merrors.NotFound("memory not found: "+memoryID, nil)
	}
	row.IndexPending = pending
	s.rows[memoryID] = row
	return nil
}

// PendingIDs returns memory ids currently marked index_pending, for the
// reconciliation loop to scan.
func (s *Store) PendingIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, row := range s.rows {
		if row.IndexPending && !row.Deleted {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
