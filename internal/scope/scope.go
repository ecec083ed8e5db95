// Package scope implements the Scope & filter layer (§4.J): translates
// caller-facing parameters (memory_scope, time window, collection
// selection) into store-native filters.
//
// Grounded on the teacher's internal/rag/retrieve/query.go (BuildQueryPlan,
// maxFilterEntries constant, filter-normalization idiom).
package scope

import (
	"time"

	"memoria/internal/merrors"
	"memoria/internal/model"
	"memoria/internal/ports"
)

// All is the sentinel meaning "do not filter by this dimension".
const All = "__all__"

// Scope selects which of user_id/group_id filters apply.
type Scope string

const (
	ScopeAll      Scope = "all"
	ScopePersonal Scope = "personal"
	ScopeGroup    Scope = "group"
)

// Request is the caller-facing filter input before resolution.
type Request struct {
	Scope         Scope
	UserID        string // may be All
	GroupID       string // may be All
	Type          model.MemoryType
	TimeRangeDays int
	Now           time.Time
	DisableTimeFilter bool
}

// Resolved is the store-native filter set.
type Resolved struct {
	UserID    string
	GroupID   string
	Type      model.MemoryType
	StartTime time.Time
	EndTime   time.Time
}

// ResolveRetrieve applies scope rules for a search/fetch: personal ignores
// group_id entirely, group ignores user_id. Both absent with scope=all is
// INVALID_PARAMETER.
func ResolveRetrieve(req Request) (Resolved, error) {
	r := Resolved{Type: req.Type}

	userSet := req.UserID != "" && req.UserID != All
	groupSet := req.GroupID != "" && req.GroupID != All

	switch req.Scope {
	case ScopePersonal:
		if !userSet {
			return Resolved{}, merrors.Input("scope=personal requires a non-__all__ user_id", nil)
		}
		r.UserID = req.UserID
	case ScopeGroup:
		if !groupSet {
			return Resolved{}, merrors.Input("scope=group requires a non-__all__ group_id", nil)
		}
		r.GroupID = req.GroupID
	case ScopeAll, "":
		if !userSet && !groupSet {
			return Resolved{}, merrors.Input("scope=all requires at least one of user_id/group_id to be non-__all__", nil)
		}
		if userSet {
			r.UserID = req.UserID
		}
		if groupSet {
			r.GroupID = req.GroupID
		}
	default:
		return Resolved{}, merrors.Input("unknown scope: "+string(req.Scope), nil)
	}

	if !req.DisableTimeFilter {
		now := req.Now
		if now.IsZero() {
			now = time.Now().UTC()
		}
		days := req.TimeRangeDays
		if days <= 0 {
			days = 365
		}
		r.StartTime = now.AddDate(0, 0, -days)
		r.EndTime = now
	}
	return r, nil
}

// ResolveMutation applies the delete-endpoint rule: at least one non-__all__
// filter is required among {user_id, group_id, memory_type-implied filters}.
func ResolveMutation(userID, groupID string, memType model.MemoryType) (ports.DocFilter, error) {
	userSet := userID != "" && userID != All
	groupSet := groupID != "" && groupID != All
	if !userSet && !groupSet && memType == "" {
		return ports.DocFilter{}, merrors.Input("mutation requires at least one non-__all__ filter", nil)
	}
	f := ports.DocFilter{Type: memType}
	if userSet {
		f.UserID = userID
	}
	if groupSet {
		f.GroupID = groupID
	}
	return f, nil
}

// ToDocFilter converts a Resolved scope into a ports.DocFilter for
// DocStore.Query/SoftDelete.
func (r Resolved) ToDocFilter() ports.DocFilter {
	return ports.DocFilter{
		UserID:    r.UserID,
		GroupID:   r.GroupID,
		Type:      r.Type,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
	}
}
