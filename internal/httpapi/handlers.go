package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"memoria/internal/merrors"
	"memoria/internal/model"
	"memoria/internal/scope"
	"memoria/internal/service"
)

// ingestBody is the wire shape of POST /v1/ingest.
type ingestBody struct {
	Scene   model.Scene   `json:"scene"`
	Message model.Message `json:"message"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body ingestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, merrors.Input("malformed request body", err))
		return
	}
	resp, err := s.svc.Ingest(r.Context(), service.IngestRequest{Scene: body.Scene, Message: body.Message})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": "accepted",
		"result": map[string]any{
			"saved_memories": resp.SavedMemories,
			"count":          resp.Count,
			"status_info":    resp.StatusInfo,
		},
	})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := service.FetchRequest{
		UserID:     q.Get("user_id"),
		GroupID:    q.Get("group_id"),
		MemoryType: model.MemoryType(q.Get("memory_type")),
		SortBy:     q.Get("sort_by"),
		SortOrder:  q.Get("sort_order"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			req.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			req.Offset = n
		}
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			req.StartTime = t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			req.EndTime = t
		}
	}

	rows, err := s.svc.Fetch(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "memories": rows, "count": len(rows)})
}

// searchBody is the wire shape of POST /v1/search.
type searchBody struct {
	Query          string           `json:"query"`
	Scope          scope.Scope      `json:"scope"`
	UserID         string           `json:"user_id"`
	GroupID        string           `json:"group_id"`
	RetrieveMethod string           `json:"retrieve_method"`
	DataSource     model.MemoryType `json:"data_source"`
	TopK           int              `json:"top_k"`
	TimeRangeDays  int              `json:"time_range_days"`
	Radius         float64          `json:"radius"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, merrors.Input("malformed request body", err))
		return
	}
	resp, err := s.svc.Search(r.Context(), service.SearchRequest{
		Query: body.Query, Scope: body.Scope, UserID: body.UserID, GroupID: body.GroupID,
		RetrieveMethod: body.RetrieveMethod, DataSource: body.DataSource, TopK: body.TopK,
		TimeRangeDays: body.TimeRangeDays, CurrentTime: time.Now().UTC(), Radius: body.Radius,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"results": resp.Hits,
		"metadata": map[string]any{
			"partial":        resp.Partial,
			"is_multi_round": resp.IsMultiRound,
			"rounds":         resp.Rounds,
			"judge_failed":   resp.JudgeFailed,
		},
	})
}

func (s *Server) handleGetMeta(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("group_id")
	rows, err := s.svc.Fetch(r.Context(), service.FetchRequest{GroupID: groupID, MemoryType: "conversation_meta", Limit: 1})
	if err != nil || len(rows) == 0 {
		respondError(w, r, merrors.NotFound("conversation_meta not found", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "conversation_meta": rows[0]})
}

func (s *Server) handleUpsertMeta(w http.ResponseWriter, r *http.Request) {
	var meta model.ConversationMeta
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		respondError(w, r, merrors.Input("malformed request body", err))
		return
	}
	if err := s.svc.UpsertConversationMeta(r.Context(), meta); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"status": "ok"})
}

func (s *Server) handlePatchMeta(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("group_id")
	var fields map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		respondError(w, r, merrors.Input("malformed request body", err))
		return
	}
	if err := s.svc.PatchConversationMeta(r.Context(), groupID, fields); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// deleteBody is the wire shape of POST /v1/delete; fields are AND-combined
// per §6, so leaving one unset (or "__all__") excludes it from the filter.
type deleteBody struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
	GroupID string `json:"group_id"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var body deleteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, merrors.Input("malformed request body", err))
		return
	}
	n, err := s.svc.Delete(r.Context(), service.DeleteRequest{EventID: body.EventID, UserID: body.UserID, GroupID: body.GroupID})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "deleted_count": n})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stats, err := s.svc.Stats(r.Context(), q.Get("user_id"), q.Get("group_id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "stats": stats})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError writes §6's error envelope: {status, code, message, timestamp, path}.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondJSON(w, statusFromError(err), map[string]any{
		"status":    "failed",
		"code":      merrors.CodeOf(err),
		"message":   err.Error(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"path":      r.URL.Path,
	})
}

func statusFromError(err error) int {
	var me *merrors.Error
	if errors.As(err, &me) {
		switch me.Kind {
		case merrors.KindInput:
			return http.StatusBadRequest
		case merrors.KindNotFound:
			return http.StatusNotFound
		case merrors.KindTransient:
			return http.StatusInternalServerError
		case merrors.KindPartial:
			return http.StatusOK
		case merrors.KindFatal:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
