package server

import (
	"net/http"
	"strconv"

	"punchd/internal/engine"
	"punchd/internal/provider"
	"punchd/pkg/httpx"
	logx "punchd/pkg/logx"
)

type statusResponse struct {
	Lock engine.LockStatus `json:"lock"`
}

// handleRunCycle triggers a manual cycle. The lock decides the
// outcome: 202 and a background run when free, 409 when a cycle is
// already executing. The run continues even if the client goes away.
func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	if !s.lock.TryAcquire(engine.SourceManual) {
		httpx.WriteConflict(w, "an automation cycle is already running")
		return
	}
	go func() {
		defer s.lock.Release()
		s.runner.RunCycle(s.runCtx, engine.SourceManual)
	}()
	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, statusResponse{Lock: s.lock.Status()})
}

type listRecordsResponse struct {
	Records []recordResponse `json:"records"`
	Total   int              `json:"total"`
}

type recordResponse struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Action        string `json:"action"`
	ScheduledTime string `json:"scheduled_time,omitempty"`
	ExecutedAt    string `json:"executed_at"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpx.WriteBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	recs, err := s.recs.Query(r.Context(), userID, limit)
	if err != nil {
		s.log.Error("query records", logx.Err(err))
		httpx.WriteInternalError(w, "failed to read attendance log")
		return
	}
	resp := listRecordsResponse{Records: make([]recordResponse, 0, len(recs)), Total: len(recs)}
	for _, rec := range recs {
		resp.Records = append(resp.Records, recordResponse{
			ID:            rec.ID,
			UserID:        rec.UserID,
			Action:        string(rec.Action),
			ScheduledTime: rec.ScheduledTime,
			ExecutedAt:    rec.ExecutedAt.Format("2006-01-02T15:04:05Z07:00"),
			Success:       rec.Success,
			Error:         rec.Error,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	code := http.StatusOK
	var prov provider.Provider
	if s.prov != nil {
		prov = s.prov()
	}
	if prov != nil {
		if ok := prov.HealthCheck(r.Context()); !ok {
			resp["status"] = "degraded"
			resp["provider"] = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			resp["provider"] = "ok"
		}
	}
	httpx.WriteJSON(w, code, resp)
}
