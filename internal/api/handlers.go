package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/hdf-devmgr/internal/event"
	"github.com/nerrad567/hdf-devmgr/internal/journal"
	"github.com/nerrad567/hdf-devmgr/internal/power"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Hosts     int    `json:"hosts"`
	Attached  int    `json:"attached"`
	WSClients int    `json:"ws_clients"`
	UptimeSec int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	hosts := s.mgr.Hosts()
	attached := 0
	for _, h := range hosts {
		if h.Attached {
			attached++
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   s.version,
		Hosts:     len(hosts),
		Attached:  attached,
		WSClients: s.hub.ClientCount(),
		UptimeSec: int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleListHosts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"hosts": s.mgr.Hosts()})
}

func (s *Server) handleGetHost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 16)
	if err != nil {
		writeBadRequest(w, "host id must be a number between 0 and 65535")
		return
	}
	snap, err := s.mgr.Host(uint16(id))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleJournal lists lifecycle entries. Query parameters: kind, host,
// device, failed, since (RFC 3339), limit, offset.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "journal is not enabled")
		return
	}

	filter, msg := parseJournalFilter(r)
	if msg != "" {
		writeBadRequest(w, msg)
		return
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		writeInternalError(w, "journal query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseJournalFilter(r *http.Request) (journal.Filter, string) {
	q := r.URL.Query()
	filter := journal.Filter{
		Kind:     event.Kind(q.Get("kind")),
		HostName: q.Get("host"),
		DeviceID: q.Get("device"),
	}

	if v := q.Get("failed"); v != "" {
		failed, err := strconv.ParseBool(v)
		if err != nil {
			return filter, "failed must be true or false"
		}
		filter.FailedOnly = failed
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, "since must be an RFC 3339 timestamp"
		}
		filter.Since = since
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return filter, key + " must be a non-negative integer"
			}
			*dst = n
		}
	}
	return filter, ""
}

// handleRecentEvents returns the in-memory tail of lifecycle events, oldest
// first. ?kind= narrows it to one event kind.
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.recent == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "recent events are not recorded")
		return
	}
	events := s.recent.Events()
	if kind := event.Kind(r.URL.Query().Get("kind")); kind != "" {
		events = slices.DeleteFunc(events, func(e event.Event) bool { return e.Kind != kind })
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleSupervisor(w http.ResponseWriter, _ *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "hosts are not supervised processes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hosts": s.stats()})
}

// PowerRequest is the body of POST /power.
type PowerRequest struct {
	State string `json:"state"`
}

// ActionResponse acknowledges a successful lifecycle action.
type ActionResponse struct {
	OK      bool   `json:"ok"`
	Action  string `json:"action"`
	Service string `json:"service,omitempty"`
	State   string `json:"state,omitempty"`
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	var req PowerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	state, err := power.Parse(req.State)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	if err := s.mgr.PowerStateChange(r.Context(), state); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{OK: true, Action: "power", State: state.String()})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	if err := s.mgr.LoadDevice(r.Context(), service); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{OK: true, Action: "load", Service: service})
}

func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	if err := s.mgr.UnloadDevice(r.Context(), service); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{OK: true, Action: "unload", Service: service})
}

func (s *Server) handleLoadLeft(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.LoadLeftDriver(r.Context()); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{OK: true, Action: "load-left"})
}
