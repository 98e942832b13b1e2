package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LibreTap/mqtt-protocol/internal/journal"
)

// handleListOutcomes returns one page of journaled outcomes, newest first.
//
// Query parameters:
//   - device_id, operation, state: exact-match filters
//   - since: RFC 3339 time; only outcomes closed at or after it
//   - limit, offset: paging (limit defaults to 50, capped at 200)
func (s *Server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	if !s.requireJournal(w) {
		return
	}

	q := r.URL.Query()
	limit, offset, err := parsePage(q.Get("limit"), q.Get("offset"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	filter := journal.Filter{
		DeviceID:  q.Get("device_id"),
		Operation: q.Get("operation"),
		State:     q.Get("state"),
		Limit:     limit,
		Offset:    offset,
	}
	if since := q.Get("since"); since != "" {
		t, parseErr := time.Parse(time.RFC3339, since)
		if parseErr != nil {
			writeBadRequest(w, "since must be an RFC 3339 time")
			return
		}
		filter.Since = t
	}

	result, err := s.journal.ListOutcomes(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetOutcome returns the journaled outcome of one request.
func (s *Server) handleGetOutcome(w http.ResponseWriter, r *http.Request) {
	if !s.requireJournal(w) {
		return
	}

	rec, err := s.journal.GetOutcome(r.Context(), chi.URLParam(r, "request_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListDiagnostics returns one page of journaled diagnostics, newest first.
//
// Query parameters:
//   - device_id, kind: exact-match filters
//   - limit, offset: paging
func (s *Server) handleListDiagnostics(w http.ResponseWriter, r *http.Request) {
	if !s.requireJournal(w) {
		return
	}

	q := r.URL.Query()
	limit, offset, err := parsePage(q.Get("limit"), q.Get("offset"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.journal.ListDiagnostics(r.Context(), journal.DiagnosticFilter{
		DeviceID: q.Get("device_id"),
		Kind:     q.Get("kind"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// requireJournal answers 503 when the server runs without a journal.
func (s *Server) requireJournal(w http.ResponseWriter) bool {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "outcome journal is not configured")
		return false
	}
	return true
}

// parsePage parses the limit and offset query parameters. Empty values are zero.
func parsePage(limitStr, offsetStr string) (int, int, error) {
	var limit, offset int
	if limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil || v < 0 {
			return 0, 0, fmt.Errorf("limit must be a non-negative integer")
		}
		limit = v
	}
	if offsetStr != "" {
		v, err := strconv.Atoi(offsetStr)
		if err != nil || v < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
		offset = v
	}
	return limit, offset, nil
}
