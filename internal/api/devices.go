package api

import (
	"cmp"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LibreTap/mqtt-protocol/internal/device"
	"github.com/LibreTap/mqtt-protocol/internal/session"
)

// sessionResponse is the JSON form of a Session.
type sessionResponse struct {
	RequestID string         `json:"request_id"`
	DeviceID  string         `json:"device_id"`
	Operation string         `json:"operation"`
	State     string         `json:"state"`
	Reason    string         `json:"reason,omitempty"`
	Active    bool           `json:"active"`
	TagUID    string         `json:"tag_uid,omitempty"`
	Blocks    []int          `json:"blocks,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Deadline  time.Time      `json:"deadline"`
	ClosedAt  *time.Time     `json:"closed_at,omitempty"`
}

func newSessionResponse(s session.Session) sessionResponse {
	resp := sessionResponse{
		RequestID: s.RequestID,
		DeviceID:  s.DeviceID,
		Operation: string(s.Kind),
		State:     string(s.State),
		Reason:    string(s.Reason),
		Active:    !s.State.Terminal(),
		TagUID:    s.Context.TagUID,
		Blocks:    s.Context.Blocks,
		Result:    s.Context.Result,
		ErrorCode: s.Context.ErrorCode,
		Error:     s.Context.Error,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Deadline:  s.Deadline,
	}
	if !s.ClosedAt.IsZero() {
		closed := s.ClosedAt
		resp.ClosedAt = &closed
	}
	return resp
}

// handleListDevices returns every reader the engine has heard from.
//
// Query parameters:
//   - status: filter by connectivity (online, offline)
//   - mode: filter by reader mode
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	mode := r.URL.Query().Get("mode")

	views := s.engine.Devices().List()
	devices := make([]device.View, 0, len(views))
	for _, v := range views {
		if status != "" && v.Status != status {
			continue
		}
		if mode != "" && v.Mode != mode {
			continue
		}
		devices = append(devices, s.withActiveSessions(v))
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns the view of a single reader.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.Devices().Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.withActiveSessions(v))
}

// withActiveSessions fills the request IDs of the reader's open Sessions.
func (s *Server) withActiveSessions(v device.View) device.View {
	open := s.engine.Registry().ActiveForDevice(v.ID)
	if len(open) == 0 {
		return v
	}
	v.ActiveSessions = make([]string, 0, len(open))
	for _, sess := range open {
		v.ActiveSessions = append(v.ActiveSessions, sess.RequestID)
	}
	slices.Sort(v.ActiveSessions)
	return v
}

// handleListSessions returns the open Sessions, oldest first.
//
// Query parameters:
//   - device_id: filter by reader
//   - operation: filter by operation (auth, register, read)
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	operation := r.URL.Query().Get("operation")
	if operation != "" {
		if _, err := session.ParseKind(operation); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}

	var open []session.Session
	if deviceID != "" {
		open = s.engine.Registry().ActiveForDevice(deviceID)
	} else {
		open = s.engine.Registry().List()
	}
	slices.SortFunc(open, func(a, b session.Session) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.RequestID, b.RequestID))
	})

	sessions := make([]sessionResponse, 0, len(open))
	for _, sess := range open {
		if operation != "" && string(sess.Kind) != operation {
			continue
		}
		sessions = append(sessions, newSessionResponse(sess))
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

// handleGetSession returns an open Session, or one that closed recently
// enough to still be remembered by the registry.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")

	for _, sess := range s.engine.Registry().List() {
		if sess.RequestID == requestID {
			writeJSON(w, http.StatusOK, newSessionResponse(sess))
			return
		}
	}
	if sess, ok := s.engine.Registry().Recent(requestID); ok {
		writeJSON(w, http.StatusOK, newSessionResponse(sess))
		return
	}

	writeNotFound(w, "session not found")
}
