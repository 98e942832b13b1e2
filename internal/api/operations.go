package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LibreTap/mqtt-protocol/internal/session"
)

// startRequest is the body shared by every start call. All fields are optional
// except where the operation needs them.
type startRequest struct {
	TimeoutSeconds int    `json:"timeout_seconds"`
	TagUID         string `json:"tag_uid"`
	Key            string `json:"key"`
	Blocks         []int  `json:"blocks"`
}

// verifyRequest is the body of a manual auth verify.
type verifyRequest struct {
	TagUID   string         `json:"tag_uid"`
	Key      string         `json:"key"`
	UserData map[string]any `json:"user_data"`
}

// startResponse acknowledges a published start command.
type startResponse struct {
	RequestID string `json:"request_id"`
	DeviceID  string `json:"device_id"`
	Operation string `json:"operation"`
	State     string `json:"state"`
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// maxTimeoutSeconds is the largest timeout_seconds a time.Duration can hold.
const maxTimeoutSeconds = math.MaxInt64 / int64(time.Second)

// timeout converts the requested seconds into a duration; zero selects the engine default.
func (req startRequest) timeout() (time.Duration, error) {
	if req.TimeoutSeconds < 0 {
		return 0, fmt.Errorf("%w: timeout_seconds must not be negative", session.ErrInvalidArgument)
	}
	if int64(req.TimeoutSeconds) > maxTimeoutSeconds {
		return 0, fmt.Errorf("%w: timeout_seconds must not exceed %d", session.ErrInvalidArgument, maxTimeoutSeconds)
	}
	return time.Duration(req.TimeoutSeconds) * time.Second, nil
}

// handleStartAuth publishes auth_start to the reader.
func (s *Server) handleStartAuth(w http.ResponseWriter, r *http.Request) {
	s.handleStart(w, r, session.KindAuth, func(deviceID string, req startRequest, timeout time.Duration) (string, error) {
		return s.engine.StartAuth(r.Context(), deviceID, timeout)
	})
}

// handleStartRegister publishes register_start with the tag and key to write.
func (s *Server) handleStartRegister(w http.ResponseWriter, r *http.Request) {
	s.handleStart(w, r, session.KindRegister, func(deviceID string, req startRequest, timeout time.Duration) (string, error) {
		return s.engine.StartRegister(r.Context(), deviceID, req.TagUID, req.Key, timeout)
	})
}

// handleStartRead publishes read_start with the blocks to read.
func (s *Server) handleStartRead(w http.ResponseWriter, r *http.Request) {
	s.handleStart(w, r, session.KindRead, func(deviceID string, req startRequest, timeout time.Duration) (string, error) {
		return s.engine.StartRead(r.Context(), deviceID, req.Blocks, timeout)
	})
}

// handleStart decodes the shared start body, runs start and answers 202 with
// the request_id of the new Session.
func (s *Server) handleStart(
	w http.ResponseWriter,
	r *http.Request,
	kind session.Kind,
	start func(deviceID string, req startRequest, timeout time.Duration) (string, error),
) {
	deviceID := chi.URLParam(r, "id")

	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	timeout, err := req.timeout()
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	requestID, err := start(deviceID, req, timeout)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.logger.Info("operation started",
		"device_id", deviceID,
		"operation", kind,
		"request_id", requestID,
	)
	writeJSON(w, http.StatusAccepted, startResponse{
		RequestID: requestID,
		DeviceID:  deviceID,
		Operation: string(kind),
		State:     string(session.StatePending),
	})
}

// handleVerify sends auth_verify for a detected tag. Without a key in the
// body, the key and user_data come from the credential provider.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	requestID := chi.URLParam(r, "request_id")

	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Key == "" {
		if s.creds == nil {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "key is required")
			return
		}
		tagUID := req.TagUID
		if tagUID == "" {
			sess, err := s.engine.AuthSession(deviceID, requestID)
			if err != nil {
				s.writeDomainError(w, r, err)
				return
			}
			tagUID = sess.Context.TagUID
		}
		c, err := s.creds.Credentials(r.Context(), deviceID, tagUID)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
			return
		}
		req.Key = c.Key
		if req.UserData == nil {
			req.UserData = c.UserData
		}
	}

	if err := s.engine.SendAuthVerify(r.Context(), deviceID, requestID, req.TagUID, req.Key, req.UserData); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id": requestID,
		"device_id":  deviceID,
		"state":      session.StateVerifying,
	})
}

// handleCancel cancels an active operation and publishes its cancel command.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	requestID := chi.URLParam(r, "request_id")
	kind := session.Kind(chi.URLParam(r, "operation"))

	if err := s.engine.Cancel(r.Context(), deviceID, kind, requestID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": requestID,
		"device_id":  deviceID,
		"operation":  kind,
		"state":      session.StateCancelled,
	})
}

// handleReset aborts every open Session of the reader and publishes reset.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	aborted := len(s.engine.Registry().ActiveForDevice(deviceID))

	if err := s.engine.Reset(r.Context(), deviceID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": deviceID,
		"aborted":   aborted,
	})
}
