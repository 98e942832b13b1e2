package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LibreTap/mqtt-protocol/internal/credentials"
	"github.com/LibreTap/mqtt-protocol/internal/device"
	"github.com/LibreTap/mqtt-protocol/internal/engine"
	"github.com/LibreTap/mqtt-protocol/internal/infrastructure/config"
	"github.com/LibreTap/mqtt-protocol/internal/infrastructure/database"
	"github.com/LibreTap/mqtt-protocol/internal/infrastructure/logging"
	"github.com/LibreTap/mqtt-protocol/internal/infrastructure/mqtt"
	"github.com/LibreTap/mqtt-protocol/internal/journal"
	"github.com/LibreTap/mqtt-protocol/internal/metrics"
	"github.com/LibreTap/mqtt-protocol/internal/protocol"
	"github.com/LibreTap/mqtt-protocol/internal/session"
	"github.com/LibreTap/mqtt-protocol/migrations"
)

// fakeTransport records publishes and keeps the engine's subscription handler.
type fakeTransport struct {
	mu        sync.Mutex
	published []fakePublish
	handler   mqtt.MessageHandler
	fail      bool
}

type fakePublish struct {
	topic   string
	payload []byte
}

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker unreachable")
	}
	f.published = append(f.published, fakePublish{topic: topic, payload: payload})
	return nil
}

func (f *fakeTransport) Subscribe(_ string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return nil
}

// last returns the decoded envelope of the most recent publish on topic.
func (f *fakeTransport) last(t *testing.T, topic string) *protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.published) - 1; i >= 0; i-- {
		if f.published[i].topic != topic {
			continue
		}
		env, err := protocol.Decode(f.published[i].payload)
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", topic, err)
		}
		return env
	}
	t.Fatalf("nothing published on %s", topic)
	return nil
}

// deliver feeds a device event to the engine as if it came from the broker.
func (f *fakeTransport) deliver(t *testing.T, topic string, eventType protocol.EventType, requestID string, payload protocol.Payload) {
	t.Helper()
	deviceID, _, _ := mqtt.ParseDeviceTopic(topic)
	data, err := protocol.Encode(deviceID, eventType, requestID, payload)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if err := handler(topic, data); err != nil {
		t.Fatalf("handler error = %v", err)
	}
}

type stubChecker struct{ err error }

func (c stubChecker) HealthCheck(context.Context) error { return c.err }

type testEnv struct {
	srv       *Server
	router    http.Handler
	engine    *engine.Engine
	transport *fakeTransport
}

// testServer creates a Server around a started engine with an in-memory transport.
func testServer(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	transport := &fakeTransport{}
	eng := engine.New(transport, session.NewRegistry(), device.NewTracker(), engine.Options{})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("engine Start() error = %v", err)
	}
	t.Cleanup(eng.Stop)

	deps := Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		Logger:  logging.Discard(),
		Engine:  eng,
		Version: "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return &testEnv{srv: srv, router: srv.buildRouter(), engine: eng, transport: transport}
}

// testJournal opens a migrated in-memory journal.
func testJournal(t *testing.T) *journal.SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return journal.NewSQLiteRepository(db.DB)
}

func (te *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	te.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

// startAuth starts an auth on lock-1 and returns its request_id.
func (te *testEnv) startAuth(t *testing.T) string {
	t.Helper()
	w := te.do(t, http.MethodPost, "/api/v1/devices/lock-1/auth", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("start auth status = %d; body: %s", w.Code, w.Body.String())
	}
	return decode[startResponse](t, w).RequestID
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{Engine: &engine.Engine{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without engine should fail")
	}
}

func TestServer_HealthCheckBeforeStart(t *testing.T) {
	te := testServer(t, nil)
	if err := te.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := te.srv.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}
}

// ─── Health and Metrics ────────────────────────────────────────────

func TestHealth(t *testing.T) {
	te := testServer(t, func(d *Deps) {
		d.Health = map[string]HealthChecker{
			"database": stubChecker{},
			"mqtt":     stubChecker{},
		}
	})

	w := te.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decode[map[string]any](t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	components := resp["components"].(map[string]any)
	if components["mqtt"] != "ok" || components["database"] != "ok" {
		t.Errorf("components = %v", components)
	}
}

func TestHealth_Degraded(t *testing.T) {
	te := testServer(t, func(d *Deps) {
		d.Health = map[string]HealthChecker{
			"database": stubChecker{},
			"mqtt":     stubChecker{err: errors.New("mqtt not connected")},
		}
	})

	w := te.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	resp := decode[map[string]any](t, w)
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
	if got := resp["components"].(map[string]any)["mqtt"]; got != "mqtt not connected" {
		t.Errorf("mqtt component = %v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	te := testServer(t, func(d *Deps) { d.Metrics = reg })
	collector := metrics.New(reg, te.engine.Registry(), te.engine.Devices())
	te.engine.AddSessionObserver(collector)

	te.startAuth(t)

	w := te.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`libretap_sessions_opened_total{operation="auth"} 1`,
		"libretap_sessions_active 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetricsNotMountedWithoutGatherer(t *testing.T) {
	te := testServer(t, nil)
	if w := te.do(t, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("metrics status = %d, want 404", w.Code)
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	te := testServer(t, nil)
	w := te.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	te := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	te.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestNotFound(t *testing.T) {
	te := testServer(t, nil)
	w := te.do(t, http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if resp := decode[Error](t, w); resp.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeNotFound)
	}
}

func TestBodySizeLimit(t *testing.T) {
	te := testServer(t, nil)
	body := `{"tag_uid":"` + strings.Repeat("A", maxRequestBodySize) + `","key":"00"}`
	w := te.do(t, http.MethodPost, "/api/v1/devices/lock-1/register", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized body status = %d, want 400", w.Code)
	}
}

// ─── Start Operations ──────────────────────────────────────────────

func TestStartAuth(t *testing.T) {
	te := testServer(t, nil)

	w := te.do(t, http.MethodPost, "/api/v1/devices/lock-1/auth", `{"timeout_seconds": 10}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", w.Code, w.Body.String())
	}
	resp := decode[startResponse](t, w)
	if resp.RequestID == "" || resp.DeviceID != "lock-1" || resp.Operation != "auth" || resp.State != "pending" {
		t.Errorf("response = %+v", resp)
	}

	env := te.transport.last(t, "devices/lock-1/auth/start")
	if env.RequestID != resp.RequestID {
		t.Errorf("published request_id = %q, want %q", env.RequestID, resp.RequestID)
	}
	if p := env.Payload.(*protocol.AuthStartPayload); p.TimeoutSeconds != 10 {
		t.Errorf("timeout_seconds = %d, want 10", p.TimeoutSeconds)
	}
}

func TestStartAuth_ConflictWhileActive(t *testing.T) {
	te := testServer(t, nil)
	te.startAuth(t)

	w := te.do(t, http.MethodPost, "/api/v1/devices/lock-1/auth", "")
	if w.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", w.Code)
	}
}

func TestStartRegisterAndRead(t *testing.T) {
	te := testServer(t, nil)

	w := te.do(t, http.MethodPost, "/api/v1/devices/lock-2/register",
		`{"tag_uid":"04A1B2C3","key":"A0A1A2A3A4A5","timeout_seconds":5}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("register status = %d; body: %s", w.Code, w.Body.String())
	}
	reg := te.transport.last(t, "devices/lock-2/register/start").Payload.(*protocol.RegisterStartPayload)
	if reg.TagUID != "04A1B2C3" || reg.Key != "A0A1A2A3A4A5" || reg.TimeoutSeconds != 5 {
		t.Errorf("register payload = %+v", reg)
	}

	w = te.do(t, http.MethodPost, "/api/v1/devices/lock-2/read", `{"blocks":[4,5]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("read status = %d; body: %s", w.Code, w.Body.String())
	}
	read := te.transport.last(t, "devices/lock-2/read/start").Payload.(*protocol.ReadStartPayload)
	if len(read.ReadBlocks) != 2 || read.ReadBlocks[0] != 4 || read.ReadBlocks[1] != 5 {
		t.Errorf("read_blocks = %v, want [4 5]", read.ReadBlocks)
	}
}

func TestStart_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"invalid json", "/api/v1/devices/lock-1/auth", `{not json`},
		{"unknown field", "/api/v1/devices/lock-1/auth", `{"timeout":5}`},
		{"negative timeout", "/api/v1/devices/lock-1/auth", `{"timeout_seconds":-1}`},
		{"timeout overflows duration", "/api/v1/devices/lock-1/auth", `{"timeout_seconds":10000000000}`},
		{"register without key", "/api/v1/devices/lock-1/register", `{"tag_uid":"04A1"}`},
		{"register without tag", "/api/v1/devices/lock-1/register", `{"key":"A0"}`},
		{"negative block", "/api/v1/devices/lock-1/read", `{"blocks":[-1]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := testServer(t, nil)
			w := te.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400; body: %s", w.Code, w.Body.String())
			}
			if n := te.engine.Registry().Len(); n != 0 {
				t.Errorf("open sessions = %d, want 0", n)
			}
		})
	}
}

func TestStart_PublishFailure(t *testing.T) {
	te := testServer(t, nil)
	te.transport.fail = true

	w := te.do(t, http.MethodPost, "/api/v1/devices/lock-1/auth", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if resp := decode[Error](t, w); resp.Code != ErrCodePublish {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodePublish)
	}
	if n := te.engine.Registry().Len(); n != 0 {
		t.Errorf("open sessions = %d, want 0", n)
	}
}

func TestStart_EngineStopped(t *testing.T) {
	te := testServer(t, nil)
	te.engine.Stop()

	w := te.do(t, http.MethodPost, "/api/v1/devices/lock-1/auth", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// ─── Verify, Cancel, Reset ─────────────────────────────────────────

func TestVerify_WithKey(t *testing.T) {
	te := testServer(t, nil)
	id := te.startAuth(t)
	te.transport.deliver(t, "devices/lock-1/auth/tag_detected", protocol.EventAuthTagDetected, id,
		&protocol.TagDetectedPayload{TagUID: "04A1B2C3"})

	w := te.do(t, http.MethodPost, "/api/v1/devices/lock-1/auth/"+id+"/verify",
		`{"key":"A0A1A2A3A4A5","user_data":{"name":"Ada"}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	p := te.transport.last(t, "devices/lock-1/auth/verify").Payload.(*protocol.VerifyPayload)
	if p.TagUID != "04A1B2C3" || p.Key != "A0A1A2A3A4A5" || p.UserData["name"] != "Ada" {
		t.Errorf("verify payload = %+v", p)
	}
}

func TestVerify_KeyFromCredentials(t *testing.T) {
	provider, err := credentials.New(credentials.File{
		Tags: map[string]credentials.TagEntry{
			"04A1B2C3": {Key: "B0B1B2B3B4B5", UserData: map[string]any{"name": "Grace"}},
		},
	})
	if err != nil {
		t.Fatalf("credentials.New() error = %v", err)
	}
	te := testServer(t, func(d *Deps) { d.Creds = provider })

	id := te.startAuth(t)
	te.transport.deliver(t, "devices/lock-1/auth/tag_detected", protocol.EventAuthTagDetected, id,
		&protocol.TagDetectedPayload{TagUID: "04a1b2c3"})

	w := te.do(t, http.MethodPost, "/api/v1/devices/lock-1/auth/"+id+"/verify", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	p := te.transport.last(t, "devices/lock-1/auth/verify").Payload.(*protocol.VerifyPayload)
	if p.Key != "B0B1B2B3B4B5" || p.UserData["name"] != "Grace" {
		t.Errorf("verify payload = %+v", p)
	}
}

func TestVerify_Errors(t *testing.T) {
	te := testServer(t, nil)
	id := te.startAuth(t)

	// No key and no credential provider.
	w := te.do(t, http.MethodPost, "/api/v1/devices/lock-1/auth/"+id+"/verify", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("verify without key status = %d, want 400", w.Code)
	}

	// No tag detected yet.
	w = te.do(t, http.MethodPost, "/api/v1/devices/lock-1/auth/"+id+"/verify", `{"key":"A0"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("verify before tag status = %d, want 409", w.Code)
	}

	// Unknown request.
	w = te.do(t, http.MethodPost, "/api/v1/devices/lock-1/auth/nope/verify", `{"key":"A0"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("verify unknown status = %d, want 404", w.Code)
	}

	// A register request id is not an auth session.
	w = te.do(t, http.MethodPost, "/api/v1/devices/lock-1/register", `{"tag_uid":"04A1B2C3","key":"A0A1A2A3A4A5"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start register status = %d; body: %s", w.Code, w.Body.String())
	}
	regID := decode[startResponse](t, w).RequestID
	w = te.do(t, http.MethodPost, "/api/v1/devices/lock-1/auth/"+regID+"/verify", `{"key":"A0"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("verify register session status = %d, want 409", w.Code)
	}

	// A closed auth session.
	if w = te.do(t, http.MethodDelete, "/api/v1/devices/lock-1/auth/"+id, ""); w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d; body: %s", w.Code, w.Body.String())
	}
	w = te.do(t, http.MethodPost, "/api/v1/devices/lock-1/auth/"+id+"/verify", `{"key":"A0"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("verify closed session status = %d, want 409", w.Code)
	}
}

func TestCancel(t *testing.T) {
	te := testServer(t, nil)
	id := te.startAuth(t)

	w := te.do(t, http.MethodDelete, "/api/v1/devices/lock-1/auth/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d; body: %s", w.Code, w.Body.String())
	}
	if env := te.transport.last(t, "devices/lock-1/auth/cancel"); env.RequestID != id {
		t.Errorf("cancel request_id = %q, want %q", env.RequestID, id)
	}

	w = te.do(t, http.MethodDelete, "/api/v1/devices/lock-1/auth/"+id, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second cancel status = %d, want 404", w.Code)
	}
}

func TestCancel_InvalidOperation(t *testing.T) {
	te := testServer(t, nil)
	id := te.startAuth(t)

	w := te.do(t, http.MethodDelete, "/api/v1/devices/lock-1/unlock/"+id, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestReset(t *testing.T) {
	te := testServer(t, nil)
	te.startAuth(t)
	te.do(t, http.MethodPost, "/api/v1/devices/lock-1/read", `{"blocks":[1]}`)

	w := te.do(t, http.MethodPost, "/api/v1/devices/lock-1/reset", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("reset status = %d; body: %s", w.Code, w.Body.String())
	}
	if got := decode[map[string]any](t, w)["aborted"]; got != float64(2) {
		t.Errorf("aborted = %v, want 2", got)
	}
	te.transport.last(t, "devices/lock-1/reset")
	if n := te.engine.Registry().Len(); n != 0 {
		t.Errorf("open sessions after reset = %d, want 0", n)
	}
}

// ─── Devices and Sessions ──────────────────────────────────────────

func TestDevices(t *testing.T) {
	te := testServer(t, nil)

	w := te.do(t, http.MethodGet, "/api/v1/devices", "")
	if got := decode[map[string]any](t, w)["count"]; got != float64(0) {
		t.Errorf("count before any event = %v, want 0", got)
	}

	te.transport.deliver(t, "devices/lock-1/status", protocol.EventStatusChange, "",
		&protocol.StatusPayload{Status: "online", FirmwareVersion: "1.2.0"})
	te.transport.deliver(t, "devices/lock-2/status", protocol.EventStatusChange, "",
		&protocol.StatusPayload{Status: "offline"})
	id := te.startAuth(t)

	w = te.do(t, http.MethodGet, "/api/v1/devices?status=online", "")
	resp := decode[struct {
		Devices []device.View `json:"devices"`
		Count   int           `json:"count"`
	}](t, w)
	if resp.Count != 1 || resp.Devices[0].ID != "lock-1" {
		t.Fatalf("online devices = %+v", resp)
	}
	if got := resp.Devices[0].ActiveSessions; len(got) != 1 || got[0] != id {
		t.Errorf("active_sessions = %v, want [%s]", got, id)
	}

	w = te.do(t, http.MethodGet, "/api/v1/devices/lock-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get device status = %d", w.Code)
	}
	if v := decode[device.View](t, w); v.FirmwareVersion != "1.2.0" {
		t.Errorf("firmware_version = %q", v.FirmwareVersion)
	}

	w = te.do(t, http.MethodGet, "/api/v1/devices/ghost", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", w.Code)
	}
}

func TestSessions(t *testing.T) {
	te := testServer(t, nil)
	authID := te.startAuth(t)
	te.do(t, http.MethodPost, "/api/v1/devices/lock-2/register", `{"tag_uid":"04A1","key":"A0"}`)

	w := te.do(t, http.MethodGet, "/api/v1/sessions", "")
	if got := decode[map[string]any](t, w)["count"]; got != float64(2) {
		t.Errorf("count = %v, want 2", got)
	}

	w = te.do(t, http.MethodGet, "/api/v1/sessions?operation=register", "")
	resp := decode[struct {
		Sessions []sessionResponse `json:"sessions"`
	}](t, w)
	if len(resp.Sessions) != 1 || resp.Sessions[0].DeviceID != "lock-2" || resp.Sessions[0].TagUID != "04A1" {
		t.Errorf("register sessions = %+v", resp.Sessions)
	}

	w = te.do(t, http.MethodGet, "/api/v1/sessions?operation=unlock", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid operation filter status = %d, want 400", w.Code)
	}

	w = te.do(t, http.MethodGet, "/api/v1/sessions/"+authID, "")
	if s := decode[sessionResponse](t, w); !s.Active || s.State != "pending" {
		t.Errorf("session = %+v", s)
	}
}

func TestGetSession_RecentlyClosed(t *testing.T) {
	te := testServer(t, nil)

	w := te.do(t, http.MethodPost, "/api/v1/devices/lock-2/register", `{"tag_uid":"04A1","key":"A0"}`)
	id := decode[startResponse](t, w).RequestID
	te.transport.deliver(t, "devices/lock-2/register/success", protocol.EventRegisterSuccess, id,
		&protocol.RegisterResultPayload{TagUID: "04A1"})

	w = te.do(t, http.MethodGet, "/api/v1/sessions/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	s := decode[sessionResponse](t, w)
	if s.Active || s.State != "success" || s.ClosedAt == nil {
		t.Errorf("session = %+v", s)
	}

	if w := te.do(t, http.MethodGet, "/api/v1/sessions/unknown", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", w.Code)
	}
}

// ─── Journal ───────────────────────────────────────────────────────

func TestOutcomes(t *testing.T) {
	repo := testJournal(t)
	te := testServer(t, func(d *Deps) { d.Journal = repo })
	ctx := context.Background()

	closed := time.Date(2025, 11, 21, 10, 0, 5, 0, time.UTC)
	for i, rec := range []journal.Record{
		{RequestID: "r-1", DeviceID: "lock-1", Operation: "auth", State: "success"},
		{RequestID: "r-2", DeviceID: "lock-2", Operation: "register", State: "failed", Reason: "timeout"},
	} {
		rec.CreatedAt = closed.Add(-time.Second)
		rec.ClosedAt = closed.Add(time.Duration(i) * time.Minute)
		if err := repo.RecordOutcome(ctx, &rec); err != nil {
			t.Fatalf("RecordOutcome() error = %v", err)
		}
	}

	w := te.do(t, http.MethodGet, "/api/v1/outcomes", "")
	all := decode[journal.ListResult](t, w)
	if all.Total != 2 || len(all.Outcomes) != 2 || all.Outcomes[0].RequestID != "r-2" {
		t.Errorf("outcomes = %+v", all)
	}

	w = te.do(t, http.MethodGet, "/api/v1/outcomes?device_id=lock-1", "")
	if res := decode[journal.ListResult](t, w); res.Total != 1 || res.Outcomes[0].RequestID != "r-1" {
		t.Errorf("filtered outcomes = %+v", res)
	}

	w = te.do(t, http.MethodGet, "/api/v1/outcomes/r-2", "")
	if rec := decode[journal.Record](t, w); rec.Reason != "timeout" {
		t.Errorf("outcome r-2 = %+v", rec)
	}

	if w := te.do(t, http.MethodGet, "/api/v1/outcomes/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing outcome status = %d, want 404", w.Code)
	}
}

func TestOutcomes_BadQuery(t *testing.T) {
	te := testServer(t, func(d *Deps) { d.Journal = testJournal(t) })

	for _, q := range []string{"limit=abc", "offset=-1", "since=yesterday"} {
		if w := te.do(t, http.MethodGet, "/api/v1/outcomes?"+q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestDiagnostics(t *testing.T) {
	repo := testJournal(t)
	te := testServer(t, func(d *Deps) { d.Journal = repo })

	rec := journal.FromDiagnostic(engine.Diagnostic{
		Kind:       engine.DiagnosticUnsolicited,
		Topic:      "devices/lock-9/auth/success",
		DeviceID:   "lock-9",
		RequestID:  "stale",
		ReceivedAt: time.Now(),
	})
	if err := repo.RecordDiagnostic(context.Background(), &rec); err != nil {
		t.Fatalf("RecordDiagnostic() error = %v", err)
	}

	w := te.do(t, http.MethodGet, "/api/v1/diagnostics?kind=unsolicited", "")
	res := decode[journal.DiagnosticListResult](t, w)
	if res.Total != 1 || res.Diagnostics[0].DeviceID != "lock-9" {
		t.Errorf("diagnostics = %+v", res)
	}
}

func TestJournalEndpointsWithoutJournal(t *testing.T) {
	te := testServer(t, nil)
	for _, path := range []string{"/api/v1/outcomes", "/api/v1/outcomes/r-1", "/api/v1/diagnostics"} {
		if w := te.do(t, http.MethodGet, path, ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", path, w.Code)
		}
	}
}
