package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LibreTap/mqtt-protocol/internal/protocol"
)

// defaultRetention is how long closed Sessions are remembered as tombstones.
const defaultRetention = 5 * time.Minute

// activeKey identifies the single active Session slot of a device.
type activeKey struct {
	deviceID string
	kind     Kind
}

// entry guards one Session. mu serialises every transition of the Session.
//
// Lock ordering: entry.mu is always acquired before Registry.mu.
type entry struct {
	mu     sync.Mutex
	s      Session
	closed bool
}

// Registry is the in-memory table of active Sessions.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Transitions on one Session never interleave; distinct Sessions proceed in parallel.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry    // by request_id
	active   map[activeKey]*entry // by (device_id, kind)
	closed   map[string]Session   // tombstones by request_id

	now       func() time.Time
	newID     func() string
	retention time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source (tests use a fake clock).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides request_id generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// WithRetention sets how long closed Sessions are kept for duplicate detection.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.retention = d
		}
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions:  make(map[string]*entry),
		active:    make(map[activeKey]*entry),
		closed:    make(map[string]Session),
		now:       time.Now,
		newID:     uuid.NewString,
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open creates a Pending Session with a fresh request_id and a deadline of
// now + timeout.
//
// Returns:
//   - Session: copy of the new Session
//   - error: ErrSessionActive if the device already runs an operation of this kind,
//     ErrInvalidArgument/ErrInvalidKind for bad input
func (r *Registry) Open(deviceID string, kind Kind, timeout time.Duration, sctx Context) (Session, error) {
	if deviceID == "" {
		return Session{}, fmt.Errorf("%w: device_id is required", ErrInvalidArgument)
	}
	if !kind.Valid() {
		return Session{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if timeout <= 0 {
		return Session{}, fmt.Errorf("%w: timeout must be positive", ErrInvalidArgument)
	}

	now := r.now()
	key := activeKey{deviceID: deviceID, kind: kind}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[key]; ok {
		return Session{}, fmt.Errorf("%w: %s %s (request %s)", ErrSessionActive, deviceID, kind, existing.s.RequestID)
	}

	id := r.newID()
	for r.idInUse(id) {
		id = r.newID()
	}

	e := &entry{s: Session{
		RequestID: id,
		DeviceID:  deviceID,
		Kind:      kind,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
		Deadline:  now.Add(timeout),
		Context:   sctx,
	}}
	e.s = e.s.clone()

	r.sessions[id] = e
	r.active[key] = e

	return e.s.clone(), nil
}

// idInUse reports whether id belongs to an active or remembered Session.
// Caller must hold r.mu.
func (r *Registry) idInUse(id string) bool {
	if _, ok := r.sessions[id]; ok {
		return true
	}
	_, ok := r.closed[id]
	return ok
}

// get returns the entry for requestID, or nil.
func (r *Registry) get(requestID string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[requestID]
}

// Lookup returns the active Session for (deviceID, requestID).
func (r *Registry) Lookup(deviceID, requestID string) (Session, bool) {
	e := r.get(requestID)
	if e == nil {
		return Session{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.s.DeviceID != deviceID {
		return Session{}, false
	}
	return e.s.clone(), true
}

// Active returns the active Session of kind on deviceID, if any.
func (r *Registry) Active(deviceID string, kind Kind) (Session, bool) {
	r.mu.RLock()
	e := r.active[activeKey{deviceID: deviceID, kind: kind}]
	r.mu.RUnlock()
	if e == nil {
		return Session{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Session{}, false
	}
	return e.s.clone(), true
}

// Recent returns a Session closed within the retention window.
func (r *Registry) Recent(requestID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.closed[requestID]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Transition applies event to the Session identified by requestID using the
// transition table for its kind. mutate, if non-nil, runs inside the
// Session's critical section after the state change so callers can record
// event data atomically with it. Reaching a terminal state closes the Session.
//
// Returns:
//   - Session: copy after the transition (or the unchanged Session on rejection)
//   - error: ErrUnknownSession if the Session is absent or closed,
//     ErrInvalidTransition if the event is not allowed in the current state
func (r *Registry) Transition(requestID string, event protocol.EventType, mutate func(*Session)) (Session, error) {
	e := r.get(requestID)
	if e == nil {
		return Session{}, fmt.Errorf("%w: %s", ErrUnknownSession, requestID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return Session{}, fmt.Errorf("%w: %s", ErrUnknownSession, requestID)
	}

	to, reason, ok := Next(e.s.Kind, e.s.State, event)
	if !ok {
		return e.s.clone(), fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, event, e.s.State)
	}

	e.s.State = to
	e.s.Reason = reason
	e.s.UpdatedAt = r.now()
	if mutate != nil {
		mutate(&e.s)
	}

	if e.s.State.Terminal() {
		r.release(e)
	}
	return e.s.clone(), nil
}

// Close moves the Session to a terminal state. It is the single point where
// cancellation, timeout, reset and publish failures end a Session; only the
// first call for a Session succeeds.
//
// Returns:
//   - Session: copy of the closed Session
//   - error: ErrUnknownSession if the Session is absent or already closed
func (r *Registry) Close(requestID string, state State, reason Reason) (Session, error) {
	if !state.Terminal() {
		return Session{}, fmt.Errorf("%w: %s is not a terminal state", ErrInvalidArgument, state)
	}

	e := r.get(requestID)
	if e == nil {
		return Session{}, fmt.Errorf("%w: %s", ErrUnknownSession, requestID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return Session{}, fmt.Errorf("%w: %s", ErrUnknownSession, requestID)
	}

	e.s.State = state
	e.s.Reason = reason
	e.s.UpdatedAt = r.now()
	r.release(e)

	return e.s.clone(), nil
}

// release removes a closed Session from the active tables and records a
// tombstone. Caller must hold e.mu.
func (r *Registry) release(e *entry) {
	e.closed = true
	e.s.ClosedAt = e.s.UpdatedAt

	key := activeKey{deviceID: e.s.DeviceID, kind: e.s.Kind}

	r.mu.Lock()
	delete(r.sessions, e.s.RequestID)
	if r.active[key] == e {
		delete(r.active, key)
	}
	r.closed[e.s.RequestID] = e.s.clone()
	r.mu.Unlock()
}

// snapshot returns the current entries without holding any entry lock.
func (r *Registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	return entries
}

// collect copies the open Sessions accepted by keep.
func (r *Registry) collect(keep func(Session) bool) []Session {
	var out []Session
	for _, e := range r.snapshot() {
		e.mu.Lock()
		if !e.closed && keep(e.s) {
			out = append(out, e.s.clone())
		}
		e.mu.Unlock()
	}
	return out
}

// Expired returns the open Sessions whose deadline has passed at now.
func (r *Registry) Expired(now time.Time) []Session {
	return r.collect(func(s Session) bool { return s.Expired(now) })
}

// ActiveForDevice returns every open Session on deviceID.
func (r *Registry) ActiveForDevice(deviceID string) []Session {
	return r.collect(func(s Session) bool { return s.DeviceID == deviceID })
}

// List returns every open Session.
func (r *Registry) List() []Session {
	return r.collect(func(Session) bool { return true })
}

// Len returns the number of open Sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// PruneClosed forgets tombstones older than the retention window.
// Returns the number of tombstones removed.
func (r *Registry) PruneClosed(now time.Time) int {
	cutoff := now.Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.closed {
		if s.ClosedAt.Before(cutoff) {
			delete(r.closed, id)
			removed++
		}
	}
	return removed
}

// Now returns the registry clock's current time.
func (r *Registry) Now() time.Time {
	return r.now()
}
