package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/LibreTap/mqtt-protocol/internal/infrastructure/config"
	"github.com/LibreTap/mqtt-protocol/internal/infrastructure/mqtt"
	"github.com/LibreTap/mqtt-protocol/internal/protocol"
	"github.com/LibreTap/mqtt-protocol/internal/session"
)

// StartAuth puts the reader into authentication mode.
//
// Parameters:
//   - ctx: cancellation for the call
//   - deviceID: target reader
//   - timeout: operation deadline; zero uses the configured default, negative is rejected
//
// Returns:
//   - string: the request_id correlating every event of this operation
//   - error: session.ErrSessionActive if an auth already runs on the reader
//     (reject policy), ErrPublish if the command could not be sent
func (e *Engine) StartAuth(ctx context.Context, deviceID string, timeout time.Duration) (string, error) {
	return e.start(ctx, deviceID, session.KindAuth, timeout, session.Context{},
		func(seconds int) protocol.Payload {
			return &protocol.AuthStartPayload{TimeoutSeconds: seconds}
		})
}

// StartRegister asks the reader to write key onto the tag tagUID.
func (e *Engine) StartRegister(ctx context.Context, deviceID, tagUID, key string, timeout time.Duration) (string, error) {
	if tagUID == "" {
		return "", fmt.Errorf("%w: tag_uid is required", session.ErrInvalidArgument)
	}
	if key == "" {
		return "", fmt.Errorf("%w: key is required", session.ErrInvalidArgument)
	}

	return e.start(ctx, deviceID, session.KindRegister, timeout, session.Context{TagUID: tagUID},
		func(seconds int) protocol.Payload {
			return &protocol.RegisterStartPayload{TagUID: tagUID, Key: key, TimeoutSeconds: seconds}
		})
}

// StartRead asks the reader to read the given data blocks from the next tag.
func (e *Engine) StartRead(ctx context.Context, deviceID string, blocks []int, timeout time.Duration) (string, error) {
	for _, b := range blocks {
		if b < 0 {
			return "", fmt.Errorf("%w: block %d is negative", session.ErrInvalidArgument, b)
		}
	}

	return e.start(ctx, deviceID, session.KindRead, timeout, session.Context{Blocks: blocks},
		func(seconds int) protocol.Payload {
			return &protocol.ReadStartPayload{TimeoutSeconds: seconds, ReadBlocks: blocks}
		})
}

// start opens a Session and publishes its start command.
// A failed publish closes the Session as Failed(PublishError).
func (e *Engine) start(
	ctx context.Context,
	deviceID string,
	kind session.Kind,
	timeout time.Duration,
	sctx session.Context,
	build func(timeoutSeconds int) protocol.Payload,
) (string, error) {
	if err := e.ready(ctx); err != nil {
		return "", err
	}
	if timeout < 0 {
		return "", fmt.Errorf("%w: negative timeout %v", session.ErrInvalidArgument, timeout)
	}
	if timeout == 0 {
		timeout = e.opts.DefaultTimeout
	}

	s, err := e.registry.Open(deviceID, kind, timeout, sctx)
	if errors.Is(err, session.ErrSessionActive) && e.opts.StartPolicy == config.StartPolicySupersede {
		if old, ok := e.registry.Active(deviceID, kind); ok {
			e.supersede(old)
		}
		s, err = e.registry.Open(deviceID, kind, timeout, sctx)
	}
	if err != nil {
		return "", err
	}
	e.emitOpened(s)

	topic := e.topics.Command(deviceID, string(kind), mqtt.ActionStart)
	eventType := protocol.EventType(string(kind) + "_start")
	if err := e.publish(topic, deviceID, eventType, s.RequestID, build(timeoutSeconds(timeout))); err != nil {
		e.closeSession(s.RequestID, session.StateFailed, session.ReasonPublishError)
		return "", err
	}

	return s.RequestID, nil
}

// supersede aborts old so a new Session of the same kind can open.
func (e *Engine) supersede(old session.Session) {
	if _, ok := e.closeSession(old.RequestID, session.StateAborted, session.ReasonSuperseded); !ok {
		return
	}
	e.log().Info("session superseded", "device_id", old.DeviceID, "operation", old.Kind, "request_id", old.RequestID)
	_ = e.publishCancel(old)
}

// SendAuthVerify sends the key for the tag detected by an auth Session.
//
// The Session moves to Verifying before the command is published, so the
// reader's answer always finds it ready. tagUID may be empty to use the tag
// recorded from auth_tag_detected.
//
// Returns:
//   - error: session.ErrInvalidSessionState unless an open auth Session has
//     detected a tag (see AuthSession), ErrPublish if the command could not
//     be sent
func (e *Engine) SendAuthVerify(ctx context.Context, deviceID, requestID, tagUID, key string, userData map[string]any) error {
	if err := e.ready(ctx); err != nil {
		return err
	}

	if _, err := e.AuthSession(deviceID, requestID); err != nil {
		return err
	}

	verifying, err := e.registry.Transition(requestID, protocol.EventAuthVerify, func(s *session.Session) {
		if tagUID != "" {
			s.Context.TagUID = tagUID
		}
	})
	if err != nil {
		if !errors.Is(err, session.ErrInvalidSessionState) {
			// Closed between the lookup and the transition.
			err = fmt.Errorf("%w: %w", session.ErrInvalidSessionState, err)
		}
		return err
	}

	payload := &protocol.VerifyPayload{
		TagUID:   verifying.Context.TagUID,
		Key:      key,
		UserData: userData,
	}
	if err := e.publish(e.topics.AuthVerify(deviceID), deviceID, protocol.EventAuthVerify, requestID, payload); err != nil {
		e.closeSession(requestID, session.StateFailed, session.ReasonPublishError)
		return err
	}

	return nil
}

// AuthSession returns the open auth Session that a verify for requestID
// would act on.
//
// Returns:
//   - error: wraps session.ErrInvalidSessionState when requestID names a
//     register or read Session or an auth Session that already closed; wraps
//     both session.ErrInvalidSessionState and session.ErrUnknownSession when
//     requestID is not known on deviceID at all
func (e *Engine) AuthSession(deviceID, requestID string) (session.Session, error) {
	if s, ok := e.registry.Lookup(deviceID, requestID); ok {
		if s.Kind != session.KindAuth {
			return session.Session{}, fmt.Errorf("%w: %s is a %s session", session.ErrInvalidSessionState, requestID, s.Kind)
		}
		return s, nil
	}
	if closed, ok := e.registry.Recent(requestID); ok && closed.DeviceID == deviceID {
		return session.Session{}, fmt.Errorf("%w: %s session %s already %s",
			session.ErrInvalidSessionState, closed.Kind, requestID, closed.State)
	}
	return session.Session{}, fmt.Errorf("%w: %w: no auth session %s on %s",
		session.ErrInvalidSessionState, session.ErrUnknownSession, requestID, deviceID)
}

// Cancel aborts an active operation and tells the reader to stop.
//
// Returns:
//   - error: session.ErrUnknownSession if no active Session matches
//     device, kind and request_id (including one that already closed),
//     ErrPublish if the cancel command could not be sent. The Session is
//     closed as Cancelled in both cases.
func (e *Engine) Cancel(ctx context.Context, deviceID string, kind session.Kind, requestID string) error {
	if err := e.ready(ctx); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", session.ErrInvalidKind, kind)
	}

	s, ok := e.registry.Lookup(deviceID, requestID)
	if !ok || s.Kind != kind {
		return fmt.Errorf("%w: no %s session %s on %s", session.ErrUnknownSession, kind, requestID, deviceID)
	}

	closed, ok := e.closeSession(requestID, session.StateCancelled, session.ReasonCancelled)
	if !ok {
		return fmt.Errorf("%w: %s closed concurrently", session.ErrUnknownSession, requestID)
	}

	return e.publishCancel(closed)
}

// Reset closes every active Session of the reader as Aborted(Reset) and
// returns the reader to idle. It succeeds even when nothing was active.
func (e *Engine) Reset(ctx context.Context, deviceID string) error {
	if err := e.ready(ctx); err != nil {
		return err
	}
	if deviceID == "" {
		return fmt.Errorf("%w: device_id is required", session.ErrInvalidArgument)
	}

	for _, s := range e.registry.ActiveForDevice(deviceID) {
		e.closeSession(s.RequestID, session.StateAborted, session.ReasonReset)
	}

	return e.publish(e.topics.Reset(deviceID), deviceID, protocol.EventReset, uuid.NewString(), &protocol.EmptyPayload{})
}

// publishCancel sends {kind}_cancel for a Session the engine has closed.
func (e *Engine) publishCancel(s session.Session) error {
	topic := e.topics.Command(s.DeviceID, string(s.Kind), mqtt.ActionCancel)
	return e.publish(topic, s.DeviceID, protocol.CancelEvent(string(s.Kind)), s.RequestID, &protocol.EmptyPayload{})
}

// ready rejects calls on a cancelled context or a stopped engine.
func (e *Engine) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.isStopped() {
		return ErrStopped
	}
	return nil
}

// timeoutSeconds converts a deadline into the whole seconds readers expect,
// rounded up and never below one.
func timeoutSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
