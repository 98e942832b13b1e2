package engine

import (
	"context"
	"errors"

	"github.com/LibreTap/mqtt-protocol/internal/infrastructure/mqtt"
	"github.com/LibreTap/mqtt-protocol/internal/protocol"
	"github.com/LibreTap/mqtt-protocol/internal/session"
)

// HandleMessage routes one message from the devices/# subscription.
//
// It never returns an error for bad input: undecodable, unsolicited and
// out-of-order messages are reported to diagnostic observers and dropped so
// one misbehaving reader cannot disturb the others.
func (e *Engine) HandleMessage(topic string, payload []byte) error {
	deviceID, rest, ok := mqtt.ParseDeviceTopic(topic)
	if !ok {
		e.diagnose(Diagnostic{Kind: DiagnosticSchema, Topic: topic, Message: "topic outside the devices namespace", Raw: payload})
		return nil
	}

	// The engine sees its own commands because it subscribes to the whole
	// namespace.
	if mqtt.IsCommandTopic(rest) {
		e.log().Debug("ignoring command echo", "topic", topic)
		return nil
	}

	env, err := protocol.Decode(payload)
	if err != nil {
		if rest == mqtt.SuffixStatus {
			if lwt, lerr := protocol.DecodeLastWill(deviceID, payload); lerr == nil {
				e.handleBroadcast(lwt)
				return nil
			}
		}

		kind := DiagnosticDecode
		if errors.Is(err, protocol.ErrSchema) {
			kind = DiagnosticSchema
		}
		e.diagnose(Diagnostic{Kind: kind, Topic: topic, DeviceID: deviceID, Message: err.Error(), Raw: payload})
		return nil
	}

	if env.DeviceID != deviceID {
		e.diagnose(Diagnostic{
			Kind:      DiagnosticSchema,
			Topic:     topic,
			DeviceID:  env.DeviceID,
			RequestID: env.RequestID,
			EventType: env.EventType,
			Message:   "device_id does not match topic " + deviceID,
			Raw:       payload,
		})
		return nil
	}

	switch {
	case env.EventType.IsBroadcast():
		e.handleBroadcast(env)
	case env.EventType.IsCommand() && !env.EventType.IsCancel():
		e.log().Debug("ignoring command echo", "topic", topic, "event_type", env.EventType)
	default:
		// Cancel events may be echoes of the engine's own commands.
		if !env.EventType.IsCancel() {
			e.devices.Observe(env)
		}
		e.handleCorrelated(topic, env, payload)
	}
	return nil
}

// handleBroadcast folds a mode, status or heartbeat event into the device view.
func (e *Engine) handleBroadcast(env *protocol.Envelope) {
	view := e.devices.Observe(env)
	e.emitDevice(view, env.EventType)
}

// handleCorrelated applies an event carrying a request_id to its Session.
func (e *Engine) handleCorrelated(topic string, env *protocol.Envelope, raw []byte) {
	diag := Diagnostic{
		Topic:     topic,
		DeviceID:  env.DeviceID,
		RequestID: env.RequestID,
		EventType: env.EventType,
		Raw:       raw,
	}
	if p, ok := env.Payload.(*protocol.ErrorPayload); ok {
		diag.ErrorCode = p.ErrorCode
		diag.Message = p.Error
	}

	if !env.EventType.Known() && !env.EventType.IsError() {
		diag.Kind = DiagnosticUnknown
		e.diagnose(diag)
		return
	}

	if env.RequestID == "" {
		diag.Kind = DiagnosticUnsolicited
		e.diagnose(diag)
		return
	}

	if _, ok := e.registry.Lookup(env.DeviceID, env.RequestID); !ok {
		e.handleUnmatched(env, diag)
		return
	}

	updated, err := e.registry.Transition(env.RequestID, env.EventType, func(s *session.Session) {
		applyEventData(s, env)
	})
	switch {
	case errors.Is(err, session.ErrUnknownSession):
		// Closed between lookup and transition.
		e.handleUnmatched(env, diag)
		return
	case err != nil:
		diag.Kind = DiagnosticRejected
		if diag.Message == "" {
			diag.Message = err.Error()
		}
		e.diagnose(diag)
		return
	}

	if updated.State.Terminal() {
		e.emitOutcome(Outcome{
			Session:   updated,
			EventType: env.EventType,
			Payload:   protocol.PayloadMap(env.Payload),
		})
		return
	}

	e.log().Debug("session advanced",
		"device_id", updated.DeviceID,
		"request_id", updated.RequestID,
		"event_type", env.EventType,
		"state", updated.State,
	)

	if env.EventType == protocol.EventAuthTagDetected && e.autoVerifyEnabled() {
		e.goAsync(func(ctx context.Context) {
			e.autoVerify(ctx, updated)
		})
	}
}

// handleUnmatched reports an event whose Session is not active.
func (e *Engine) handleUnmatched(env *protocol.Envelope, diag Diagnostic) {
	if _, recent := e.registry.Recent(env.RequestID); recent {
		// Cancels the engine publishes for Sessions it closed come back here.
		if env.EventType.IsCancel() {
			e.log().Debug("ignoring cancel for closed session", "request_id", env.RequestID)
			return
		}
		diag.Kind = DiagnosticDuplicate
	} else {
		diag.Kind = DiagnosticUnsolicited
	}
	e.diagnose(diag)
}

// autoVerify answers auth_tag_detected with the tag's key.
func (e *Engine) autoVerify(ctx context.Context, s session.Session) {
	creds, err := e.opts.Credentials.Credentials(ctx, s.DeviceID, s.Context.TagUID)
	if err != nil {
		e.log().Warn("no credentials for detected tag",
			"device_id", s.DeviceID,
			"request_id", s.RequestID,
			"tag_uid", s.Context.TagUID,
			"error", err,
		)
		closed, ok := e.closeSession(s.RequestID, session.StateFailed, session.ReasonCredentialsUnavailable)
		if ok {
			_ = e.publishCancel(closed)
		}
		return
	}

	err = e.SendAuthVerify(ctx, s.DeviceID, s.RequestID, s.Context.TagUID, creds.Key, creds.UserData)
	switch {
	case err == nil:
	case errors.Is(err, ErrPublish):
		// SendAuthVerify already closed the Session.
	default:
		// A caller verified or cancelled first.
		e.log().Debug("auto-verify skipped", "request_id", s.RequestID, "error", err)
	}
}

// applyEventData records an event's payload on the Session it advances.
func applyEventData(s *session.Session, env *protocol.Envelope) {
	switch p := env.Payload.(type) {
	case *protocol.TagDetectedPayload:
		s.Context.TagUID = p.TagUID
	case *protocol.AuthResultPayload:
		setTag(s, p.TagUID)
	case *protocol.RegisterResultPayload:
		setTag(s, p.TagUID)
	case *protocol.ReadResultPayload:
		setTag(s, p.TagUID)
	case *protocol.ErrorPayload:
		s.Context.ErrorCode = p.ErrorCode
		s.Context.Error = p.Error
	}

	if s.State.Terminal() {
		s.Context.Result = protocol.PayloadMap(env.Payload)
	}
}

func setTag(s *session.Session, tagUID string) {
	if tagUID != "" {
		s.Context.TagUID = tagUID
	}
}
