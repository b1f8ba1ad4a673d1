package chathub

import (
	"context"

	"tutorhub/backend/internal/apperrors"
	"tutorhub/backend/internal/models"
)

// HandleFrame dispatches one inbound frame of a session. Replies and
// errors go to the originating session only; broadcasts go through the
// broker. Frames of one session must be handled sequentially.
func (m *ManagerService) HandleFrame(ctx context.Context, connectionID string, frame models.Frame) {
	m.Touch(connectionID)

	switch frame.Type {
	case models.FrameAnnounce:
		identity, err := m.resolveAnnounce(frame)
		if err == nil {
			err = m.OnAnnounce(connectionID, identity)
		}
		if err != nil {
			m.replyError(connectionID, frame.Ref, err)
			return
		}
		m.Reply(connectionID, models.Envelope{Type: models.EventAnnounced, Ref: frame.Ref, Identity: identity})

	case models.FrameSend:
		msg, err := m.OnSend(ctx, connectionID, frame.ReceiverID, frame.Text)
		if err != nil {
			m.replyError(connectionID, frame.Ref, err)
			return
		}
		m.Reply(connectionID, models.Envelope{Type: models.EventSent, Ref: frame.Ref, Message: models.NewMessageCreated(msg)})

	case models.FramePing:
		m.Reply(connectionID, models.Envelope{Type: models.EventPong, Ref: frame.Ref})

	default:
		m.replyError(connectionID, frame.Ref, apperrors.Validation("unknown frame type %q", frame.Type))
	}
}

// resolveAnnounce picks the identity an announce frame asks for. A token
// always wins over a bare identity.
func (m *ManagerService) resolveAnnounce(frame models.Frame) (string, error) {
	if frame.Token != "" {
		if m.Resolver == nil {
			return "", apperrors.ErrAuth.WithMessage("token authentication is not configured")
		}
		return m.Resolver.ResolveIdentity(frame.Token)
	}
	if m.opts.RequireAuth {
		return "", apperrors.ErrAuth.WithMessage("announce requires a token")
	}
	if !models.ValidIdentity(frame.Identity) {
		return "", apperrors.Validation("invalid identity %q", frame.Identity)
	}
	return frame.Identity, nil
}

// Reply sends env to a single session. A session that cannot take it is
// disconnected.
func (m *ManagerService) Reply(connectionID string, env models.Envelope) {
	s := m.session(connectionID)
	if s == nil {
		return
	}
	if !s.send(env) && s.State() != StateClosed {
		m.logger.Warn("dropping slow session", "connection_id", connectionID)
		go m.OnDisconnect(connectionID)
	}
}

func (m *ManagerService) replyError(connectionID, ref string, err error) {
	m.logger.Debug("frame rejected", "connection_id", connectionID, "error", err)
	m.Reply(connectionID, models.Envelope{
		Type: models.EventError,
		Ref:  ref,
		Error: &models.ErrorPayload{
			Code:    apperrors.GetCode(err),
			Kind:    string(apperrors.KindOf(err)),
			Message: apperrors.GetMessage(err),
		},
	})
}
