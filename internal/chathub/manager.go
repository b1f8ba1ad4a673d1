package chathub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tutorhub/backend/internal/apperrors"
	"tutorhub/backend/internal/broker"
	"tutorhub/backend/internal/models"
	"tutorhub/backend/internal/presence"
	"tutorhub/backend/internal/storage"

	"github.com/google/uuid"
)

// IdentityResolver turns an announce token into an identity.
type IdentityResolver interface {
	ResolveIdentity(token string) (string, error)
}

// Options tunes the hub. Zero values select the defaults.
type Options struct {
	// IdleTimeout disconnects sessions with no inbound activity for this
	// long. Negative disables the reaper.
	IdleTimeout time.Duration
	// ReapInterval is how often idle sessions are looked for.
	ReapInterval time.Duration
	// PublishQueue bounds events waiting for the broker.
	PublishQueue int
	// MirrorQueue bounds presence records waiting to be persisted.
	// Negative disables the presence mirror.
	MirrorQueue int
	// RequireAuth rejects announce frames that carry no token. Without it
	// a bare identity is trusted.
	RequireAuth bool
	// ResetStalePresence marks every stored online record offline at
	// Start. Only a hub that is the sole writer of the store should set
	// it; otherwise it would flip the users of its peers offline.
	ResetStalePresence bool

	Logger *slog.Logger
	Now    func() time.Time
}

const (
	defaultIdleTimeout  = 60 * time.Second
	defaultPublishQueue = 1024
	defaultMirrorQueue  = 1024
)

func (o Options) withDefaults() Options {
	if o.IdleTimeout == 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
	if o.ReapInterval <= 0 {
		o.ReapInterval = o.IdleTimeout / 2
		if o.ReapInterval <= 0 {
			o.ReapInterval = defaultIdleTimeout / 2
		}
	}
	if o.PublishQueue <= 0 {
		o.PublishQueue = defaultPublishQueue
	}
	if o.MirrorQueue == 0 {
		o.MirrorQueue = defaultMirrorQueue
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// ManagerService is the relay hub: it owns the sessions, drives the
// presence tracker, persists messages and fans every event out to all
// connected sessions.
type ManagerService struct {
	Storage  storage.Storage
	Broker   broker.Broker
	Tracker  *presence.Tracker
	Resolver IdentityResolver

	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	publishCh chan models.Envelope
	mirror    *presenceMirror

	startOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// NewManagerService creates a hub. resolver may be nil, in which case the
// identity sent with an announce is trusted as is.
func NewManagerService(s storage.Storage, b broker.Broker, resolver IdentityResolver, opts Options) *ManagerService {
	opts = opts.withDefaults()
	m := &ManagerService{
		Storage:   s,
		Broker:    b,
		Resolver:  resolver,
		opts:      opts,
		logger:    opts.Logger.With("component", "chathub"),
		sessions:  make(map[string]*Session),
		publishCh: make(chan models.Envelope, opts.PublishQueue),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	if s != nil && opts.MirrorQueue > 0 {
		m.mirror = newPresenceMirror(s, opts.MirrorQueue, m.logger)
	}
	m.Tracker = presence.NewTracker(
		presence.WithClock(opts.Now),
		presence.WithListener(m.onStatusChanged),
	)
	return m
}

// onStatusChanged runs under the tracker lock, which is what keeps
// status events in transition order on the wire. publish blocks while the
// broker queue is full, so a stalled broker holds up announces and
// disconnects instead of losing transitions; the wait ends at shutdown.
func (m *ManagerService) onStatusChanged(ev models.StatusChanged) {
	status := ev
	m.publish(models.Envelope{Type: models.EventStatusChanged, Status: &status})
	if m.mirror != nil {
		m.mirror.enqueue(ev, m.stopping())
	}
}

// Start subscribes to the broker and launches the publisher, the
// delivery loop and the presence mirror. It returns once the
// subscription is in place. Cancelling ctx stops the hub and disconnects
// every session.
func (m *ManagerService) Start(ctx context.Context) error {
	err := errors.New("chathub: already started")
	m.startOnce.Do(func() {
		if m.opts.ResetStalePresence && m.Storage != nil {
			var n int64
			if n, err = m.Storage.ResetPresence(ctx, m.opts.Now()); err != nil {
				return
			}
			if n > 0 {
				m.logger.Info("reset stale presence records", "count", n)
			}
		}

		var events <-chan models.Envelope
		events, err = m.Broker.Subscribe(ctx)
		if err != nil {
			return
		}

		go m.publishLoop(ctx)
		if m.mirror != nil {
			go m.mirror.run()
		}
		go m.run(ctx, events)
		m.logger.Info("hub started", "idle_timeout", m.opts.IdleTimeout)
	})
	return err
}

// Run starts the hub and blocks until ctx is cancelled.
func (m *ManagerService) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-m.stopped
	return nil
}

// Stopped is closed once the hub has shut down and the presence mirror
// has flushed the resulting offline records.
func (m *ManagerService) Stopped() <-chan struct{} {
	return m.stopped
}

func (m *ManagerService) run(ctx context.Context, events <-chan models.Envelope) {
	defer close(m.stopped)

	var reap <-chan time.Time
	if m.opts.IdleTimeout > 0 {
		ticker := time.NewTicker(m.opts.ReapInterval)
		defer ticker.Stop()
		reap = ticker.C
	}

	for {
		select {
		case env, ok := <-events:
			if !ok {
				m.stop()
				return
			}
			m.deliver(env)
		case <-reap:
			// Disconnects publish status events, which may wait on this loop.
			go m.ReapIdle()
		case <-ctx.Done():
			m.stop()
			return
		}
	}
}

// stop disconnects every session, then waits for the mirror to persist
// the resulting offline transitions.
func (m *ManagerService) stop() {
	m.shutdown()
	if m.mirror != nil {
		m.mirror.close()
	}
}

func (m *ManagerService) stopping() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *ManagerService) publishLoop(ctx context.Context) {
	for {
		select {
		case env := <-m.publishCh:
			if err := m.Broker.Publish(ctx, env); err != nil {
				m.logger.Error("failed to publish event", "type", env.Type, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// publish queues env for broadcast in call order.
func (m *ManagerService) publish(env models.Envelope) {
	select {
	case m.publishCh <- env:
	case <-m.done:
	}
}

// deliver hands env to every session without blocking. Sessions whose
// queue is full are disconnected.
func (m *ManagerService) deliver(env models.Envelope) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		if !s.send(env) && s.State() != StateClosed {
			m.logger.Warn("dropping slow session", "connection_id", s.ID)
			go m.OnDisconnect(s.ID)
		}
	}
}

func (m *ManagerService) shutdown() {
	select {
	case <-m.done:
		return
	default:
		close(m.done)
	}

	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.OnDisconnect(id)
	}
	m.logger.Info("hub stopped", "sessions_closed", len(ids))
}

// OnConnect registers a new channel and returns its connection id. No
// event is broadcast until the session announces itself.
func (m *ManagerService) OnConnect(client Client) string {
	id := uuid.NewString()
	s := newSession(id, client, m.opts.Now())

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Debug("session connected", "connection_id", id)
	return id
}

// OnAnnounce binds identity to the session and marks it online. The
// resulting status change, if any, is broadcast to every session.
func (m *ManagerService) OnAnnounce(connectionID, identity string) error {
	s := m.session(connectionID)
	if s == nil {
		return apperrors.ErrUnauthorized.WithMessage("unknown connection")
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	changed, err := s.checkAnnounce(identity)
	if err != nil || !changed {
		return err
	}
	if _, _, err := m.Tracker.MarkOnline(identity, connectionID); err != nil {
		return err
	}
	s.bind(identity)

	m.logger.Info("session announced", "connection_id", connectionID, "identity", identity)
	return nil
}

// OnSend persists a message from the identity bound to the session and
// broadcasts it. Nothing is persisted or broadcast on failure.
func (m *ManagerService) OnSend(ctx context.Context, connectionID, receiverID, text string) (*models.Message, error) {
	s := m.session(connectionID)
	if s == nil {
		return nil, apperrors.ErrUnauthorized.WithMessage("unknown connection")
	}
	sender, ok := s.Identity()
	if !ok {
		return nil, apperrors.ErrUnauthorized
	}
	return m.SendAs(ctx, sender, receiverID, text)
}

// SendAs persists and broadcasts a message on behalf of sender. It backs
// both the WebSocket send frame and the REST endpoint.
func (m *ManagerService) SendAs(ctx context.Context, senderID, receiverID, text string) (*models.Message, error) {
	msg, err := m.Storage.AppendMessage(ctx, senderID, receiverID, text)
	if err != nil {
		m.logger.Warn("send rejected", "sender", senderID, "receiver", receiverID, "kind", apperrors.KindOf(err), "error", err)
		return nil, err
	}

	m.publish(models.Envelope{Type: models.EventMessageCreated, Message: models.NewMessageCreated(msg)})
	return msg, nil
}

// OnDisconnect closes the session and, if it was the identity's last one,
// marks the identity offline. Unknown or already closed ids are ignored.
func (m *ManagerService) OnDisconnect(connectionID string) {
	s := m.session(connectionID)
	if s == nil {
		return
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	prev, ok := s.close()
	if !ok {
		return
	}

	m.mu.Lock()
	delete(m.sessions, connectionID)
	m.mu.Unlock()

	if prev == StateAnnounced {
		m.Tracker.MarkOffline(connectionID)
	}
	m.logger.Debug("session closed", "connection_id", connectionID, "state", prev.String())
}

// Touch records inbound activity on the session.
func (m *ManagerService) Touch(connectionID string) {
	if s := m.session(connectionID); s != nil {
		s.touch(m.opts.Now())
	}
}

// ReapIdle disconnects every session that has been idle for longer than
// IdleTimeout.
func (m *ManagerService) ReapIdle() {
	if m.opts.IdleTimeout <= 0 {
		return
	}
	now := m.opts.Now()

	m.mu.RLock()
	var idle []string
	for id, s := range m.sessions {
		if s.idleFor(now) > m.opts.IdleTimeout {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		m.logger.Info("disconnecting idle session", "connection_id", id)
		m.OnDisconnect(id)
	}
}

// Session returns the live session with the given id.
func (m *ManagerService) Session(connectionID string) (*Session, bool) {
	s := m.session(connectionID)
	return s, s != nil
}

// SessionCount returns the number of live sessions.
func (m *ManagerService) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *ManagerService) session(connectionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[connectionID]
}

// History returns the conversation between a and b, oldest first.
func (m *ManagerService) History(ctx context.Context, a, b string) ([]models.Message, error) {
	return m.Storage.GetHistory(ctx, a, b)
}

// Correspondents lists identities that have messaged identity.
func (m *ManagerService) Correspondents(ctx context.Context, identity string) ([]string, error) {
	return m.Storage.GetCorrespondents(ctx, identity)
}

// Presence returns the live presence of identity, falling back to the
// durable mirror for identities this process has not seen.
func (m *ManagerService) Presence(ctx context.Context, identity string) (*models.PresenceRecord, error) {
	if rec, ok := m.Tracker.Get(identity); ok {
		return &rec, nil
	}
	if m.Storage == nil {
		return nil, nil
	}
	return m.Storage.GetPresence(ctx, identity)
}

// OnlineIdentities lists identities with at least one live session.
func (m *ManagerService) OnlineIdentities() []string {
	return m.Tracker.Online()
}
