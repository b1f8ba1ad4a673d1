// Package presence tracks which identities are online, derived from the
// set of live connections bound to each identity.
package presence

import (
	"sort"
	"sync"
	"time"

	"tutorhub/backend/internal/apperrors"
	"tutorhub/backend/internal/models"
)

// Listener receives every status transition. It is called with the
// tracker lock held, so transitions are observed in the order they were
// applied. A Listener must not call back into the Tracker and must not
// block for long.
type Listener func(models.StatusChanged)

// Tracker owns the connection → identity and identity → presence maps.
// All mutations go through MarkOnline and MarkOffline.
type Tracker struct {
	mu         sync.Mutex
	conns      map[string]string              // connectionID -> identity
	byIdentity map[string]map[string]struct{} // identity -> connectionIDs
	records    map[string]*models.PresenceRecord

	now       func() time.Time
	listeners []Listener
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source used for lastSeen.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithListener registers a listener for status transitions.
func WithListener(l Listener) Option {
	return func(t *Tracker) { t.listeners = append(t.listeners, l) }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		conns:      make(map[string]string),
		byIdentity: make(map[string]map[string]struct{}),
		records:    make(map[string]*models.PresenceRecord),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MarkOnline registers connectionID under identity. The identity goes
// online, and an event is emitted, only when this is its first live
// connection. Re-registering the same pair is a no-op; registering a
// connection that is already bound to another identity is rejected.
func (t *Tracker) MarkOnline(identity, connectionID string) (models.StatusChanged, bool, error) {
	if !models.ValidIdentity(identity) {
		return models.StatusChanged{}, false, apperrors.Validation("invalid identity %q", identity)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if bound, ok := t.conns[connectionID]; ok {
		if bound == identity {
			return models.StatusChanged{}, false, nil
		}
		return models.StatusChanged{}, false,
			apperrors.Validation("connection is already bound to another identity")
	}

	t.conns[connectionID] = identity
	set, ok := t.byIdentity[identity]
	if !ok {
		set = make(map[string]struct{})
		t.byIdentity[identity] = set
	}
	set[connectionID] = struct{}{}
	if len(set) > 1 {
		return models.StatusChanged{}, false, nil
	}

	rec := t.record(identity)
	rec.Online = true
	rec.LastSeen = nil
	rec.Version++
	rec.ChangedAt = t.now().UnixMicro()

	ev := rec.StatusChanged()
	t.emit(ev)
	return ev, true, nil
}

// MarkOffline removes connectionID. When it was the identity's last live
// connection the identity goes offline with lastSeen set to now. Unknown
// connection ids are ignored, which makes duplicate disconnects harmless.
func (t *Tracker) MarkOffline(connectionID string) (models.StatusChanged, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	identity, ok := t.conns[connectionID]
	if !ok {
		return models.StatusChanged{}, false
	}
	delete(t.conns, connectionID)

	set := t.byIdentity[identity]
	delete(set, connectionID)
	if len(set) > 0 {
		return models.StatusChanged{}, false
	}
	delete(t.byIdentity, identity)

	seen := t.now().UTC()
	rec := t.record(identity)
	rec.Online = false
	rec.LastSeen = &seen
	rec.Version++
	rec.ChangedAt = seen.UnixMicro()

	ev := rec.StatusChanged()
	t.emit(ev)
	return ev, true
}

// Get returns a copy of the presence record of identity.
func (t *Tracker) Get(identity string) (models.PresenceRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[identity]
	if !ok {
		return models.PresenceRecord{}, false
	}
	return *rec, true
}

// IdentityOf returns the identity bound to connectionID.
func (t *Tracker) IdentityOf(connectionID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	identity, ok := t.conns[connectionID]
	return identity, ok
}

// Connections returns the number of live connections of identity.
func (t *Tracker) Connections(identity string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.byIdentity[identity])
}

// Online returns the sorted list of identities that are currently online.
func (t *Tracker) Online() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.byIdentity))
	for identity := range t.byIdentity {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) record(identity string) *models.PresenceRecord {
	rec, ok := t.records[identity]
	if !ok {
		rec = &models.PresenceRecord{Identity: identity}
		t.records[identity] = rec
	}
	return rec
}

func (t *Tracker) emit(ev models.StatusChanged) {
	for _, l := range t.listeners {
		l(ev)
	}
}
