package storage

import (
	"sync"
	"time"
)

const (
	// timestampResolution matches what Postgres keeps for timestamptz.
	timestampResolution = time.Microsecond

	// DefaultClockIdleTTL is how long a conversation may go without an
	// append before its clock is forgotten and re-seeded on next use.
	DefaultClockIdleTTL = 10 * time.Minute
)

// ConversationClock hands out strictly increasing timestamps per
// conversation. Conversations do not share a lock, so appends to
// different pairs never wait on each other. Idle conversations are
// evicted; the seed function restores their last timestamp.
type ConversationClock struct {
	now     func() time.Time
	idleTTL time.Duration

	mu        sync.Mutex
	pairs     map[string]*pairClock
	lastSweep time.Time
}

type pairClock struct {
	mu     sync.Mutex
	seeded bool
	last   time.Time

	// guarded by ConversationClock.mu
	users    int
	lastUsed time.Time
}

// NewConversationClock creates a clock reading wall time from now.
func NewConversationClock(now func() time.Time) *ConversationClock {
	if now == nil {
		now = time.Now
	}
	return &ConversationClock{
		now:     now,
		idleTTL: DefaultClockIdleTTL,
		pairs:   make(map[string]*pairClock),
	}
}

// WithIdleTTL sets how long an unused conversation is kept.
func (c *ConversationClock) WithIdleTTL(ttl time.Duration) *ConversationClock {
	c.idleTTL = ttl
	return c
}

// Len returns the number of conversations currently held.
func (c *ConversationClock) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pairs)
}

// Next returns a timestamp strictly after every timestamp previously
// returned for key. seed is called once per key, and again after the key
// has been evicted, to recover the latest persisted timestamp of the
// conversation; it may be nil.
func (c *ConversationClock) Next(key string, seed func() (time.Time, error)) (time.Time, error) {
	pc := c.acquire(key)
	defer c.release(pc)

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if !pc.seeded {
		if seed != nil {
			last, err := seed()
			if err != nil {
				return time.Time{}, err
			}
			pc.last = last.UTC()
		}
		pc.seeded = true
	}

	ts := c.now().UTC().Truncate(timestampResolution)
	if !ts.After(pc.last) {
		ts = pc.last.Add(timestampResolution)
	}
	pc.last = ts
	return ts, nil
}

func (c *ConversationClock) acquire(key string) *pairClock {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.idleTTL > 0 && now.Sub(c.lastSweep) >= c.idleTTL {
		c.sweep(now)
		c.lastSweep = now
	}

	pc, ok := c.pairs[key]
	if !ok {
		pc = &pairClock{}
		c.pairs[key] = pc
	}
	pc.users++
	return pc
}

func (c *ConversationClock) release(pc *pairClock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc.users--
	pc.lastUsed = c.now()
}

// sweep drops conversations nobody is using that have been idle for
// longer than idleTTL. Called with c.mu held.
func (c *ConversationClock) sweep(now time.Time) {
	for key, pc := range c.pairs {
		if pc.users == 0 && now.Sub(pc.lastUsed) >= c.idleTTL {
			delete(c.pairs, key)
		}
	}
}
