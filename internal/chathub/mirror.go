package chathub

import (
	"context"
	"log/slog"
	"time"

	"tutorhub/backend/internal/models"
	"tutorhub/backend/internal/storage"
)

const mirrorWriteTimeout = 5 * time.Second

// presenceMirror persists status transitions in the order they happened.
// The live state stays in the tracker; the mirror only feeds lookups for
// identities this process has never seen.
//
// Records are ordered by transition time, so with several hub instances
// sharing one store the row reflects the latest transition seen by any of
// them, not a union of their connections.
type presenceMirror struct {
	store  storage.Storage
	queue  chan models.StatusChanged
	logger *slog.Logger

	stop     chan struct{}
	finished chan struct{}
}

func newPresenceMirror(store storage.Storage, size int, logger *slog.Logger) *presenceMirror {
	return &presenceMirror{
		store:    store,
		queue:    make(chan models.StatusChanged, size),
		logger:   logger,
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// enqueue is called with the tracker lock held. It drops the write when
// the queue is full, unless wait is set: the offline transitions of a
// shutdown must all reach the store, and the mirror keeps draining until
// the shutdown is over.
func (p *presenceMirror) enqueue(ev models.StatusChanged, wait bool) {
	select {
	case p.queue <- ev:
		return
	default:
	}
	if wait {
		select {
		case p.queue <- ev:
			return
		case <-p.finished:
		}
	}
	p.logger.Warn("presence mirror queue full, dropping write", "identity", ev.Identity, "version", ev.Version)
}

// run saves queued records until close is called, then flushes what is
// left in the queue.
func (p *presenceMirror) run() {
	defer close(p.finished)
	for {
		select {
		case ev := <-p.queue:
			p.save(ev)
		case <-p.stop:
			p.drain()
			return
		}
	}
}

func (p *presenceMirror) drain() {
	for {
		select {
		case ev := <-p.queue:
			p.save(ev)
		default:
			return
		}
	}
}

// close stops run and waits for the queue to be flushed.
func (p *presenceMirror) close() {
	close(p.stop)
	<-p.finished
}

func (p *presenceMirror) save(ev models.StatusChanged) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
	defer cancel()

	rec := models.PresenceRecord{
		Identity:  ev.Identity,
		Online:    ev.Online,
		LastSeen:  ev.LastSeen,
		Version:   ev.Version,
		ChangedAt: ev.ChangedAt,
	}
	if err := p.store.SavePresence(ctx, rec); err != nil {
		p.logger.Error("failed to mirror presence", "identity", ev.Identity, "version", ev.Version, "error", err)
	}
}
