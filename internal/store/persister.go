package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/pocketagent/internal/domain"
)

type pendingSnapshot struct {
	seq  uint64
	snap domain.Snapshot
}

// Persister writes snapshots asynchronously so state mutations never wait
// on disk I/O. Only the newest unwritten snapshot is kept: when a write is
// still queued, a newer Submit replaces it (last write wins).
type Persister struct {
	store   *SnapshotStore
	pending chan pendingSnapshot
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger

	mu        sync.Mutex
	closed    bool
	submitted uint64
	written   uint64
	lastErr   error
	progress  chan struct{} // closed and replaced after every write
}

// NewPersister starts a background writer for store.
func NewPersister(store *SnapshotStore, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Persister{
		store:    store,
		pending:  make(chan pendingSnapshot, 1),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		progress: make(chan struct{}),
	}

	p.wg.Add(1)
	go p.run()

	return p
}

// Load reads the stored snapshot synchronously.
func (p *Persister) Load(ctx context.Context) (domain.Snapshot, error) {
	return p.store.Load(ctx)
}

// Submit queues snap for writing and returns immediately.
func (p *Persister) Submit(snap domain.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.logger.Warn("snapshot submitted after close, dropping")
		return
	}
	p.submitted++
	item := pendingSnapshot{seq: p.submitted, snap: snap}

	select {
	case p.pending <- item:
		return
	default:
	}

	// A write is already queued; replace it with the newer snapshot.
	select {
	case old := <-p.pending:
		p.logger.Debug("coalesced snapshot", "replaced_seq", old.seq, "seq", item.seq)
	default:
	}

	select {
	case p.pending <- item:
	default:
		p.logger.Warn("failed to queue snapshot", "seq", item.seq)
	}
}

func (p *Persister) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			// Write whatever is still queued before stopping.
			select {
			case item := <-p.pending:
				p.write(item)
			default:
			}
			return
		case item := <-p.pending:
			p.write(item)
		}
	}
}

func (p *Persister) write(item pendingSnapshot) {
	start := time.Now()
	// Detached from p.ctx so the final write on shutdown still runs.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := p.store.Save(ctx, item.snap)
	cancel()

	if err != nil {
		p.logger.Error("failed to persist snapshot", "seq", item.seq, "error", err)
	} else if d := time.Since(start); d > 100*time.Millisecond {
		p.logger.Warn("slow snapshot write", "seq", item.seq, "duration_ms", d.Milliseconds())
	}

	p.mu.Lock()
	if item.seq > p.written {
		p.written = item.seq
	}
	p.lastErr = err
	close(p.progress)
	p.progress = make(chan struct{})
	p.mu.Unlock()
}

// Flush blocks until every snapshot submitted before the call has been
// written (or superseded by a newer written snapshot). It returns the
// error of the most recent write.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	target := p.submitted
	for p.written < target {
		wait := p.progress
		p.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
		p.mu.Lock()
	}
	err := p.lastErr
	p.mu.Unlock()
	return err
}

// Close writes any queued snapshot and stops the background writer.
func (p *Persister) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug("persister stopped")
	case <-time.After(5 * time.Second):
		p.logger.Warn("persister shutdown timeout")
	}
	return nil
}

// Stats returns writer statistics.
func (p *Persister) Stats() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{
		"codec":     p.store.codec.Name(),
		"submitted": p.submitted,
		"written":   p.written,
		"queued":    len(p.pending),
	}
}
