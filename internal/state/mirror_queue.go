package state

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/pocketagent/internal/remote"
)

const defaultMirrorTimeout = 30 * time.Second

type mirrorOp struct {
	op       string
	entityID string
	userID   string
	apply    func(ctx context.Context, m remote.Mirror) error
	barrier  chan struct{}
}

// mirrorQueue applies best-effort remote writes in FIFO order on a single
// goroutine. Ops are never dropped while the queue is open; failed ops are
// logged and not retried.
type mirrorQueue struct {
	mirror  remote.Mirror
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	ops    []mirrorOp
	closed bool
	signal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newMirrorQueue(m remote.Mirror, timeout time.Duration, logger *slog.Logger) *mirrorQueue {
	if timeout <= 0 {
		timeout = defaultMirrorTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &mirrorQueue{
		mirror:  m,
		timeout: timeout,
		logger:  logger,
		signal:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	if m != nil {
		q.wg.Add(1)
		go q.run()
	}
	return q
}

func (q *mirrorQueue) push(op mirrorOp) bool {
	q.mu.Lock()
	if q.closed || q.mirror == nil {
		q.mu.Unlock()
		q.logger.Warn("mirror queue closed, dropping op", "op", op.op, "entity_id", op.entityID)
		return false
	}
	q.ops = append(q.ops, op)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *mirrorQueue) pop() (mirrorOp, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ops) == 0 {
		return mirrorOp{}, false
	}
	op := q.ops[0]
	q.ops[0] = mirrorOp{}
	q.ops = q.ops[1:]
	return op, true
}

func (q *mirrorQueue) run() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.signal:
			for {
				op, ok := q.pop()
				if !ok {
					break
				}
				q.process(op)
			}
		}
	}
}

func (q *mirrorQueue) process(op mirrorOp) {
	if op.barrier != nil {
		close(op.barrier)
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	defer cancel()

	start := time.Now()
	if err := op.apply(ctx, q.mirror); err != nil {
		q.logger.Warn("remote mirror failed",
			"op", op.op,
			"entity_id", op.entityID,
			"user_id", op.userID,
			"error", err,
		)
		return
	}
	q.logger.Debug("remote mirror applied",
		"op", op.op,
		"entity_id", op.entityID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// drain blocks until every op queued before the call has been processed.
func (q *mirrorQueue) drain(ctx context.Context) error {
	if q.mirror == nil {
		return nil
	}
	barrier := make(chan struct{})
	if !q.push(mirrorOp{op: "barrier", barrier: barrier}) {
		return nil
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitResult waits for a queued op to deliver on ch. It gives up when ctx
// is done or the queue shuts down; the op may still complete later.
func awaitResult[T any](ctx context.Context, q *mirrorQueue, ch <-chan T) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-ctx.Done():
	case <-q.ctx.Done():
	}
	var zero T
	return zero, false
}

func (q *mirrorQueue) close() {
	if q.mirror == nil {
		return
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := q.drain(drainCtx); err != nil {
		q.logger.Warn("mirror queue shutdown timeout", "error", err)
	}
	cancel()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	remaining := len(q.ops)
	q.ops = nil
	q.mu.Unlock()

	if remaining > 0 {
		q.logger.Warn("dropped queued mirror ops on close", "count", remaining)
	}

	q.cancel()
	q.wg.Wait()
}
