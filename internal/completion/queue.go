package completion

import (
	"context"
	"log/slog"
	"time"

	"github.com/canvasgate/canvasgate/internal/validate"
)

// NodeWriter persists generated text onto a node.
type NodeWriter interface {
	UpdateNodeContent(ctx context.Context, nodeID, content string, tokens int, streaming bool) error
}

type partialWrite struct {
	content string
	tokens  int
}

// writeQueue applies intermediate node writes for one stream on a single
// worker, so writes land in chunk order and at most one is in flight. While
// the worker is busy, the pending slot holds only the newest content; older
// pending content is dropped since every write carries the full text so far.
type writeQueue struct {
	ctx     context.Context
	store   NodeWriter
	nodeID  string
	timeout time.Duration
	logger  *slog.Logger
	onDrop  func()

	pending chan partialWrite
	done    chan struct{}
}

func newWriteQueue(ctx context.Context, store NodeWriter, nodeID string, timeout time.Duration, logger *slog.Logger, onDrop func()) *writeQueue {
	q := &writeQueue{
		ctx:     context.WithoutCancel(ctx),
		store:   store,
		nodeID:  nodeID,
		timeout: timeout,
		logger:  logger,
		onDrop:  onDrop,
		pending: make(chan partialWrite, 1),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *writeQueue) run() {
	defer close(q.done)
	for w := range q.pending {
		ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
		content := validate.SanitizeOutput(w.content)
		if err := q.store.UpdateNodeContent(ctx, q.nodeID, content, w.tokens, true); err != nil {
			q.logger.Warn("partial node write failed", "node_id", q.nodeID, "error", err)
		}
		cancel()
	}
}

// offer never blocks. It must only be called from the stream's read loop.
func (q *writeQueue) offer(content string, tokens int) {
	w := partialWrite{content: content, tokens: tokens}
	select {
	case q.pending <- w:
		return
	default:
	}
	// Slot taken: replace the stale pending write with this one.
	select {
	case <-q.pending:
		q.dropped()
	default:
	}
	select {
	case q.pending <- w:
	default:
		q.dropped()
	}
}

func (q *writeQueue) dropped() {
	if q.onDrop != nil {
		q.onDrop()
	}
}

// close stops accepting writes and waits for the in-flight write.
func (q *writeQueue) close() {
	close(q.pending)
	<-q.done
}
