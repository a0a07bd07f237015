package invlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/oriys/quasar/internal/logging"
)

const (
	defaultBatchSize     = 100
	defaultBufferSize    = 1000
	defaultFlushInterval = 500 * time.Millisecond
	defaultFlushTimeout  = 5 * time.Second
)

// Saver persists batches of records. *Store satisfies it.
type Saver interface {
	SaveBatch(ctx context.Context, records []*Record) error
}

// Batcher buffers records and flushes them in batches. Enqueue never blocks;
// records are dropped with a warning when the buffer is full.
type Batcher struct {
	saver         Saver
	logger        *slog.Logger
	records       chan *Record
	flushInterval time.Duration
	batchSize     int
	done          chan struct{}
}

// NewBatcher starts a batcher over the given saver.
func NewBatcher(saver Saver) *Batcher {
	b := &Batcher{
		saver:         saver,
		logger:        logging.Op(),
		records:       make(chan *Record, defaultBufferSize),
		flushInterval: defaultFlushInterval,
		batchSize:     defaultBatchSize,
		done:          make(chan struct{}),
	}
	go b.run()
	return b
}

// Enqueue queues a record for persistence.
func (b *Batcher) Enqueue(r *Record) {
	select {
	case b.records <- r:
	default:
		b.logger.Warn("dropping invocation record due to full buffer", "id", r.ID, "target", r.Target)
	}
}

// Shutdown flushes pending records and stops the batcher.
func (b *Batcher) Shutdown(timeout time.Duration) {
	close(b.records)
	select {
	case <-b.done:
	case <-time.After(timeout):
		b.logger.Warn("timeout waiting for invocation log batcher shutdown", "timeout", timeout)
	}
}

func (b *Batcher) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	batch := make([]*Record, 0, b.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultFlushTimeout)
		if err := b.saver.SaveBatch(ctx, batch); err != nil {
			b.logger.Warn("failed to persist invocation records", "error", err, "count", len(batch))
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-b.records:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= b.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
