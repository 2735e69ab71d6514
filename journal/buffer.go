package journal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/justapithecus/spotlight/log"
)

// FlushTrigger identifies why a Buffer flushed.
type FlushTrigger string

const (
	FlushTriggerCount    FlushTrigger = "count"
	FlushTriggerInterval FlushTrigger = "interval"
	FlushTriggerClose    FlushTrigger = "close"
	FlushTriggerManual   FlushTrigger = "manual"
)

var (
	// ErrInvalidBufferConfig is returned when neither trigger is set.
	ErrInvalidBufferConfig = errors.New("invalid journal buffer config: at least one of FlushCount or FlushInterval must be set")
	// ErrBufferClosed is returned by Append after Close.
	ErrBufferClosed = errors.New("journal buffer closed")
)

// BufferConfig configures a Buffer.
type BufferConfig struct {
	// FlushCount flushes once N records are pending. Zero disables it.
	FlushCount int
	// FlushInterval flushes periodically. Zero disables it.
	FlushInterval time.Duration
	Logger        *log.Logger
}

// BufferStats is a consistent snapshot of Buffer counters.
type BufferStats struct {
	Appended  int64
	Written   int64
	Flushes   int64
	Errors    int64
	Pending   int
	ByTrigger map[FlushTrigger]int64
}

// Buffer batches records in memory and writes them to a Writer.
// Records are never dropped: a failed flush puts its batch back in front of
// anything appended meanwhile, to be retried by the next trigger.
//
// mu guards the pending slice and stats; flushMu serializes writes so the
// interval loop and count trigger never write concurrently.
type Buffer struct {
	writer Writer
	config BufferConfig
	logger *log.Logger

	mu      sync.Mutex
	pending []map[string]any
	stats   BufferStats
	stopped bool
	stopCh  chan struct{}
	loopWG  sync.WaitGroup

	flushMu sync.Mutex
}

// NewBuffer starts a Buffer in front of w.
func NewBuffer(w Writer, cfg BufferConfig) (*Buffer, error) {
	if cfg.FlushCount <= 0 && cfg.FlushInterval <= 0 {
		return nil, ErrInvalidBufferConfig
	}
	b := &Buffer{
		writer: w,
		config: cfg,
		logger: cfg.Logger,
		stats:  BufferStats{ByTrigger: make(map[FlushTrigger]int64)},
		stopCh: make(chan struct{}),
	}
	if b.logger == nil {
		b.logger = log.Nop()
	}
	if cfg.FlushInterval > 0 {
		b.loopWG.Add(1)
		go b.intervalLoop()
	}
	return b, nil
}

// Append queues record and flushes when the count threshold is reached.
func (b *Buffer) Append(ctx context.Context, record map[string]any) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrBufferClosed
	}
	b.pending = append(b.pending, record)
	b.stats.Appended++
	full := b.config.FlushCount > 0 && len(b.pending) >= b.config.FlushCount
	b.mu.Unlock()

	if full {
		return b.flush(ctx, FlushTriggerCount)
	}
	return nil
}

// Flush writes everything pending.
func (b *Buffer) Flush(ctx context.Context) error {
	return b.flush(ctx, FlushTriggerManual)
}

// Close stops the interval loop, flushes what is pending and closes the
// writer. Safe to call more than once.
func (b *Buffer) Close(ctx context.Context) error {
	b.mu.Lock()
	already := b.stopped
	if !already {
		b.stopped = true
		close(b.stopCh)
	}
	b.mu.Unlock()
	if already {
		return nil
	}
	b.loopWG.Wait()

	flushErr := b.flush(ctx, FlushTriggerClose)
	return errors.Join(flushErr, b.writer.Close())
}

// Stats returns a snapshot of buffer counters.
func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Pending = len(b.pending)
	s.ByTrigger = make(map[FlushTrigger]int64, len(b.stats.ByTrigger))
	for k, v := range b.stats.ByTrigger {
		s.ByTrigger[k] = v
	}
	return s
}

func (b *Buffer) flush(ctx context.Context, trigger FlushTrigger) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batch := b.pending
	if len(batch) == 0 {
		b.mu.Unlock()
		return nil
	}
	b.pending = nil
	b.stats.Flushes++
	b.stats.ByTrigger[trigger]++
	b.mu.Unlock()

	if err := b.writer.Write(ctx, batch); err != nil {
		b.mu.Lock()
		b.stats.Errors++
		b.pending = append(batch, b.pending...)
		b.mu.Unlock()
		b.logger.Error("journal flush failed", map[string]any{
			"trigger": string(trigger),
			"records": len(batch),
			"error":   err.Error(),
		})
		return err
	}

	b.mu.Lock()
	b.stats.Written += int64(len(batch))
	b.mu.Unlock()
	b.logger.Debug("journal flushed", map[string]any{
		"trigger": string(trigger),
		"records": len(batch),
	})
	return nil
}

func (b *Buffer) intervalLoop() {
	defer b.loopWG.Done()
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Errors are logged by flush; the batch is retried next tick.
			_ = b.flush(context.Background(), FlushTriggerInterval)
		case <-b.stopCh:
			return
		}
	}
}
