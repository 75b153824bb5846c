package usage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Recorder accepts usage entries. Logger and NoopLogger implement it.
type Recorder interface {
	Write(entry *UsageEntry)
	Close() error
}

// Logger queues entries on a bounded channel and writes them in batches,
// when BatchFlushThreshold is reached or on every FlushInterval tick. Write
// never blocks the request path: a full queue drops the entry.
type Logger struct {
	store UsageStore
	queue chan *UsageEntry
	done  chan struct{}
	loop  sync.WaitGroup

	// mu orders Write against Close: writers hold the read lock while
	// sending, Close takes the write lock to mark the logger closed.
	mu     sync.RWMutex
	closed bool

	flushInterval time.Duration
	dropped       atomic.Int64
}

// NewLogger starts the background flush loop.
func NewLogger(store UsageStore, cfg Config) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	l := &Logger{
		store:         store,
		queue:         make(chan *UsageEntry, cfg.BufferSize),
		done:          make(chan struct{}),
		flushInterval: cfg.FlushInterval,
	}
	l.loop.Add(1)
	go l.run()
	return l
}

// Write queues entry. It is a no-op after Close.
func (l *Logger) Write(entry *UsageEntry) {
	if entry == nil {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}

	select {
	case l.queue <- entry:
	default:
		l.dropped.Add(1)
		slog.Warn("usage queue full, dropping entry",
			"request_id", entry.RequestID,
			"provider", entry.Provider,
			"model", entry.Model,
		)
	}
}

// Dropped reports how many entries were discarded because the queue was full.
func (l *Logger) Dropped() int64 { return l.dropped.Load() }

// Close drains the queue, writes what is left and closes the store. It is
// idempotent.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	l.loop.Wait()
	return l.store.Close()
}

func (l *Logger) run() {
	defer l.loop.Done()

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	batch := make([]*UsageEntry, 0, BatchFlushThreshold)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		l.writeBatch(batch)
		batch = make([]*UsageEntry, 0, BatchFlushThreshold)
	}

	for {
		select {
		case entry := <-l.queue:
			batch = append(batch, entry)
			if len(batch) >= BatchFlushThreshold {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.done:
			close(l.queue)
			for entry := range l.queue {
				batch = append(batch, entry)
			}
			flush()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.store.Flush(ctx); err != nil {
				slog.Error("failed to flush usage store", "error", err)
			}
			cancel()
			return
		}
	}
}

func (l *Logger) writeBatch(batch []*UsageEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := l.store.WriteBatch(ctx, batch); err != nil {
		slog.Error("failed to write usage batch", "error", err, "count", len(batch))
	}
}

// NoopLogger discards entries; used when usage tracking is disabled.
type NoopLogger struct{}

func (NoopLogger) Write(*UsageEntry) {}
func (NoopLogger) Close() error      { return nil }
