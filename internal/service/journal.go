package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type journalEntry struct {
	name string
	fn   func(ctx context.Context) error
}

// Journal runs persistence and publish calls on a single background
// goroutine, in submission order. Failures are logged and dropped so
// decision paths never wait on storage.
type Journal struct {
	ch      chan journalEntry
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewJournal starts a journal with the given queue size and per-call
// timeout.
func NewJournal(size int, timeout time.Duration, logger *slog.Logger) *Journal {
	if size <= 0 {
		size = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	j := &Journal{
		ch:      make(chan journalEntry, size),
		timeout: timeout,
		logger:  logger.With(slog.String("component", "journal")),
		done:    make(chan struct{}),
	}
	go j.run()
	return j
}

// Submit queues fn. It never blocks; a full queue drops the entry.
func (j *Journal) Submit(name string, fn func(ctx context.Context) error) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		j.logger.Warn("journal: submit after close", slog.String("entry", name))
		return
	}
	select {
	case j.ch <- journalEntry{name: name, fn: fn}:
	default:
		j.logger.Warn("journal: queue full, dropping entry", slog.String("entry", name))
	}
}

// Close stops accepting entries and waits for the queue to drain.
func (j *Journal) Close() {
	if j == nil {
		return
	}
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.ch)
	}
	j.mu.Unlock()
	<-j.done
}

func (j *Journal) run() {
	defer close(j.done)
	for e := range j.ch {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		if err := e.fn(ctx); err != nil {
			j.logger.Warn("journal: entry failed",
				slog.String("entry", e.name),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}
