package storage

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/battesty/battesty/internal/engine"
)

// persister is the subset of DB the writer needs. Tests substitute a fake.
type persister interface {
	InsertSession(engine.Session) error
	SaveCapacityProfile(engine.CapacityProfile) error
}

const (
	writerQueueSize    = 64
	writerMaxAttempts  = 3
	writerRetryBackoff = 200 * time.Millisecond
)

type writeJob struct {
	session *engine.Session
	profile *engine.CapacityProfile
}

// Writer persists engine output on a background goroutine so that a slow or
// briefly failing database never blocks sample ingestion. It implements
// engine.Sink.
type Writer struct {
	db      persister
	logger  *slog.Logger
	jobs    chan writeJob
	done    chan struct{}
	backoff time.Duration

	mu     sync.Mutex
	closed bool
}

// NewWriter starts a writer backed by db. Close must be called to flush
// queued work.
func NewWriter(db persister, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w := &Writer{
		db:      db,
		logger:  logger,
		jobs:    make(chan writeJob, writerQueueSize),
		done:    make(chan struct{}),
		backoff: writerRetryBackoff,
	}
	go w.run()
	return w
}

// SaveSession queues a session for persistence. It never blocks; if the
// queue is full the session is dropped with a warning.
func (w *Writer) SaveSession(s engine.Session) error {
	return w.enqueue(writeJob{session: &s})
}

// SaveCapacityProfile queues a profile update. It never blocks.
func (w *Writer) SaveCapacityProfile(p engine.CapacityProfile) error {
	return w.enqueue(writeJob{profile: &p})
}

func (w *Writer) enqueue(job writeJob) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.logger.Warn("storage writer closed, dropping write")
		return nil
	}
	select {
	case w.jobs <- job:
	default:
		w.logger.Warn("storage queue full, dropping write")
	}
	return nil
}

// Close stops accepting writes, drains the queue, and waits for the
// background goroutine to finish.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)
	for job := range w.jobs {
		w.process(job)
	}
}

func (w *Writer) process(job writeJob) {
	var lastErr error
	for attempt := 1; attempt <= writerMaxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(w.backoff * time.Duration(1<<(attempt-2)))
		}
		switch {
		case job.session != nil:
			lastErr = w.db.InsertSession(*job.session)
		case job.profile != nil:
			lastErr = w.db.SaveCapacityProfile(*job.profile)
		}
		if lastErr == nil {
			return
		}
	}
	switch {
	case job.session != nil:
		w.logger.Error("failed to persist session", "id", job.session.ID, "error", lastErr)
	case job.profile != nil:
		w.logger.Error("failed to persist capacity profile", "error", lastErr)
	}
}
