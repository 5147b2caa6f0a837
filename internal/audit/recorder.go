// Package audit persists finished turns for diagnostics and prunes old ones.
package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kalambet/dialogo/internal/conversation"
	"github.com/kalambet/dialogo/internal/storage"
)

// TurnSaver abstracts the turn log.
type TurnSaver interface {
	SaveTurn(t storage.Turn) error
}

// Recorder queues finished turns and writes them from a single goroutine so
// that RunTurn never waits on the database.
type Recorder struct {
	store   TurnSaver
	queue   chan storage.Turn
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewRecorder creates a Recorder with the given queue size.
// If queueSize is <= 0, it defaults to 256.
func NewRecorder(store TurnSaver, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Recorder{
		store:  store,
		queue:  make(chan storage.Turn, queueSize),
		logger: slog.Default(),
	}
}

// ObserveTurn enqueues t. A full queue drops the turn with a warning.
func (r *Recorder) ObserveTurn(t conversation.Turn) {
	select {
	case r.queue <- toStorage(t):
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit queue full, dropping turn", "turn_id", t.ID)
	}
}

// Dropped returns the number of turns lost to a full queue.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Run writes queued turns until ctx is cancelled, then drains what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case t := <-r.queue:
			r.save(t)
		case <-ctx.Done():
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case t := <-r.queue:
			r.save(t)
		default:
			return
		}
	}
}

func (r *Recorder) save(t storage.Turn) {
	if err := r.store.SaveTurn(t); err != nil {
		r.logger.Error("saving turn failed", "turn_id", t.ID, "error", err)
	}
}

func toStorage(t conversation.Turn) storage.Turn {
	path := make([]string, len(t.Path))
	for i, p := range t.Path {
		path[i] = string(p)
	}
	return storage.Turn{
		ID:                 t.ID,
		SenderID:           t.SenderID,
		CreatedAt:          t.CreatedAt,
		Message:            t.Message,
		Intent:             string(t.Intent),
		Stage:              string(t.Stage),
		Confidence:         t.Confidence,
		NeedsClarification: t.NeedsClarification,
		Response:           t.Response,
		Error:              t.Error,
		Path:               path,
		FallbackPhase:      t.FallbackPhase,
		DurationMS:         t.Duration.Milliseconds(),
	}
}

// since returns the time elapsed from start rounded to milliseconds.
func since(start time.Time) time.Duration {
	return time.Since(start).Round(time.Millisecond)
}
