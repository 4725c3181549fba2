// Package dispatcher runs background tasks detached from the HTTP
// request that triggered them, adapted from the immediate-queue pattern
// in the uploadask reference pack. Unlike that queue, Background strips
// the caller's cancellation/deadline before handing the context to the
// task: request cancellation must never interrupt background work
// (spec requirement), and each task gets its own per-call timeouts.
package dispatcher

import (
	"context"
	"log/slog"

	"github.com/studyforge/notebook-api/internal/domain/rag"
)

// Background dispatches tasks onto their own goroutine with a detached
// context. It never retries; idempotency is the task's responsibility.
type Background struct {
	logger *slog.Logger
}

// New constructs a Background dispatcher.
func New(logger *slog.Logger) *Background {
	return &Background{logger: logger.With("component", "rag.dispatcher")}
}

var _ rag.Dispatcher = (*Background)(nil)

// Dispatch runs task on a new goroutine with a context that outlives the
// caller's request, recovering from panics so one failed task can never
// take down the process.
func (d *Background) Dispatch(task func(ctx context.Context)) {
	ctx := context.WithoutCancel(context.Background())
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("background task panicked", "panic", r)
			}
		}()
		task(ctx)
	}()
}
