package async

import (
	"context"
	"time"
)

// Job asks for one workflow run over an uploaded report.
type Job struct {
	RunID       string
	Key         string // storage key of the report
	Force       bool   // enqueue even if the run is already queued or running
	SubmittedAt time.Time
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// Handler executes a job.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }
