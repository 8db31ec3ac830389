// Package dispatch runs the worker side of the job pipeline: it drains the
// two queue tiers, resolves each delivery to a handler, and records the
// attempt outcome so at-least-once redelivery converges on success.
package dispatch

import (
	"context"

	"github.com/croplens/croplens/internal/domain/jobs"
)

// HandlerResult reports a successful attempt. A handler that wants a
// terminal status other than DONE (an alerts pass that found nothing still
// completes, for example) sets Status; empty means DONE.
type HandlerResult struct {
	Status  jobs.JobStatus
	Metrics map[string]any
}

// Handler executes one job type. Returning an error marks the attempt
// FAILED and leaves the queue message in place for redelivery.
type Handler interface {
	Handle(ctx context.Context, job *jobs.Job) (HandlerResult, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *jobs.Job) (HandlerResult, error)

func (f HandlerFunc) Handle(ctx context.Context, job *jobs.Job) (HandlerResult, error) {
	return f(ctx, job)
}

// HandlerRegistry maps job types to their handlers. Registration happens
// once at startup; lookups are read-only afterwards, so no locking.
type HandlerRegistry struct {
	handlers map[jobs.JobType]Handler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[jobs.JobType]Handler)}
}

// Register binds a handler to a job type, replacing any previous binding.
func (r *HandlerRegistry) Register(jobType jobs.JobType, h Handler) {
	r.handlers[jobType] = h
}

// Resolve returns the handler for a job type, or false if none is bound.
func (r *HandlerRegistry) Resolve(jobType jobs.JobType) (Handler, bool) {
	h, ok := r.handlers[jobType]
	return h, ok
}
