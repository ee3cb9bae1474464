package dispatch

import (
	"context"
	"sync"

	errspkg "github.com/drblury/mediator/internal/dispatch/errors"
	"github.com/drblury/mediator/internal/dispatch/logging"
)

// Invocation is one prepared notification handler run. The dispatcher builds
// the slice in resolved handler order; strategies decide how the runs execute.
type Invocation struct {
	Handler string
	Run     func(ctx context.Context) error
}

// NotificationPublisher executes the matched handler invocations of one
// Publish call.
type NotificationPublisher interface {
	PublishAll(ctx context.Context, invocations []Invocation) error
	// Wait blocks until detached work started by earlier PublishAll calls has
	// drained. Strategies without detached work return immediately.
	Wait()
}

// SequentialPublisher runs every invocation in resolved order on the calling
// goroutine. One handler's fault never prevents the remaining handlers from
// running; the faults are collected into a single AggregateFault.
type SequentialPublisher struct{}

func NewSequentialPublisher() *SequentialPublisher { return &SequentialPublisher{} }

func (p *SequentialPublisher) PublishAll(ctx context.Context, invocations []Invocation) error {
	var faults []error
	for _, inv := range invocations {
		if err := inv.Run(ctx); err != nil {
			faults = append(faults, err)
		}
	}
	if len(faults) > 0 {
		return &errspkg.AggregateFault{Faults: faults}
	}
	return nil
}

func (p *SequentialPublisher) Wait() {}

// ParallelWaitAllPublisher starts every invocation concurrently, in resolved
// order, and waits for all of them before returning. Faults are reported in
// resolved order regardless of completion order.
type ParallelWaitAllPublisher struct{}

func NewParallelWaitAllPublisher() *ParallelWaitAllPublisher {
	return &ParallelWaitAllPublisher{}
}

func (p *ParallelWaitAllPublisher) PublishAll(ctx context.Context, invocations []Invocation) error {
	results := make([]error, len(invocations))
	var wg sync.WaitGroup
	wg.Add(len(invocations))
	for i, inv := range invocations {
		go func(slot int, inv Invocation) {
			defer wg.Done()
			results[slot] = inv.Run(ctx)
		}(i, inv)
	}
	wg.Wait()

	var faults []error
	for _, err := range results {
		if err != nil {
			faults = append(faults, err)
		}
	}
	if len(faults) > 0 {
		return &errspkg.AggregateFault{Faults: faults}
	}
	return nil
}

func (p *ParallelWaitAllPublisher) Wait() {}

// FireAndForgetPublisher detaches every invocation onto its own goroutine and
// returns immediately. Faults never reach the publishing caller; they are
// logged instead. Wait drains the in-flight goroutines, for orderly shutdown.
type FireAndForgetPublisher struct {
	logger logging.ServiceLogger
	wg     sync.WaitGroup
}

func NewFireAndForgetPublisher(logger logging.ServiceLogger) *FireAndForgetPublisher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FireAndForgetPublisher{logger: logger}
}

func (p *FireAndForgetPublisher) PublishAll(ctx context.Context, invocations []Invocation) error {
	// Detached handlers may outlive the publishing caller's scope: keep the
	// dispatch metadata values but drop the caller's cancel edge.
	detached := context.WithoutCancel(ctx)
	for _, inv := range invocations {
		p.wg.Add(1)
		go func(inv Invocation) {
			defer p.wg.Done()
			if err := inv.Run(detached); err != nil {
				p.logger.Error("Detached notification handler failed", err, logging.LogFields{
					"handler": inv.Handler,
				})
			}
		}(inv)
	}
	return nil
}

func (p *FireAndForgetPublisher) Wait() {
	p.wg.Wait()
}
