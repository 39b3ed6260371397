package relay

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/zudduz/cscratch-dg/internal/types"
)

// Dispatcher accepts normalized events and hands them to a fixed pool of
// delivery workers through a buffered channel. Submit returns immediately:
// the gateway's read loop is never held open waiting on network I/O.
//
// The queue gives the fire-and-forget model a backpressure bound. A full
// queue drops the event rather than blocking — relay is best-effort.
type Dispatcher struct {
	queue   chan *Event
	worker  *Worker
	tracker ticketResolver
	workers int
	logger  types.Logger

	group *errgroup.Group
}

// NewDispatcher creates a dispatcher with the given queue capacity and pool
// size. Start must be called before Submit.
func NewDispatcher(worker *Worker, tracker ticketResolver, queueSize, workers int, logger types.Logger) *Dispatcher {
	return &Dispatcher{
		queue:   make(chan *Event, queueSize),
		worker:  worker,
		tracker: tracker,
		workers: workers,
		logger:  logger,
	}
}

// Start launches the worker pool. The pool is detached from ctx's
// cancellation: process shutdown stops it through Close, which lets queued
// and in-flight deliveries finish instead of cutting them off mid-retry.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	d.group = &errgroup.Group{}

	for i := 0; i < d.workers; i++ {
		d.group.Go(func() error {
			for ev := range d.queue {
				d.worker.Deliver(ctx, ev)
			}
			return nil
		})
	}
}

// Submit enqueues an event for asynchronous delivery and returns immediately.
// When the queue is full the event is logged and dropped; a dropped
// interactive event has its ticket resolved as aborted so the placeholder
// does not hang until expiry.
func (d *Dispatcher) Submit(ev *Event) {
	select {
	case d.queue <- ev:
	default:
		d.logger.Error("relay queue full, dropping event",
			"kind", string(ev.Kind),
			"channel_id", ev.Context.ChannelID,
		)
		if ev.Ticket != nil {
			// Resolution may withdraw the placeholder over HTTP; that must
			// not run on the caller's goroutine, which is the gateway read
			// loop.
			go d.tracker.Resolve(ev.Ticket, OutcomeAborted)
		}
	}
}

// Close stops accepting events, drains the queue, and waits for in-flight
// deliveries to finish. Submit must not be called after Close.
func (d *Dispatcher) Close() error {
	close(d.queue)
	return d.group.Wait()
}
