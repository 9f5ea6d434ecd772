// Package dispatcher serializes result delivery from many workers onto one
// sink.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-scraper/internal/scraper"
)

// ErrClosed is returned by Deliver after Close.
var ErrClosed = errors.New("dispatcher closed")

type delivery struct {
	ctx   context.Context
	res   scraper.Result
	reply chan error
}

// Dispatcher owns every invocation of the wrapped sink from a single
// goroutine. Workers hand results over and block until the sink has
// answered, so each sink error is returned to the worker that produced the
// result.
type Dispatcher struct {
	sink   scraper.Sink
	logger *zap.Logger

	requests  chan delivery
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	delivered int
}

// New creates a Dispatcher and starts its consumer goroutine.
func New(sink scraper.Sink, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		sink:     sink,
		logger:   logger,
		requests: make(chan delivery),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		select {
		case req := <-d.requests:
			req.reply <- d.invoke(req)
		case <-d.quit:
			return
		}
	}
}

func (d *Dispatcher) invoke(req delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	// A fetched result is handed to the sink even if the run is being
	// canceled.
	if err := d.sink.Deliver(context.WithoutCancel(req.ctx), req.res); err != nil {
		return err
	}
	d.delivered++
	return nil
}

// Deliver implements scraper.Sink. It blocks until the wrapped sink returns.
func (d *Dispatcher) Deliver(ctx context.Context, res scraper.Result) error {
	req := delivery{ctx: ctx, res: res, reply: make(chan error, 1)}
	select {
	case d.requests <- req:
	case <-d.done:
		return ErrClosed
	}
	return <-req.reply
}

// Close stops the consumer goroutine once in-flight deliveries are answered.
// It returns the number of results the sink accepted.
func (d *Dispatcher) Close() int {
	d.closeOnce.Do(func() {
		close(d.quit)
	})
	<-d.done
	d.logger.Debug("dispatcher stopped", zap.Int("delivered", d.delivered))
	return d.delivered
}
