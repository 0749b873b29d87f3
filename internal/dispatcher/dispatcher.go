// Package dispatcher owns the lifecycle of the log sink, the worker pool and the HTTP server.
//
// Startup order is sink, workers, HTTP. Shutdown runs in reverse: stop HTTP,
// close the queue, wait for the workers to stop, close the sink.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/wb-go/wbf/zlog"
)

var (
	// ErrAlreadyStarted is returned by Start when called more than once.
	ErrAlreadyStarted = errors.New("dispatcher already started")

	// ErrAlreadyStopped is returned by Shutdown after the first call.
	ErrAlreadyStopped = errors.New("dispatcher already stopped")
)

// httpServer is satisfied by *http.Server.
type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// pool is satisfied by *worker.Pool.
type pool interface {
	Start(ctx context.Context)
	Done() <-chan struct{}
}

// Dispatcher wires the queue, the workers and the log sink together.
type Dispatcher struct {
	sink   io.Closer
	queue  io.Closer
	pool   pool
	server httpServer // nil runs workers only

	started  atomic.Bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	errs     chan error
}

// New creates a Dispatcher. The sink must already be open: workers may log
// from their first job on.
func New(sink io.Closer, q io.Closer, p pool, srv httpServer) *Dispatcher {
	return &Dispatcher{
		sink:   sink,
		queue:  q,
		pool:   p,
		server: srv,
		cancel: func() {},
		errs:   make(chan error, 1),
	}
}

// Start launches the workers, then the HTTP server. Workers keep running until
// Shutdown closes the queue; canceling ctx does not stop them.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel

	d.pool.Start(runCtx)

	if d.server != nil {
		go func() {
			zlog.Logger.Info().Msg("http server started")
			if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zlog.Logger.Error().Err(err).Msg("http server failed")
				d.errs <- err
			}
		}()
	}

	return nil
}

// Errors reports a failure of the HTTP server.
func (d *Dispatcher) Errors() <-chan error {
	return d.errs
}

// Shutdown stops HTTP, closes the queue, waits for the workers and closes
// the sink. If ctx expires before the workers stop, their in-flight pops and
// thumbnail computations are canceled. Only the first call has an effect;
// later calls return ErrAlreadyStopped.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	err := ErrAlreadyStopped
	d.stopOnce.Do(func() {
		err = d.shutdown(ctx)
	})
	return err
}

func (d *Dispatcher) shutdown(ctx context.Context) error {
	var errs []error

	if d.server != nil && d.started.Load() {
		zlog.Logger.Info().Msg("shutting down http server")
		if err := d.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
	}

	zlog.Logger.Info().Msg("closing queue")
	if err := d.queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close queue: %w", err))
	}

	if d.started.Load() {
		zlog.Logger.Info().Msg("waiting for workers")
		select {
		case <-d.pool.Done():
		case <-ctx.Done():
			d.cancel()
			<-d.pool.Done()
			errs = append(errs, fmt.Errorf("wait for workers: %w", ctx.Err()))
		}
	}
	d.cancel()

	zlog.Logger.Info().Msg("closing log sink")
	if err := d.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close log sink: %w", err))
	}

	return errors.Join(errs...)
}
