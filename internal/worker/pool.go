// Package worker runs the fixed-size pool of thumbnail workers.
//
// Every worker pops one job at a time from the shared queue, generates its
// thumbnail and reports exactly one line per job to the log sink. Workers
// stop once the queue reports that no more work will arrive.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/thumbnailer/internal/model"
	"github.com/aliskhannn/thumbnailer/internal/queue"
)

// DefaultSize is the pool size used when a non-positive size is requested.
const DefaultSize = 4

// DefaultBackoff is the pause after a failed pop that was not caused by a closed queue.
const DefaultBackoff = 500 * time.Millisecond

// ErrPanic wraps a panic recovered while processing a job.
var ErrPanic = errors.New("panic while processing job")

// State is the lifecycle state of a single worker.
type State int32

const (
	Starting State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// source is the consuming side of a queue.Queue.
type source interface {
	Pop(ctx context.Context) (model.Job, error)
}

// generator computes the thumbnail of a job and returns its path.
type generator interface {
	Generate(ctx context.Context, job model.Job) (string, error)
}

// sink receives one status line per job.
type sink interface {
	Send(line string) error
}

// Pool is a fixed set of symmetric workers sharing one queue.
type Pool struct {
	source    source
	generator generator
	sink      sink
	backoff   time.Duration

	states  []atomic.Int32
	started atomic.Bool
	wg      conc.WaitGroup
	done    chan struct{}
}

// New creates a pool of size workers. Workers do not run until Start is called.
func New(size int, src source, g generator, s sink) *Pool {
	if size <= 0 {
		size = DefaultSize
	}

	return &Pool{
		source:    src,
		generator: g,
		sink:      s,
		backoff:   DefaultBackoff,
		states:    make([]atomic.Int32, size),
		done:      make(chan struct{}),
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.states)
}

// Start launches the workers. ctx bounds every pop and thumbnail computation;
// the regular way to stop the pool is to close its queue. Start is a no-op
// after the first call.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	for id := range p.states {
		p.wg.Go(func() {
			p.run(ctx, id)
		})
	}

	go func() {
		defer close(p.done)
		p.wg.Wait()
	}()

	zlog.Logger.Info().Int("workers", p.Size()).Msg("worker pool started")
}

// Wait blocks until every worker is Stopped.
func (p *Pool) Wait() {
	if !p.started.Load() {
		return
	}
	<-p.done
}

// Done is closed once every worker is Stopped.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// State reports the state of worker id. Ids run from 0 to Size()-1.
func (p *Pool) State(id int) State {
	if id < 0 || id >= len(p.states) {
		return Stopped
	}
	return State(p.states[id].Load())
}

func (p *Pool) setState(id int, s State) {
	p.states[id].Store(int32(s))
}

func (p *Pool) run(ctx context.Context, id int) {
	log := zlog.Logger.With().Int("worker", id).Logger()

	p.setState(id, Running)
	log.Info().Msg("worker started")

	for {
		job, err := p.source.Pop(ctx)
		if err != nil {
			switch {
			case errors.Is(err, queue.ErrClosed), ctx.Err() != nil:
				p.setState(id, Draining)
				log.Info().Msg("no more jobs, exiting")
				p.setState(id, Stopped)
				return

			case errors.Is(err, queue.ErrInvalidPayload):
				log.Error().Err(err).Msg("dropping invalid job")
				p.report(id, fmt.Sprintf("worker %d dropped invalid job: %v", id, err))

			default:
				log.Error().Err(err).Msg("failed to pop job")
				p.sleep(ctx)
			}
			continue
		}

		p.handle(ctx, id, job)
	}
}

// handle processes one job and reports exactly one line for it.
func (p *Pool) handle(ctx context.Context, id int, job model.Job) {
	log := zlog.Logger.With().Int("worker", id).Uint64("job_id", job.ID).Str("file", job.FileName).Logger()

	log.Info().Msg("processing job")

	thumb, err := p.generate(ctx, job)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate thumbnail")
		p.report(id, fmt.Sprintf("worker %d failed job %d for: %s: %v", id, job.ID, job.FileName, err))
		return
	}

	log.Info().Str("thumbnail", thumb).Msg("finished processing job")
	p.report(id, fmt.Sprintf("worker %d processed job %d for: %s -> %s", id, job.ID, job.FileName, thumb))
}

// generate runs the thumbnail computation, turning a panic into an error.
func (p *Pool) generate(ctx context.Context, job model.Job) (thumb string, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		thumb, err = p.generator.Generate(ctx, job)
	})

	if r := pc.Recovered(); r != nil {
		zlog.Logger.Error().Str("stack", string(r.Stack)).Uint64("job_id", job.ID).Msg("recovered panic")
		return "", fmt.Errorf("%w: %v", ErrPanic, r.Value)
	}

	return thumb, err
}

func (p *Pool) report(id int, line string) {
	if err := p.sink.Send(line); err != nil {
		zlog.Logger.Error().Err(err).Int("worker", id).Str("line", line).Msg("failed to send log line")
	}
}

func (p *Pool) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()

	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
