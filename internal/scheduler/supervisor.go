package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"pairwatch/internal/logging"
)

// Loop is one supervised long-running body. Run is expected to block
// until its context is cancelled; returning early (or panicking) counts
// as a failure and triggers a restart.
type Loop struct {
	Name string
	Run  func(ctx context.Context) error
}

type loopFailure struct {
	name string
	err  error
}

// Supervisor owns a set of loops and keeps each of them alive
// independently: one loop's crash is logged and restarted with backoff
// while the others keep running untouched.
type Supervisor struct {
	loops      []Loop
	restartMin time.Duration
	restartMax time.Duration
	logger     zerolog.Logger
}

// NewSupervisor constructs an empty supervisor.
func NewSupervisor(logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		restartMin: time.Second,
		restartMax: time.Minute,
		logger:     logging.Component(logger, "supervisor"),
	}
}

// Add registers a loop to supervise. Must be called before Run.
func (s *Supervisor) Add(name string, run func(ctx context.Context) error) {
	s.loops = append(s.loops, Loop{Name: name, Run: run})
}

// Run starts every registered loop and blocks until ctx is cancelled and
// all loops have stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.loops) == 0 {
		return errors.New("supervisor: no loops registered")
	}

	failures := make(chan loopFailure, len(s.loops))
	var wg sync.WaitGroup
	for _, loop := range s.loops {
		wg.Add(1)
		go func(loop Loop) {
			defer wg.Done()
			s.supervise(ctx, loop, failures)
		}(loop)
	}

	go func() {
		wg.Wait()
		close(failures)
	}()

	for failure := range failures {
		s.logger.Error().Err(failure.err).Str("loop", failure.name).Msg("loop terminated abnormally; restarting")
	}

	return ctx.Err()
}

func (s *Supervisor) supervise(ctx context.Context, loop Loop, failures chan<- loopFailure) {
	delay := &backoff.Backoff{
		Min:    s.restartMin,
		Max:    s.restartMax,
		Factor: 2,
	}

	for {
		started := time.Now()
		err := runRecovered(ctx, loop.Run)

		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("loop body returned without error before shutdown")
		}

		// A loop that stayed up for a while earned a fresh backoff.
		if time.Since(started) > 2*s.restartMax {
			delay.Reset()
		}

		failures <- loopFailure{name: loop.Name, err: err}

		timer := time.NewTimer(delay.Duration())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func runRecovered(ctx context.Context, run func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loop panicked: %v", r)
		}
	}()

	err = run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}
