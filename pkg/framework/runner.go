package framework

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
)

// ErrForcedExit is returned by Wait when a second stop signal arrived
// before every Runnable returned.
var ErrForcedExit = errors.New("forced exit")

type runResult struct {
	name string
	err  error
}

// Runner runs the loop and the services beside it until the context is
// canceled. A Runnable that fails is logged right away and left stopped,
// the others keep running: losing telemetry never stops recording.
type Runner struct {
	ctx     context.Context
	cancel  context.CancelFunc
	running int
	doneCh  chan runResult
	forceCh chan struct{}
}

// NewRunner creates a Runner deriving its context from ctx.
func NewRunner(ctx context.Context) *Runner {
	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		ctx:     ctx,
		cancel:  cancel,
		doneCh:  make(chan runResult),
		forceCh: make(chan struct{}),
	}
}

// HandleSignals stops the Runner on SIGINT or SIGTERM. A second signal
// makes Wait give up on Runnables still stopping.
func (r *Runner) HandleSignals() *Runner {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		glog.Infof("%v: stopping", sig)
		r.cancel()
		<-sigCh
		glog.Error("stop requested again, force exit")
		close(r.forceCh)
	}()
	return r
}

// Go starts run. name is used in logs and errors; Runnables implementing
// Named may pass an empty name.
func (r *Runner) Go(name string, run Runnable) *Runner {
	if named, ok := run.(Named); ok && name == "" {
		name = named.Name()
	}
	if name == "" {
		name = fmt.Sprintf("runnable %d", r.running)
	}
	r.running++
	go func() {
		glog.V(4).Infof("%s started", name)
		err := run.Run(r.ctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			glog.V(4).Infof("%s stopped", name)
		case r.ctx.Err() == nil:
			glog.Errorf("%s failed: %v", name, err)
		}
		r.doneCh <- runResult{name: name, err: err}
	}()
	return r
}

// Stop cancels the context of every Runnable.
func (r *Runner) Stop() {
	r.cancel()
}

// Wait waits until every Runnable returned and joins their errors,
// cancellation excluded.
func (r *Runner) Wait() error {
	defer r.cancel()
	var errs []error
	for ; r.running > 0; r.running-- {
		select {
		case <-r.forceCh:
			return ErrForcedExit
		case res := <-r.doneCh:
			if res.err != nil && !errors.Is(res.err, context.Canceled) {
				errs = append(errs, fmt.Errorf("%s: %w", res.name, res.err))
			}
		}
	}
	return errors.Join(errs...)
}
