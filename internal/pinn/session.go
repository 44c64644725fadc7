package pinn

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jwaldner/pinnbs/internal/logger"
)

// SessionOptions configure how a Session shares its model.
type SessionOptions struct {
	// AllowStaleReads lets Snapshot return the latest in-flight parameters
	// while a run is active instead of failing with ErrTrainingInProgress.
	AllowStaleReads bool
}

// Status is a point-in-time view of a session.
type Status struct {
	RunID     int           `json:"run_id"`
	State     State         `json:"state"`
	Iteration int           `json:"iteration"`
	Epochs    int           `json:"epochs"`
	Losses    Losses        `json:"losses"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	Trained   bool          `json:"trained"`
}

// Result is the outcome of a finished run.
type Result struct {
	State      State         `json:"state"`
	Iterations int           `json:"iterations"`
	Losses     Losses        `json:"losses"`
	Trace      Trace         `json:"trace"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Session owns the model state and loss trace of one training lifecycle:
// Idle → Running → {Converged, Completed, Stopped, Failed}. Starting again
// from any non-running state begins from freshly initialized parameters.
type Session struct {
	opts SessionOptions
	bc   broadcaster

	mu        sync.RWMutex
	state     State
	runID     int
	cfg       TrainConfig
	trace     Trace
	iteration int
	losses    Losses
	err       error
	started   time.Time
	elapsed   time.Duration
	live      *Snapshot
	trained   *Snapshot
	done      chan struct{}
	cancel    context.CancelFunc

	stop atomic.Bool
}

// NewSession creates an idle session.
func NewSession(opts SessionOptions) *Session {
	return &Session{opts: opts, state: StateIdle}
}

// Observe registers o for every subsequent event.
func (s *Session) Observe(o Observer) {
	s.bc.observe(o)
}

// Subscribe returns a channel of events and a function that unsubscribes
// and closes it. Intermediate events are dropped when the buffer is full.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	return s.bc.subscribe(buffer)
}

// Start validates cfg, resets the model and trace, and trains on a new
// goroutine until the run reaches a terminal state.
func (s *Session) Start(ctx context.Context, cfg TrainConfig) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	running := s.state == StateRunning
	s.mu.RUnlock()
	if running {
		return ErrTrainingInProgress
	}

	// the graph is built unlocked; a racing Start is caught below
	model, err := NewModel(cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		model.Close()
		return ErrTrainingInProgress
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runID++
	s.state = StateRunning
	s.cfg = cfg
	s.trace = Trace{}
	s.iteration = 0
	s.losses = Losses{}
	s.err = nil
	s.started = time.Now()
	s.elapsed = 0
	s.live = nil
	s.trained = nil
	s.done = make(chan struct{})
	s.cancel = cancel
	s.stop.Store(false)
	runID, done := s.runID, s.done
	s.mu.Unlock()

	logger.Info.Printf("🧠 PINN run %d started: %s K=%.4g T=%.4g r=%.4g σ=%.4g | epochs=%d lr=%g hidden=%v",
		runID, cfg.Contract.Type, cfg.Contract.Strike, cfg.Contract.Expiry, cfg.Contract.Rate,
		cfg.Contract.Volatility, cfg.Epochs, cfg.LearningRate, cfg.Hidden)

	go s.loop(runCtx, runID, model, cfg, done)
	return nil
}

// Run starts a run and blocks until it ends. A divergent run returns its
// result together with ErrTrainingDivergence.
func (s *Session) Run(ctx context.Context, cfg TrainConfig) (Result, error) {
	if err := s.Start(ctx, cfg); err != nil {
		return Result{}, err
	}
	return s.Wait(ctx)
}

// Wait blocks until the current run ends or ctx is done.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	if done == nil {
		return Result{State: StateIdle}, nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	res := Result{
		State:      s.state,
		Iterations: s.iteration,
		Losses:     s.losses,
		Trace:      s.trace.clone(),
		Elapsed:    s.elapsed,
	}
	return res, s.err
}

// Stop asks the active run to end at its next step boundary. It reports
// whether a run was active.
func (s *Session) Stop() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateRunning {
		return false
	}
	s.stop.Store(true)
	return true
}

// Close stops any active run and waits for it to end.
func (s *Session) Close() error {
	s.mu.RLock()
	cancel, done := s.cancel, s.done
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}

// Status reports the current state and latest losses.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		RunID:     s.runID,
		State:     s.state,
		Iteration: s.iteration,
		Epochs:    s.cfg.Epochs,
		Losses:    s.losses,
		Elapsed:   s.elapsed,
		Trained:   s.trained != nil,
	}
	if s.state == StateRunning {
		st.Elapsed = time.Since(s.started)
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	return st
}

// History returns a copy of the loss trace of the current or last run.
func (s *Session) History() Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trace.clone()
}

// Config returns the configuration of the current or last run.
func (s *Session) Config() TrainConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Snapshot returns the parameters of the last run that converged, completed
// or was stopped after at least one iteration. While a run is
// active it fails with ErrTrainingInProgress, or returns the latest in-flight
// copy when AllowStaleReads is set.
func (s *Session) Snapshot() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateRunning {
		if !s.opts.AllowStaleReads {
			return nil, ErrTrainingInProgress
		}
		if s.live == nil {
			return nil, ErrModelNotTrained
		}
		return s.live, nil
	}
	if s.trained == nil {
		return nil, ErrModelNotTrained
	}
	return s.trained, nil
}

func (s *Session) loop(ctx context.Context, runID int, m *Model, cfg TrainConfig, done chan struct{}) {
	defer close(done)
	defer m.Close()

	sampler := NewSampler(cfg, cfg.Seed+1)
	var batch Batch
	var last Losses
	it := 0
	for ; it < cfg.Epochs; it++ {
		// step boundary: the tape machine pins its OS thread while it runs,
		// so readers and stop requests get their turn here
		runtime.Gosched()
		if s.stop.Load() || ctx.Err() != nil {
			s.finish(runID, m, StateStopped, it, last, nil)
			return
		}
		if it%cfg.ResampleEvery == 0 {
			batch = sampler.Sample()
		}

		l, err := m.Step(batch)
		if err != nil {
			if !errors.Is(err, ErrTrainingDivergence) {
				err = fmt.Errorf("%w: %v", ErrTrainingDivergence, err)
			}
			logger.Warn.Printf("⚠️  PINN run %d failed at iteration %d: %v", runID, it+1, err)
			s.finish(runID, m, StateFailed, it, last, err)
			return
		}
		last = l
		s.record(runID, m, cfg, it+1, l)

		if cfg.Threshold > 0 && l.Total < cfg.Threshold {
			s.finish(runID, m, StateConverged, it+1, l, nil)
			return
		}
	}
	s.finish(runID, m, StateCompleted, it, last, nil)
}

// record appends one iteration to the trace and publishes progress.
func (s *Session) record(runID int, m *Model, cfg TrainConfig, iteration int, l Losses) {
	var live *Snapshot
	if iteration%cfg.SnapshotEvery == 0 {
		live = m.Snapshot(iteration, l.Total)
	}

	s.mu.Lock()
	s.trace.append(l)
	s.iteration = iteration
	s.losses = l
	if live != nil {
		s.live = live
	}
	elapsed := time.Since(s.started)
	s.mu.Unlock()

	if iteration%500 == 0 {
		logger.Debug.Printf("📉 PINN run %d iteration %d/%d: loss=%.6g (pde=%.6g terminal=%.6g boundary=%.6g)",
			runID, iteration, cfg.Epochs, l.Total, l.PDE, l.Terminal, l.Boundary)
	}
	if iteration%cfg.EmitEvery == 0 {
		s.bc.emit(Event{
			RunID:     runID,
			Iteration: iteration,
			Epochs:    cfg.Epochs,
			Losses:    l,
			State:     StateRunning,
			Elapsed:   elapsed,
		})
	}
}

func (s *Session) finish(runID int, m *Model, state State, iteration int, l Losses, err error) {
	// a stopped run keeps whatever it learned
	var sn *Snapshot
	if state.Successful() || (state == StateStopped && iteration > 0) {
		sn = m.Snapshot(iteration, l.Total)
	}

	s.mu.Lock()
	s.state = state
	s.err = err
	s.elapsed = time.Since(s.started)
	if sn != nil {
		s.trained = sn
		s.live = sn
	}
	cfg := s.cfg
	trace := s.trace.clone()
	elapsed := s.elapsed
	s.mu.Unlock()

	logger.Info.Printf("🏁 PINN run %d %s after %d iterations in %v: loss=%.6g",
		runID, state, iteration, elapsed.Round(time.Millisecond), l.Total)

	e := Event{
		RunID:     runID,
		Iteration: iteration,
		Epochs:    cfg.Epochs,
		Losses:    l,
		State:     state,
		Final:     true,
		Elapsed:   elapsed,
		Config:    &cfg,
		Trace:     &trace,
	}
	if err != nil {
		e.Error = err.Error()
	}
	s.bc.emit(e)
}
