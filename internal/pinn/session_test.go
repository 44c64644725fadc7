package pinn

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)
	return ctx
}

func TestSessionNotTrainedBeforeRun(t *testing.T) {
	s := NewSession(SessionOptions{})
	if _, err := s.Snapshot(); !errors.Is(err, ErrModelNotTrained) {
		t.Fatalf("expected ErrModelNotTrained, got %v", err)
	}
	if st := s.Status(); st.State != StateIdle || st.Trained {
		t.Errorf("unexpected idle status %+v", st)
	}
	if s.Stop() {
		t.Errorf("Stop on an idle session should report false")
	}
}

func TestSessionRunCompletes(t *testing.T) {
	s := NewSession(SessionOptions{})
	defer s.Close()

	var mu sync.Mutex
	var events []Event
	s.Observe(ObserverFunc(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}))

	cfg := smallConfig()
	res, err := s.Run(waitCtx(t), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateCompleted {
		t.Fatalf("state = %s, want completed", res.State)
	}
	if res.Iterations != cfg.Epochs || res.Trace.Len() != cfg.Epochs {
		t.Errorf("iterations %d, trace %d, want %d", res.Iterations, res.Trace.Len(), cfg.Epochs)
	}
	for i, v := range res.Trace.Total {
		if v < 0 {
			t.Fatalf("negative loss at %d: %v", i, v)
		}
	}

	sn, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !sn.Trained() || sn.Iteration != cfg.Epochs {
		t.Errorf("unexpected snapshot iteration %d", sn.Iteration)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != cfg.Epochs+1 {
		t.Fatalf("got %d events, want %d progress + 1 final", len(events), cfg.Epochs)
	}
	for i, e := range events[:cfg.Epochs] {
		if e.Iteration != i+1 || e.State != StateRunning || e.Final {
			t.Fatalf("event %d out of order: %+v", i, e)
		}
	}
	last := events[len(events)-1]
	if !last.Final || last.State != StateCompleted || last.Trace == nil || last.Config == nil {
		t.Errorf("bad final event %+v", last)
	}
}

func TestSessionConvergesBelowThreshold(t *testing.T) {
	s := NewSession(SessionOptions{})
	defer s.Close()

	cfg := smallConfig()
	cfg.Epochs = 1000
	cfg.Threshold = 1e6 // the first loss is already below it
	res, err := s.Run(waitCtx(t), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateConverged || res.Iterations != 1 {
		t.Errorf("state %s after %d iterations, want converged after 1", res.State, res.Iterations)
	}
	if _, err := s.Snapshot(); err != nil {
		t.Errorf("converged run should leave a model: %v", err)
	}
}

func TestSessionDivergenceFails(t *testing.T) {
	s := NewSession(SessionOptions{})
	defer s.Close()

	cfg := smallConfig()
	// the rate term alone overflows the squared residual
	cfg.Contract.Rate = 1e200
	res, err := s.Run(waitCtx(t), cfg)
	if !errors.Is(err, ErrTrainingDivergence) {
		t.Fatalf("expected ErrTrainingDivergence, got %v", err)
	}
	if res.State != StateFailed {
		t.Errorf("state = %s, want failed", res.State)
	}
	if _, err := s.Snapshot(); !errors.Is(err, ErrModelNotTrained) {
		t.Errorf("failed run should not leave a model, got %v", err)
	}
	if st := s.Status(); st.Error == "" {
		t.Errorf("status should carry the failure")
	}

	// a fresh run is allowed after a failure
	res, err = s.Run(waitCtx(t), smallConfig())
	if err != nil || res.State != StateCompleted {
		t.Fatalf("restart after failure: state %s, err %v", res.State, err)
	}
}

func TestSessionStopAndRejectsConcurrentStart(t *testing.T) {
	s := NewSession(SessionOptions{})
	defer s.Close()

	events, unsubscribe := s.Subscribe(16)
	defer unsubscribe()

	started := make(chan struct{})
	final := make(chan State, 1)
	go func() {
		first := true
		for e := range events {
			if first {
				close(started)
				first = false
			}
			if e.Final {
				final <- e.State
				return
			}
		}
	}()

	cfg := smallConfig()
	cfg.Epochs = 1_000_000
	if err := s.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background(), cfg); !errors.Is(err, ErrTrainingInProgress) {
		t.Errorf("second Start: expected ErrTrainingInProgress, got %v", err)
	}
	if _, err := s.Snapshot(); !errors.Is(err, ErrTrainingInProgress) {
		t.Errorf("Snapshot while running: expected ErrTrainingInProgress, got %v", err)
	}

	select {
	case <-started:
	case <-time.After(time.Minute):
		t.Fatal("no progress event")
	}
	if !s.Stop() {
		t.Fatal("Stop should report an active run")
	}

	res, err := s.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.State != StateStopped {
		t.Fatalf("state = %s, want stopped", res.State)
	}
	if res.Iterations == 0 || res.Iterations >= cfg.Epochs {
		t.Errorf("stopped after %d iterations", res.Iterations)
	}
	if _, err := s.Snapshot(); err != nil {
		t.Errorf("stopped run should keep its parameters: %v", err)
	}

	select {
	case st := <-final:
		if st != StateStopped {
			t.Errorf("final event state %s", st)
		}
	case <-time.After(time.Minute):
		t.Fatal("no final event")
	}
}

func TestSessionStaleReads(t *testing.T) {
	s := NewSession(SessionOptions{AllowStaleReads: true})
	defer s.Close()

	events, unsubscribe := s.Subscribe(64)
	defer unsubscribe()

	cfg := smallConfig()
	cfg.Epochs = 1_000_000
	cfg.SnapshotEvery = 2
	if err := s.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for e := range events {
		if e.Iteration >= 2 {
			break
		}
	}
	sn, err := s.Snapshot()
	if err != nil {
		t.Fatalf("stale snapshot: %v", err)
	}
	if sn.Iteration < 2 {
		t.Errorf("stale snapshot iteration %d", sn.Iteration)
	}
	s.Stop()
}

func TestSessionRestartResetsTrace(t *testing.T) {
	s := NewSession(SessionOptions{})
	defer s.Close()

	cfg := smallConfig()
	cfg.Epochs = 5
	if _, err := s.Run(waitCtx(t), cfg); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := s.History()

	cfg.Epochs = 3
	if _, err := s.Run(waitCtx(t), cfg); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := s.History().Len(); got != 3 {
		t.Errorf("trace length after restart = %d, want 3", got)
	}
	// same seed, same initialization
	if s.History().Total[0] != first.Total[0] {
		t.Errorf("restart did not reinitialize: %v vs %v", s.History().Total[0], first.Total[0])
	}
	if st := s.Status(); st.RunID != 2 {
		t.Errorf("run id = %d, want 2", st.RunID)
	}
}

func TestSessionContextCancelStops(t *testing.T) {
	s := NewSession(SessionOptions{})
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := smallConfig()
	cfg.Epochs = 1_000_000
	if err := s.Start(ctx, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	res, err := s.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.State != StateStopped {
		t.Errorf("state = %s, want stopped", res.State)
	}
}

func TestSessionInvalidConfig(t *testing.T) {
	s := NewSession(SessionOptions{})
	cfg := smallConfig()
	cfg.Contract.Volatility = 0
	if err := s.Start(context.Background(), cfg); err == nil {
		t.Fatal("expected an error")
	}
	if st := s.Status(); st.State != StateIdle {
		t.Errorf("state = %s after rejected start", st.State)
	}
}

func TestSessionYieldsBetweenSteps(t *testing.T) {
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(1))

	var worst time.Duration
	for i := 0; i < 4; i++ {
		s := NewSession(SessionOptions{})
		events, cancel := s.Subscribe(16)

		cfg := smallConfig()
		cfg.Epochs = 1_000_000
		cfg.EmitEvery = 1
		start := time.Now()
		if err := s.Start(context.Background(), cfg); err != nil {
			t.Fatalf("Start: %v", err)
		}
		select {
		case <-events:
		case <-time.After(10 * time.Second):
			t.Fatal("no progress event observed")
		}
		if d := time.Since(start); d > worst {
			worst = d
		}

		stopped := time.Now()
		s.Stop()
		if _, err := s.Wait(waitCtx(t)); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if d := time.Since(stopped); d > time.Second {
			t.Errorf("stop took %v", d)
		}
		cancel()
	}
	if worst > time.Second {
		t.Errorf("worst latency to the first event: %v", worst)
	}
}

func TestUnsubscribeDuringFinalSend(t *testing.T) {
	s := NewSession(SessionOptions{})
	defer s.Close()

	// an unbuffered subscriber that never reads holds the final send
	_, cancel := s.Subscribe(0)

	if err := s.Start(context.Background(), smallConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(time.Minute)
	for !s.Status().State.Terminal() {
		if time.Now().After(deadline) {
			t.Fatal("run did not finish")
		}
		time.Sleep(time.Millisecond)
	}

	begin := time.Now()
	cancel()
	if d := time.Since(begin); d > 100*time.Millisecond {
		t.Errorf("unsubscribe blocked for %v", d)
	}
	if _, err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if d := time.Since(begin); d > 500*time.Millisecond {
		t.Errorf("final send outlived its subscriber by %v", d)
	}
}
