package compare

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/jwaldner/pinnbs/internal/blackscholes"
	"github.com/jwaldner/pinnbs/internal/pinn"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func contract() blackscholes.Contract {
	return blackscholes.Contract{Strike: 100, Expiry: 1, Rate: 0.05, Volatility: 0.2, Type: blackscholes.Call}
}

// untrained returns freshly initialized parameters; good enough to exercise
// the grid plumbing.
func untrained(t *testing.T) Static {
	t.Helper()
	m, err := pinn.NewModel(pinn.TrainConfig{
		Contract:          contract(),
		Hidden:            []int{4},
		CollocationPoints: 8,
		BoundaryPoints:    4,
		TerminalPoints:    4,
	})
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	defer m.Close()
	return Static{S: m.Snapshot(7, 0.5)}
}

func TestCompareGridBeforeTraining(t *testing.T) {
	s := pinn.NewSession(pinn.SessionOptions{})
	_, err := CompareGrid(context.Background(), s, contract(), Linspace(50, 150, 5), Linspace(0, 1, 5))
	if !errors.Is(err, pinn.ErrModelNotTrained) {
		t.Fatalf("expected ErrModelNotTrained, got %v", err)
	}
	if _, err := (Static{}).Snapshot(); !errors.Is(err, pinn.ErrModelNotTrained) {
		t.Errorf("empty static source: expected ErrModelNotTrained, got %v", err)
	}
}

func TestCompareGrid(t *testing.T) {
	src := untrained(t)
	spots := Linspace(50, 150, 7)
	times := Linspace(0, 1, 4)

	g, err := CompareGrid(context.Background(), src, contract(), spots, times)
	if err != nil {
		t.Fatalf("CompareGrid: %v", err)
	}
	if len(g.Analytic) != len(spots) || len(g.PINN) != len(spots) || len(g.Error) != len(spots) {
		t.Fatalf("grid rows: %d/%d/%d", len(g.Analytic), len(g.PINN), len(g.Error))
	}
	if g.Iteration != 7 {
		t.Errorf("iteration = %d, want 7", g.Iteration)
	}

	var sum, max float64
	for i, s := range spots {
		if len(g.Error[i]) != len(times) {
			t.Fatalf("row %d has %d columns", i, len(g.Error[i]))
		}
		for j, tm := range times {
			if want := blackscholes.ValueAt(contract(), s, tm); g.Analytic[i][j] != want {
				t.Errorf("analytic[%d][%d] = %v, want %v", i, j, g.Analytic[i][j], want)
			}
			if want := src.S.Value(s, tm); g.PINN[i][j] != want {
				t.Errorf("pinn[%d][%d] = %v, want %v", i, j, g.PINN[i][j], want)
			}
			e := g.Error[i][j]
			if e < 0 || !approxEqual(e, math.Abs(g.Analytic[i][j]-g.PINN[i][j]), 1e-12) {
				t.Errorf("error[%d][%d] = %v", i, j, e)
			}
			sum += e
			max = math.Max(max, e)
		}
	}
	if !approxEqual(g.MaxError, max, 1e-12) {
		t.Errorf("max error = %v, want %v", g.MaxError, max)
	}
	if !approxEqual(g.MeanError, sum/float64(len(spots)*len(times)), 1e-9) {
		t.Errorf("mean error = %v", g.MeanError)
	}
}

func TestCompareGridValidation(t *testing.T) {
	src := untrained(t)
	tests := []struct {
		name         string
		c            blackscholes.Contract
		spots, times []float64
	}{
		{"negative spot", contract(), []float64{-1, 100}, []float64{0}},
		{"time past expiry", contract(), []float64{100}, []float64{0, 1.5}},
		{"negative time", contract(), []float64{100}, []float64{-0.1}},
		{"empty spots", contract(), nil, []float64{0}},
		{"zero vol", blackscholes.Contract{Strike: 100, Expiry: 1, Type: blackscholes.Call}, []float64{100}, []float64{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompareGrid(context.Background(), src, tt.c, tt.spots, tt.times)
			if !errors.Is(err, blackscholes.ErrInvalidParameter) {
				t.Errorf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}

func TestCompareGridCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CompareGrid(ctx, untrained(t), contract(), Linspace(50, 150, 3), Linspace(0, 1, 3))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCompareGreeks(t *testing.T) {
	src := untrained(t)
	spots := Linspace(80, 120, 5)
	pts, err := CompareGreeks(src, contract(), spots, 0.25)
	if err != nil {
		t.Fatalf("CompareGreeks: %v", err)
	}
	if len(pts) != len(spots) {
		t.Fatalf("got %d points", len(pts))
	}
	for i, p := range pts {
		a := blackscholes.GreeksAt(contract(), spots[i], 0.25)
		d := src.S.Derivatives(spots[i], 0.25)
		if p.Analytic.Delta != a.Delta || p.Analytic.Gamma != a.Gamma || p.Analytic.Theta != a.Theta {
			t.Errorf("analytic greeks at %v: %+v", spots[i], p.Analytic)
		}
		if p.PINN.Delta != d.DVDS || p.PINN.Gamma != d.D2VDS2 || p.PINN.Theta != d.DVDt {
			t.Errorf("pinn greeks at %v: %+v", spots[i], p.PINN)
		}
	}
}

func TestLinspace(t *testing.T) {
	got := Linspace(0, 1, 5)
	want := []float64{0, 0.25, 0.5, 0.75, 1}
	for i := range want {
		if !approxEqual(got[i], want[i], 1e-15) {
			t.Errorf("Linspace[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if l := Linspace(3, 4, 1); len(l) != 1 || l[0] != 3 {
		t.Errorf("single point: %v", l)
	}
	if l := Linspace(0, 1, 0); l != nil {
		t.Errorf("zero points: %v", l)
	}
}

// Training longer on a fixed seed should bring the PINN closer to the
// closed form.
func TestErrorShrinksWithTraining(t *testing.T) {
	if testing.Short() {
		t.Skip("trains a network")
	}
	const n = 300
	cfg := pinn.TrainConfig{
		Contract:          contract(),
		Epochs:            n,
		LearningRate:      5e-3,
		Hidden:            []int{16, 16},
		CollocationPoints: 256,
		BoundaryPoints:    32,
		TerminalPoints:    128,
		Seed:              42,
	}
	spots := Linspace(50, 150, 11)
	times := Linspace(0, 1, 11)

	meanError := func(epochs int) float64 {
		s := pinn.NewSession(pinn.SessionOptions{})
		defer s.Close()
		c := cfg
		c.Epochs = epochs
		if _, err := s.Run(context.Background(), c); err != nil {
			t.Fatalf("train %d epochs: %v", epochs, err)
		}
		g, err := CompareGrid(context.Background(), s, contract(), spots, times)
		if err != nil {
			t.Fatalf("CompareGrid: %v", err)
		}
		return g.MeanError
	}

	short, long := meanError(n), meanError(2*n)
	t.Logf("mean abs error: %d epochs %.4f, %d epochs %.4f", n, short, 2*n, long)
	if long >= short {
		t.Errorf("error did not shrink: %v at %d epochs, %v at %d", short, n, long, 2*n)
	}
}
