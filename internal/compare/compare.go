// Package compare reports how closely a trained PINN reproduces the analytic
// Black-Scholes price over a grid of spots and times.
package compare

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/jwaldner/pinnbs/internal/blackscholes"
	"github.com/jwaldner/pinnbs/internal/logger"
	"github.com/jwaldner/pinnbs/internal/pinn"
)

// SnapshotSource supplies trained model parameters. *pinn.Session satisfies
// it.
type SnapshotSource interface {
	Snapshot() (*pinn.Snapshot, error)
}

// Static serves a fixed snapshot.
type Static struct {
	S *pinn.Snapshot
}

func (s Static) Snapshot() (*pinn.Snapshot, error) {
	if !s.S.Trained() {
		return nil, pinn.ErrModelNotTrained
	}
	return s.S, nil
}

// Grid holds prices indexed [i][j] = (Spots[i], Times[j]).
type Grid struct {
	Spots    []float64   `json:"spots"`
	Times    []float64   `json:"times"`
	Analytic [][]float64 `json:"analytic"`
	PINN     [][]float64 `json:"pinn"`
	Error    [][]float64 `json:"error"`

	MaxError  float64 `json:"max_error"`
	MeanError float64 `json:"mean_error"`
	// Iteration is the training iteration the PINN prices come from.
	Iteration int `json:"iteration"`
}

// CompareGrid prices c analytically and with the source's model on every
// (spot, time) pair. Times are calendar times in [0, T]. It fails with
// pinn.ErrModelNotTrained when the source has no trained model.
func CompareGrid(ctx context.Context, src SnapshotSource, c blackscholes.Contract, spots, times []float64) (Grid, error) {
	if err := blackscholes.ValidateGrid(c, spots, times); err != nil {
		return Grid{}, err
	}
	sn, err := src.Snapshot()
	if err != nil {
		return Grid{}, err
	}
	checkContract(sn, c)

	g := Grid{
		Spots:     append([]float64(nil), spots...),
		Times:     append([]float64(nil), times...),
		Analytic:  make([][]float64, len(spots)),
		PINN:      make([][]float64, len(spots)),
		Error:     make([][]float64, len(spots)),
		Iteration: sn.Iteration,
	}

	eg, gctx := errgroup.WithContext(ctx)
	for i := range spots {
		i := i
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := spots[i]
			a := make([]float64, len(times))
			p := make([]float64, len(times))
			e := make([]float64, len(times))
			for j, t := range times {
				a[j] = blackscholes.ValueAt(c, s, t)
				p[j] = sn.Value(s, t)
				e[j] = math.Abs(a[j] - p[j])
			}
			g.Analytic[i], g.PINN[i], g.Error[i] = a, p, e
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Grid{}, err
	}

	var sum float64
	for _, row := range g.Error {
		for _, e := range row {
			sum += e
			g.MaxError = math.Max(g.MaxError, e)
		}
	}
	g.MeanError = sum / float64(len(spots)*len(times))
	return g, nil
}

// GreekPoint compares the sensitivities the PINN can express at one spot.
// Theta is the calendar-time derivative per year for both.
type GreekPoint struct {
	Spot     float64 `json:"spot"`
	Analytic Sens    `json:"analytic"`
	PINN     Sens    `json:"pinn"`
}

// Sens is a subset of the Greeks.
type Sens struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
}

// CompareGreeks returns analytic and PINN Delta, Gamma and Theta along the
// spot slice at calendar time t.
func CompareGreeks(src SnapshotSource, c blackscholes.Contract, spots []float64, t float64) ([]GreekPoint, error) {
	if err := blackscholes.ValidateGrid(c, spots, []float64{t}); err != nil {
		return nil, err
	}
	sn, err := src.Snapshot()
	if err != nil {
		return nil, err
	}
	checkContract(sn, c)

	out := make([]GreekPoint, len(spots))
	for i, s := range spots {
		a := blackscholes.GreeksAt(c, s, t)
		d := sn.Derivatives(s, t)
		out[i] = GreekPoint{
			Spot:     s,
			Analytic: Sens{Delta: a.Delta, Gamma: a.Gamma, Theta: a.Theta},
			PINN:     Sens{Delta: d.DVDS, Gamma: d.D2VDS2, Theta: d.DVDt},
		}
	}
	return out, nil
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// checkContract warns when the model was trained on different terms than
// the ones being compared against.
func checkContract(sn *pinn.Snapshot, c blackscholes.Contract) {
	m := sn.Contract
	if m.Strike != c.Strike || m.Expiry != c.Expiry || m.Rate != c.Rate ||
		m.Volatility != c.Volatility || m.Type != c.Type {
		logger.Warn.Printf("⚠️  comparing against %s K=%.4g T=%.4g r=%.4g σ=%.4g but the model was trained on %s K=%.4g T=%.4g r=%.4g σ=%.4g",
			c.Type, c.Strike, c.Expiry, c.Rate, c.Volatility,
			m.Type, m.Strike, m.Expiry, m.Rate, m.Volatility)
	}
}
