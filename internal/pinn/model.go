// Package pinn trains a physics-informed neural network V(S,t) on the
// Black-Scholes PDE. Reverse-mode differentiation and the Adam optimizer
// come from gorgonia; the input derivatives the PDE needs are carried through
// the graph as extra channels so their parameter gradients are available too.
package pinn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/jwaldner/pinnbs/internal/blackscholes"
)

var (
	// ErrTrainingDivergence is returned when the loss becomes NaN or Inf.
	ErrTrainingDivergence = errors.New("training diverged: loss is not finite")
	// ErrModelNotTrained is returned when no successful run has finished.
	ErrModelNotTrained = errors.New("model not trained")
	// ErrTrainingInProgress is returned when a run is already active.
	ErrTrainingInProgress = errors.New("training in progress")
)

// Model is the trainable network and its loss graph for one run. It is not
// safe for concurrent use; a Session owns it.
type Model struct {
	cfg  TrainConfig
	sMax float64

	g          *G.ExprGraph
	weights    []*G.Node
	biases     []*G.Node
	learnables G.Nodes

	// interior inputs: normalized (s,t), s, s² and derivative seeds
	xInt, sInt, s2Int *G.Node
	seedS, seedT      *G.Node

	xLow, vLow   *G.Node
	xUp, vUp     *G.Node
	xTerm, vTerm *G.Node

	loss lossGraph

	totalVal, pdeVal, terminalVal, bndVal G.Value

	vm     G.VM
	solver G.Solver
}

// NewModel builds the graph for cfg with Glorot-normal weights drawn from a
// generator seeded with cfg.Seed.
func NewModel(cfg TrainConfig) (*Model, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Model{
		cfg:  cfg,
		sMax: cfg.SMax(),
		g:    G.NewGraph(),
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	widths := append([]int{2}, cfg.Hidden...)
	widths = append(widths, 1)
	for i := 0; i+1 < len(widths); i++ {
		in, out := widths[i], widths[i+1]
		w := G.NewMatrix(m.g, tensor.Float64,
			G.WithShape(in, out),
			G.WithName(fmt.Sprintf("w%d", i)),
			G.WithValue(glorotNormal(rng, in, out)))
		bias := G.NewMatrix(m.g, tensor.Float64,
			G.WithShape(1, out),
			G.WithName(fmt.Sprintf("b%d", i)),
			G.WithValue(tensor.New(tensor.WithShape(1, out), tensor.WithBacking(make([]float64, out)))))
		m.weights = append(m.weights, w)
		m.biases = append(m.biases, bias)
		m.learnables = append(m.learnables, w, bias)
	}

	nI, nB, nT := cfg.CollocationPoints, cfg.BoundaryPoints, cfg.TerminalPoints
	m.xInt = m.input("x_interior", nI, 2)
	m.sInt = m.input("s_interior", nI, 1)
	m.s2Int = m.input("s2_interior", nI, 1)
	m.seedS = G.NewMatrix(m.g, tensor.Float64, G.WithShape(nI, 2), G.WithName("seed_s"),
		G.WithValue(seed(nI, 0)))
	m.seedT = G.NewMatrix(m.g, tensor.Float64, G.WithShape(nI, 2), G.WithName("seed_t"),
		G.WithValue(seed(nI, 1)))
	m.xLow, m.vLow = m.input("x_lower", nB, 2), m.input("v_lower", nB, 1)
	m.xUp, m.vUp = m.input("x_upper", nB, 2), m.input("v_upper", nB, 1)
	m.xTerm, m.vTerm = m.input("x_terminal", nT, 2), m.input("v_terminal", nT, 1)

	b := &builder{}
	m.loss = m.buildLoss(b)
	if b.err != nil {
		return nil, fmt.Errorf("build loss graph: %w", b.err)
	}
	if _, err := G.Grad(m.loss.total, m.learnables...); err != nil {
		return nil, fmt.Errorf("differentiate loss: %w", err)
	}
	G.Read(m.loss.total, &m.totalVal)
	G.Read(m.loss.pde, &m.pdeVal)
	G.Read(m.loss.terminal, &m.terminalVal)
	G.Read(m.loss.boundary, &m.bndVal)

	m.vm = G.NewTapeMachine(m.g, G.BindDualValues(m.learnables...))
	m.solver = G.NewAdamSolver(G.WithLearnRate(cfg.LearningRate))
	return m, nil
}

func (m *Model) input(name string, rows, cols int) *G.Node {
	return G.NewMatrix(m.g, tensor.Float64, G.WithShape(rows, cols), G.WithName(name))
}

// Config returns the effective configuration of the model.
func (m *Model) Config() TrainConfig {
	return m.cfg
}

// Evaluate computes the losses of the current parameters on b without
// updating them.
func (m *Model) Evaluate(b Batch) (Losses, error) {
	return m.run(b, false)
}

// Step computes the losses on b and applies one Adam update. A non-finite
// loss returns ErrTrainingDivergence and leaves the parameters untouched.
func (m *Model) Step(b Batch) (Losses, error) {
	return m.run(b, true)
}

func (m *Model) run(b Batch, update bool) (Losses, error) {
	if err := m.bind(b); err != nil {
		return Losses{}, err
	}
	defer m.vm.Reset()

	if err := m.vm.RunAll(); err != nil {
		return Losses{}, fmt.Errorf("run graph: %w", err)
	}
	l := Losses{
		Total:    scalar(m.totalVal),
		PDE:      scalar(m.pdeVal),
		Terminal: scalar(m.terminalVal),
		Boundary: scalar(m.bndVal),
	}
	if !l.Finite() {
		return l, ErrTrainingDivergence
	}
	if update {
		if err := m.solver.Step(G.NodesToValueGrads(m.learnables)); err != nil {
			return l, fmt.Errorf("optimizer step: %w", err)
		}
	}
	return l, nil
}

// bind feeds a batch into the input nodes.
func (m *Model) bind(b Batch) error {
	cfg := m.cfg
	if len(b.Interior) != cfg.CollocationPoints || len(b.Lower) != cfg.BoundaryPoints ||
		len(b.Upper) != cfg.BoundaryPoints || len(b.Terminal) != cfg.TerminalPoints {
		return fmt.Errorf("%w: batch sizes %d/%d/%d/%d do not match the model (%d/%d/%d)",
			blackscholes.ErrInvalidParameter,
			len(b.Interior), len(b.Lower), len(b.Upper), len(b.Terminal),
			cfg.CollocationPoints, cfg.BoundaryPoints, cfg.TerminalPoints)
	}

	n := len(b.Interior)
	s := make([]float64, n)
	s2 := make([]float64, n)
	for i, p := range b.Interior {
		s[i] = p.S / m.sMax
		s2[i] = s[i] * s[i]
	}
	xl, vl := m.normalize(b.Lower)
	xu, vu := m.normalize(b.Upper)
	xt, vt := m.normalize(b.Terminal)
	xi, _ := m.normalize(b.Interior)

	lets := []struct {
		node *G.Node
		val  tensor.Tensor
	}{
		{m.xInt, xi}, {m.sInt, column(s)}, {m.s2Int, column(s2)},
		{m.xLow, xl}, {m.vLow, vl},
		{m.xUp, xu}, {m.vUp, vu},
		{m.xTerm, xt}, {m.vTerm, vt},
	}
	for _, l := range lets {
		if err := G.Let(l.node, l.val); err != nil {
			return fmt.Errorf("bind %s: %w", l.node.Name(), err)
		}
	}
	return nil
}

// normalize maps points to network inputs in [-1,1]² and targets to strike
// units.
func (m *Model) normalize(points []Point) (x, v *tensor.Dense) {
	k, T := m.cfg.Contract.Strike, m.cfg.Contract.Expiry
	xs := make([]float64, 2*len(points))
	vs := make([]float64, len(points))
	for i, p := range points {
		xs[2*i] = 2*p.S/m.sMax - 1
		xs[2*i+1] = 2*p.T/T - 1
		vs[i] = p.V / k
	}
	return tensor.New(tensor.WithShape(len(points), 2), tensor.WithBacking(xs)), column(vs)
}

// Snapshot copies the current parameters.
func (m *Model) Snapshot(iteration int, loss float64) *Snapshot {
	sn := &Snapshot{
		Contract:  m.cfg.Contract,
		SMax:      m.sMax,
		Iteration: iteration,
		Loss:      loss,
	}
	for i, w := range m.weights {
		shape := w.Shape()
		sn.Layers = append(sn.Layers, Layer{
			In:  shape[0],
			Out: shape[1],
			W:   copyData(w),
			B:   copyData(m.biases[i]),
		})
	}
	return sn
}

// Close releases the tape machine.
func (m *Model) Close() error {
	if m.vm == nil {
		return nil
	}
	return m.vm.Close()
}

func copyData(n *G.Node) []float64 {
	src, _ := n.Value().Data().([]float64)
	out := make([]float64, len(src))
	copy(out, src)
	return out
}

func scalar(v G.Value) float64 {
	if v == nil {
		return math.NaN()
	}
	switch d := v.Data().(type) {
	case float64:
		return d
	case []float64:
		if len(d) == 1 {
			return d[0]
		}
	}
	return math.NaN()
}

func column(vals []float64) *tensor.Dense {
	return tensor.New(tensor.WithShape(len(vals), 1), tensor.WithBacking(vals))
}

// seed returns an n×2 matrix whose rows are the unit vector along axis.
func seed(n, axis int) *tensor.Dense {
	data := make([]float64, 2*n)
	for i := 0; i < n; i++ {
		data[2*i+axis] = 1
	}
	return tensor.New(tensor.WithShape(n, 2), tensor.WithBacking(data))
}

func glorotNormal(rng *rand.Rand, in, out int) *tensor.Dense {
	std := math.Sqrt(2 / float64(in+out))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = rng.NormFloat64() * std
	}
	return tensor.New(tensor.WithShape(in, out), tensor.WithBacking(data))
}
