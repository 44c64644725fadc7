package pinn

import (
	"math"

	G "gorgonia.org/gorgonia"
)

// Losses is the total loss and its three components, all in strike units
// (residuals of V/K) so runs on different strikes are comparable.
type Losses struct {
	Total    float64 `json:"total"`
	PDE      float64 `json:"pde"`
	Terminal float64 `json:"terminal"`
	Boundary float64 `json:"boundary"`
}

// Finite reports whether every component is a finite number.
func (l Losses) Finite() bool {
	for _, v := range []float64{l.Total, l.PDE, l.Terminal, l.Boundary} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// lossGraph holds the loss nodes of a model graph.
type lossGraph struct {
	total, pde, terminal, boundary *G.Node
}

// buildLoss wires the residual terms onto the network outputs.
//
// With s = S/S_max and u = V/K the operator becomes
// (2/T)·u_t + 2σ²s²·u_ss + 2r·s·u_s − r·u, where u_s, u_ss, u_t are taken
// with respect to the normalized inputs.
func (m *Model) buildLoss(b *builder) lossGraph {
	c := m.cfg.Contract
	sigma2 := c.Volatility * c.Volatility

	interior := m.forwardDerivs(b, m.xInt)
	res := b.add(
		b.add(b.scale(2/c.Expiry, interior.t), b.scale(2*sigma2, b.hadamard(m.s2Int, interior.ss))),
		b.add(b.scale(2*c.Rate, b.hadamard(m.sInt, interior.s)), b.scale(-c.Rate, interior.v)),
	)
	pde := b.mean(b.square(res))

	terminal := b.mean(b.square(b.sub(m.forward(b, m.xTerm), m.vTerm)))
	boundary := b.add(
		b.mean(b.square(b.sub(m.forward(b, m.xLow), m.vLow))),
		b.mean(b.square(b.sub(m.forward(b, m.xUp), m.vUp))),
	)

	w := m.cfg.Weights
	total := b.add(
		b.add(b.scale(w.PDE, pde), b.scale(w.Terminal, terminal)),
		b.scale(w.Boundary, boundary),
	)
	return lossGraph{total: total, pde: pde, terminal: terminal, boundary: boundary}
}

// channels carries a layer activation and its derivatives with respect to
// the normalized spot (s, ss) and time (t) inputs.
type channels struct {
	v, s, t, ss *G.Node
}

// forwardDerivs evaluates u and its input derivatives. The first layer is
// linear in the inputs so its second derivative channel is zero (nil).
func (m *Model) forwardDerivs(b *builder, x *G.Node) channels {
	cur := channels{v: x, s: m.seedS, t: m.seedT}
	last := len(m.weights) - 1
	for i, w := range m.weights {
		z := channels{
			v: b.dense(cur.v, w, m.biases[i]),
			s: b.mul(cur.s, w),
			t: b.mul(cur.t, w),
		}
		if cur.ss != nil {
			z.ss = b.mul(cur.ss, w)
		}
		if i == last {
			return m.head(b, z)
		}

		h := b.tanh(z.v)
		d1 := b.sub(b.constant(1), b.square(h))
		d2 := b.scale(-2, b.hadamard(h, d1))
		ss := b.hadamard(d2, b.square(z.s))
		if z.ss != nil {
			ss = b.add(ss, b.hadamard(d1, z.ss))
		}
		cur = channels{v: h, s: b.hadamard(d1, z.s), t: b.hadamard(d1, z.t), ss: ss}
	}
	return cur
}

// head applies the softplus output and its derivatives:
// u_s = σ(z)·z_s, u_ss = σ(z)(1−σ(z))·z_s² + σ(z)·z_ss.
func (m *Model) head(b *builder, z channels) channels {
	sg := b.sigmoid(z.v)
	ss := b.hadamard(b.hadamard(sg, b.sub(b.constant(1), sg)), b.square(z.s))
	if z.ss != nil {
		ss = b.add(ss, b.hadamard(sg, z.ss))
	}
	return channels{
		v:  b.softplus(z.v),
		s:  b.hadamard(sg, z.s),
		t:  b.hadamard(sg, z.t),
		ss: ss,
	}
}

// forward evaluates u only.
func (m *Model) forward(b *builder, x *G.Node) *G.Node {
	cur := x
	last := len(m.weights) - 1
	for i, w := range m.weights {
		z := b.dense(cur, w, m.biases[i])
		if i == last {
			return b.softplus(z)
		}
		cur = b.tanh(z)
	}
	return cur
}
