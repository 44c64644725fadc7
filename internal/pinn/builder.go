package pinn

import (
	G "gorgonia.org/gorgonia"
)

// builder wraps gorgonia's node constructors and keeps the first error, so
// graph construction reads as straight-line math. After an error every
// method returns nil without touching the graph.
type builder struct {
	err error
}

func (b *builder) keep(n *G.Node, err error) *G.Node {
	if err != nil {
		b.err = err
		return nil
	}
	return n
}

func (b *builder) failed(nodes ...*G.Node) bool {
	if b.err != nil {
		return true
	}
	for _, n := range nodes {
		if n == nil {
			return true
		}
	}
	return false
}

func (b *builder) constant(v float64) *G.Node {
	return G.NewConstant(v)
}

func (b *builder) mul(x, y *G.Node) *G.Node {
	if b.failed(x, y) {
		return nil
	}
	return b.keep(G.Mul(x, y))
}

func (b *builder) hadamard(x, y *G.Node) *G.Node {
	if b.failed(x, y) {
		return nil
	}
	return b.keep(G.HadamardProd(x, y))
}

func (b *builder) add(x, y *G.Node) *G.Node {
	if b.failed(x, y) {
		return nil
	}
	return b.keep(G.Add(x, y))
}

func (b *builder) sub(x, y *G.Node) *G.Node {
	if b.failed(x, y) {
		return nil
	}
	return b.keep(G.Sub(x, y))
}

// scale multiplies x by a scalar constant.
func (b *builder) scale(k float64, x *G.Node) *G.Node {
	if b.failed(x) {
		return nil
	}
	return b.keep(G.HadamardProd(x, b.constant(k)))
}

// dense is x·w + b with the (1×out) bias broadcast over rows.
func (b *builder) dense(x, w, bias *G.Node) *G.Node {
	xw := b.mul(x, w)
	if b.failed(xw, bias) {
		return nil
	}
	return b.keep(G.BroadcastAdd(xw, bias, nil, []byte{0}))
}

func (b *builder) tanh(x *G.Node) *G.Node {
	if b.failed(x) {
		return nil
	}
	return b.keep(G.Tanh(x))
}

func (b *builder) sigmoid(x *G.Node) *G.Node {
	if b.failed(x) {
		return nil
	}
	return b.keep(G.Sigmoid(x))
}

// softplus is log(1 + e^x).
func (b *builder) softplus(x *G.Node) *G.Node {
	if b.failed(x) {
		return nil
	}
	e := b.keep(G.Exp(x))
	if b.failed(e) {
		return nil
	}
	return b.keep(G.Log1p(e))
}

func (b *builder) square(x *G.Node) *G.Node {
	if b.failed(x) {
		return nil
	}
	return b.keep(G.Square(x))
}

func (b *builder) mean(x *G.Node) *G.Node {
	if b.failed(x) {
		return nil
	}
	return b.keep(G.Mean(x))
}
