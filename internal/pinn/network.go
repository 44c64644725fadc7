package pinn

import (
	"math"

	"github.com/jwaldner/pinnbs/internal/blackscholes"
)

// Layer is one dense layer. W is row-major In×Out.
type Layer struct {
	In  int       `json:"in"`
	Out int       `json:"out"`
	W   []float64 `json:"w"`
	B   []float64 `json:"b"`
}

// Snapshot is an immutable copy of the model parameters, safe to read from
// any goroutine while training continues on the live graph.
type Snapshot struct {
	Contract  blackscholes.Contract `json:"contract"`
	SMax      float64               `json:"s_max"`
	Layers    []Layer               `json:"layers"`
	Iteration int                   `json:"iteration"`
	Loss      float64               `json:"loss"`
}

// Derivatives holds V and the partials the Black-Scholes operator needs.
type Derivatives struct {
	V      float64 `json:"v"`
	DVDS   float64 `json:"dv_ds"`
	D2VDS2 float64 `json:"d2v_ds2"`
	DVDt   float64 `json:"dv_dt"`
}

// Value evaluates the network at (s, t).
func (sn *Snapshot) Value(s, t float64) float64 {
	return sn.Derivatives(s, t).V
}

// Derivatives evaluates V, ∂V/∂S, ∂²V/∂S² and ∂V/∂t at (s, t) by carrying
// the derivative channels through each layer, the same chain rule the
// training graph is built from.
func (sn *Snapshot) Derivatives(s, t float64) Derivatives {
	a := []float64{2*s/sn.SMax - 1, 2*t/sn.Contract.Expiry - 1}
	as := []float64{1, 0}
	at := []float64{0, 1}
	ass := []float64{0, 0}

	last := len(sn.Layers) - 1
	for li, l := range sn.Layers {
		z := make([]float64, l.Out)
		zs := make([]float64, l.Out)
		zt := make([]float64, l.Out)
		zss := make([]float64, l.Out)
		for j := 0; j < l.Out; j++ {
			z[j] = l.B[j]
			for i := 0; i < l.In; i++ {
				w := l.W[i*l.Out+j]
				z[j] += a[i] * w
				zs[j] += as[i] * w
				zt[j] += at[i] * w
				zss[j] += ass[i] * w
			}
		}
		if li == last {
			a, as, at, ass = z, zs, zt, zss
			break
		}
		for j := range z {
			h := math.Tanh(z[j])
			d1 := 1 - h*h
			d2 := -2 * h * d1
			z[j] = h
			zss[j] = d2*zs[j]*zs[j] + d1*zss[j]
			zs[j] *= d1
			zt[j] *= d1
		}
		a, as, at, ass = z, zs, zt, zss
	}

	// softplus head, scaled to strike units
	z, zs, zt, zss := a[0], as[0], at[0], ass[0]
	sg := sigmoid(z)
	u := softplus(z)
	us := sg * zs
	ut := sg * zt
	uss := sg*(1-sg)*zs*zs + sg*zss

	k := sn.Contract.Strike
	ds := 2 / sn.SMax
	dt := 2 / sn.Contract.Expiry
	return Derivatives{
		V:      k * u,
		DVDS:   k * us * ds,
		D2VDS2: k * uss * ds * ds,
		DVDt:   k * ut * dt,
	}
}

// Residual is the Black-Scholes operator applied to the network at (s, t):
// ∂V/∂t + ½σ²S²∂²V/∂S² + rS∂V/∂S − rV.
func (sn *Snapshot) Residual(s, t float64) float64 {
	d := sn.Derivatives(s, t)
	c := sn.Contract
	return d.DVDt + 0.5*c.Volatility*c.Volatility*s*s*d.D2VDS2 + c.Rate*s*d.DVDS - c.Rate*d.V
}

// Trained reports whether sn holds parameters.
func (sn *Snapshot) Trained() bool {
	return sn != nil && len(sn.Layers) > 0
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func softplus(x float64) float64 {
	return math.Log1p(math.Exp(x))
}
