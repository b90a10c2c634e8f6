package predictor

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// param is a trainable matrix with its gradient accumulator and Adam moments.
type param struct {
	w, g *mat.Dense
	m, v []float64
}

func newParam(r, c int) *param {
	return &param{
		w: mat.NewDense(r, c, nil),
		g: mat.NewDense(r, c, nil),
		m: make([]float64, r*c),
		v: make([]float64, r*c),
	}
}

func (p *param) values() []float64 { return p.w.RawMatrix().Data }
func (p *param) grads() []float64  { return p.g.RawMatrix().Data }

// glorot fills p with Glorot-uniform values.
func (p *param) glorot(rng *rand.Rand) {
	r, c := p.w.Dims()
	limit := math.Sqrt(6 / float64(r+c))
	w := p.values()
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
}

func zeros(n int) *mat.VecDense { return mat.NewVecDense(n, nil) }

func raw(v *mat.VecDense) []float64 { return v.RawVector().Data }

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// apply returns fn applied to every element of v.
func apply(v *mat.VecDense, fn func(float64) float64) *mat.VecDense {
	out := zeros(v.Len())
	o := raw(out)
	for i, x := range raw(v) {
		o[i] = fn(x)
	}
	return out
}

// gate is the affine map W·x + U·h + b shared by every recurrent cell.
type gate struct {
	W, U, b *param
}

func newGate(in, units int, bias float64, rng *rand.Rand) *gate {
	g := &gate{W: newParam(units, in), U: newParam(units, units), b: newParam(units, 1)}
	g.W.glorot(rng)
	g.U.glorot(rng)
	if bias != 0 {
		for i := range g.b.values() {
			g.b.values()[i] = bias
		}
	}
	return g
}

func (g *gate) params() []*param { return []*param{g.W, g.U, g.b} }

func (g *gate) pre(x, h *mat.VecDense) *mat.VecDense {
	units, _ := g.U.w.Dims()
	out := zeros(units)
	out.MulVec(g.W.w, x)
	uh := zeros(units)
	uh.MulVec(g.U.w, h)
	out.AddVec(out, uh)
	out.AddVec(out, mat.NewVecDense(units, g.b.values()))
	return out
}

// backward accumulates the parameter gradients for the pre-activation
// gradient da and adds the input gradients into dx and dh.
func (g *gate) backward(da, x, h, dx, dh *mat.VecDense) {
	g.W.g.RankOne(g.W.g, 1, da, x)
	g.U.g.RankOne(g.U.g, 1, da, h)
	floats.Add(g.b.grads(), raw(da))

	tmp := zeros(dx.Len())
	tmp.MulVec(g.W.w.T(), da)
	dx.AddVec(dx, tmp)
	tmp = zeros(dh.Len())
	tmp.MulVec(g.U.w.T(), da)
	dh.AddVec(dh, tmp)
}

// stepCache holds the forward values of one time step needed by backward.
type stepCache struct {
	x, hPrev, cPrev *mat.VecDense
	h, c, tc        *mat.VecDense
	// gate activations: RNN none; GRU z, r, n; LSTM i, f, o, g
	acts [4]*mat.VecDense
	rh   *mat.VecDense
}

type cell interface {
	params() []*param
	units() int
	step(x, h, c *mat.VecDense) (hNext, cNext *mat.VecDense, sc *stepCache)
	back(sc *stepCache, dh, dc *mat.VecDense) (dx, dhPrev, dcPrev *mat.VecDense)
}

func newCell(kind Kind, in, units int, rng *rand.Rand) cell {
	switch kind {
	case LSTM:
		return &lstmCell{
			in: in, n: units,
			i: newGate(in, units, 0, rng),
			f: newGate(in, units, 1, rng),
			o: newGate(in, units, 0, rng),
			g: newGate(in, units, 0, rng),
		}
	case RNN:
		return &rnnCell{in: in, n: units, a: newGate(in, units, 0, rng)}
	default:
		return &gruCell{
			in: in, n: units,
			z: newGate(in, units, 0, rng),
			r: newGate(in, units, 0, rng),
			c: newGate(in, units, 0, rng),
		}
	}
}

// rnnCell: h = tanh(W·x + U·h + b)
type rnnCell struct {
	in, n int
	a     *gate
}

func (c *rnnCell) params() []*param { return c.a.params() }
func (c *rnnCell) units() int       { return c.n }

func (c *rnnCell) step(x, h, cs *mat.VecDense) (*mat.VecDense, *mat.VecDense, *stepCache) {
	hn := apply(c.a.pre(x, h), math.Tanh)
	return hn, cs, &stepCache{x: x, hPrev: h, h: hn}
}

func (c *rnnCell) back(sc *stepCache, dh, dc *mat.VecDense) (*mat.VecDense, *mat.VecDense, *mat.VecDense) {
	da := zeros(c.n)
	for i, h := range raw(sc.h) {
		raw(da)[i] = dh.AtVec(i) * (1 - h*h)
	}
	dx, dhPrev := zeros(c.in), zeros(c.n)
	c.a.backward(da, sc.x, sc.hPrev, dx, dhPrev)
	return dx, dhPrev, dc
}

// gruCell:
//
//	z = σ(Wz·x + Uz·h + bz)
//	r = σ(Wr·x + Ur·h + br)
//	n = tanh(Wn·x + Un·(r⊙h) + bn)
//	h' = z⊙h + (1-z)⊙n
type gruCell struct {
	in, n   int
	z, r, c *gate
}

func (c *gruCell) params() []*param {
	return append(append(c.z.params(), c.r.params()...), c.c.params()...)
}
func (c *gruCell) units() int { return c.n }

func (c *gruCell) step(x, h, cs *mat.VecDense) (*mat.VecDense, *mat.VecDense, *stepCache) {
	z := apply(c.z.pre(x, h), sigmoid)
	r := apply(c.r.pre(x, h), sigmoid)
	rh := zeros(c.n)
	rh.MulElemVec(r, h)
	n := apply(c.c.pre(x, rh), math.Tanh)

	hn := zeros(c.n)
	for i := range raw(hn) {
		zi := z.AtVec(i)
		raw(hn)[i] = zi*h.AtVec(i) + (1-zi)*n.AtVec(i)
	}
	return hn, cs, &stepCache{x: x, hPrev: h, h: hn, rh: rh, acts: [4]*mat.VecDense{z, r, n}}
}

func (c *gruCell) back(sc *stepCache, dh, dc *mat.VecDense) (*mat.VecDense, *mat.VecDense, *mat.VecDense) {
	z, r, n := sc.acts[0], sc.acts[1], sc.acts[2]
	dx, dhPrev := zeros(c.in), zeros(c.n)

	daz, dan := zeros(c.n), zeros(c.n)
	for i := 0; i < c.n; i++ {
		g, zi, ni, hp := dh.AtVec(i), z.AtVec(i), n.AtVec(i), sc.hPrev.AtVec(i)
		raw(dhPrev)[i] = g * zi
		raw(daz)[i] = g * (hp - ni) * zi * (1 - zi)
		raw(dan)[i] = g * (1 - zi) * (1 - ni*ni)
	}

	drh := zeros(c.n)
	c.c.backward(dan, sc.x, sc.rh, dx, drh)

	dar := zeros(c.n)
	for i := 0; i < c.n; i++ {
		ri, hp := r.AtVec(i), sc.hPrev.AtVec(i)
		raw(dar)[i] = drh.AtVec(i) * hp * ri * (1 - ri)
		raw(dhPrev)[i] += drh.AtVec(i) * ri
	}

	c.z.backward(daz, sc.x, sc.hPrev, dx, dhPrev)
	c.r.backward(dar, sc.x, sc.hPrev, dx, dhPrev)
	return dx, dhPrev, dc
}

// lstmCell:
//
//	i, f, o = σ(...), g = tanh(...)
//	c' = f⊙c + i⊙g
//	h' = o⊙tanh(c')
type lstmCell struct {
	in, n      int
	i, f, o, g *gate
}

func (c *lstmCell) params() []*param {
	var ps []*param
	for _, g := range []*gate{c.i, c.f, c.o, c.g} {
		ps = append(ps, g.params()...)
	}
	return ps
}
func (c *lstmCell) units() int { return c.n }

func (c *lstmCell) step(x, h, cs *mat.VecDense) (*mat.VecDense, *mat.VecDense, *stepCache) {
	ig := apply(c.i.pre(x, h), sigmoid)
	fg := apply(c.f.pre(x, h), sigmoid)
	og := apply(c.o.pre(x, h), sigmoid)
	gg := apply(c.g.pre(x, h), math.Tanh)

	cn, tc, hn := zeros(c.n), zeros(c.n), zeros(c.n)
	for k := 0; k < c.n; k++ {
		v := fg.AtVec(k)*cs.AtVec(k) + ig.AtVec(k)*gg.AtVec(k)
		raw(cn)[k] = v
		raw(tc)[k] = math.Tanh(v)
		raw(hn)[k] = og.AtVec(k) * raw(tc)[k]
	}
	return hn, cn, &stepCache{
		x: x, hPrev: h, cPrev: cs, h: hn, c: cn, tc: tc,
		acts: [4]*mat.VecDense{ig, fg, og, gg},
	}
}

func (c *lstmCell) back(sc *stepCache, dh, dc *mat.VecDense) (*mat.VecDense, *mat.VecDense, *mat.VecDense) {
	ig, fg, og, gg := sc.acts[0], sc.acts[1], sc.acts[2], sc.acts[3]
	dai, daf, dao, dag := zeros(c.n), zeros(c.n), zeros(c.n), zeros(c.n)
	dcPrev := zeros(c.n)
	for k := 0; k < c.n; k++ {
		tc, o := sc.tc.AtVec(k), og.AtVec(k)
		dct := dc.AtVec(k) + dh.AtVec(k)*o*(1-tc*tc)
		i, f, g := ig.AtVec(k), fg.AtVec(k), gg.AtVec(k)

		raw(dao)[k] = dh.AtVec(k) * tc * o * (1 - o)
		raw(dai)[k] = dct * g * i * (1 - i)
		raw(daf)[k] = dct * sc.cPrev.AtVec(k) * f * (1 - f)
		raw(dag)[k] = dct * i * (1 - g*g)
		raw(dcPrev)[k] = dct * f
	}

	dx, dhPrev := zeros(c.in), zeros(c.n)
	c.i.backward(dai, sc.x, sc.hPrev, dx, dhPrev)
	c.f.backward(daf, sc.x, sc.hPrev, dx, dhPrev)
	c.o.backward(dao, sc.x, sc.hPrev, dx, dhPrev)
	c.g.backward(dag, sc.x, sc.hPrev, dx, dhPrev)
	return dx, dhPrev, dcPrev
}

// denseLayer: y = act(W·x + b), act is ReLU or identity.
type denseLayer struct {
	W, b *param
	relu bool
}

func newDense(in, out int, relu bool, rng *rand.Rand) *denseLayer {
	d := &denseLayer{W: newParam(out, in), b: newParam(out, 1), relu: relu}
	d.W.glorot(rng)
	return d
}

func (d *denseLayer) params() []*param { return []*param{d.W, d.b} }

func (d *denseLayer) forward(x *mat.VecDense) *mat.VecDense {
	out, _ := d.W.w.Dims()
	y := zeros(out)
	y.MulVec(d.W.w, x)
	y.AddVec(y, mat.NewVecDense(out, d.b.values()))
	if d.relu {
		for i, v := range raw(y) {
			raw(y)[i] = math.Max(0, v)
		}
	}
	return y
}

func (d *denseLayer) backward(x, y, dy *mat.VecDense) *mat.VecDense {
	da := mat.VecDenseCopyOf(dy)
	if d.relu {
		for i, v := range raw(y) {
			if v <= 0 {
				raw(da)[i] = 0
			}
		}
	}
	d.W.g.RankOne(d.W.g, 1, da, x)
	floats.Add(d.b.grads(), raw(da))
	_, in := d.W.w.Dims()
	dx := zeros(in)
	dx.MulVec(d.W.w.T(), da)
	return dx
}

// network is a recurrent stack, optional hidden dense layers and a linear
// output layer of width 1 (point) or 2 (mean, log-sigma).
type network struct {
	cells   []cell
	hidden  []*denseLayer
	out     *denseLayer
	dropout float64
}

func newNetwork(kind Kind, shape InputShape, cfg Config, outputs int, rng *rand.Rand) *network {
	n := &network{dropout: cfg.Dropout}
	in := shape.Features
	for _, u := range cfg.Units {
		n.cells = append(n.cells, newCell(kind, in, u, rng))
		in = u
	}
	for _, u := range cfg.DenseUnits {
		n.hidden = append(n.hidden, newDense(in, u, true, rng))
		in = u
	}
	n.out = newDense(in, outputs, false, rng)
	return n
}

func (n *network) params() []*param {
	var ps []*param
	for _, c := range n.cells {
		ps = append(ps, c.params()...)
	}
	for _, d := range n.hidden {
		ps = append(ps, d.params()...)
	}
	return append(ps, n.out.params()...)
}

// tape records one forward pass.
type tape struct {
	caches [][]*stepCache
	// inputs and outputs of each dense layer (hidden..., out)
	dIn, dOut []*mat.VecDense
	masks     []*mat.VecDense
}

// forward runs one sample given as its time steps. Dropout masks are drawn
// from rng when train is set.
func (n *network) forward(steps []*mat.VecDense, train bool, rng *rand.Rand) (*mat.VecDense, *tape) {
	tp := &tape{}
	xs := steps
	var last *mat.VecDense
	for _, c := range n.cells {
		h, cs := zeros(c.units()), zeros(c.units())
		hs := make([]*mat.VecDense, len(xs))
		caches := make([]*stepCache, len(xs))
		for t, x := range xs {
			h, cs, caches[t] = c.step(x, h, cs)
			hs[t] = h
		}
		tp.caches = append(tp.caches, caches)
		xs = hs
		last = h
	}

	x := n.drop(last, train, rng, tp)
	for _, d := range n.hidden {
		y := d.forward(x)
		tp.dIn, tp.dOut = append(tp.dIn, x), append(tp.dOut, y)
		x = n.drop(y, train, rng, tp)
	}
	y := n.out.forward(x)
	tp.dIn, tp.dOut = append(tp.dIn, x), append(tp.dOut, y)
	return y, tp
}

// drop applies inverted dropout and records the mask (nil when inactive).
func (n *network) drop(x *mat.VecDense, train bool, rng *rand.Rand, tp *tape) *mat.VecDense {
	if !train || n.dropout <= 0 {
		tp.masks = append(tp.masks, nil)
		return x
	}
	keep := 1 - n.dropout
	mask := zeros(x.Len())
	for i := range raw(mask) {
		if rng.Float64() < keep {
			raw(mask)[i] = 1 / keep
		}
	}
	tp.masks = append(tp.masks, mask)
	out := zeros(x.Len())
	out.MulElemVec(x, mask)
	return out
}

// backward accumulates parameter gradients for the output gradient dy.
func (n *network) backward(tp *tape, dy *mat.VecDense) {
	layers := append(append([]*denseLayer{}, n.hidden...), n.out)
	g := dy
	for i := len(layers) - 1; i >= 0; i-- {
		g = layers[i].backward(tp.dIn[i], tp.dOut[i], g)
		// mask i applies to the input of dense layer i
		if m := tp.masks[i]; m != nil {
			g.MulElemVec(g, m)
		}
	}

	// the top layer only sees the gradient of its final state
	T := len(tp.caches[0])
	dhs := make([]*mat.VecDense, T)
	dhs[T-1] = g
	for l := len(n.cells) - 1; l >= 0; l-- {
		c, caches := n.cells[l], tp.caches[l]
		dxs := make([]*mat.VecDense, T)
		dh, dc := zeros(c.units()), zeros(c.units())
		for t := T - 1; t >= 0; t-- {
			if dhs[t] != nil {
				dh.AddVec(dh, dhs[t])
			}
			dxs[t], dh, dc = c.back(caches[t], dh, dc)
		}
		dhs = dxs
	}
}

// adam keeps the step count; the moments live on each param.
type adam struct {
	beta1, beta2, eps float64
	t                 int
}

func newAdam() *adam { return &adam{beta1: 0.9, beta2: 0.999, eps: 1e-7} }

func (a *adam) step(ps []*param, lr float64) {
	a.t++
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.beta2, float64(a.t))
	for _, p := range ps {
		w, g := p.values(), p.grads()
		for i := range w {
			p.m[i] = a.beta1*p.m[i] + (1-a.beta1)*g[i]
			p.v[i] = a.beta2*p.v[i] + (1-a.beta2)*g[i]*g[i]
			w[i] -= lr * (p.m[i] / bc1) / (math.Sqrt(p.v[i]/bc2) + a.eps)
		}
	}
}
