package predictor

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ezoic/hydrocast/core/model"
	"github.com/ezoic/hydrocast/core/tensor"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/pkg/log"
)

// logSigma is clamped to ±maxLogSigma before exponentiation.
const maxLogSigma = 7.0

// Recurrent is a stack of recurrent layers with a dense head. Hybrid holds
// one network per member and averages their outputs; members are trained
// jointly on the averaged prediction.
type Recurrent struct {
	kind    Kind
	shape   InputShape
	cfg     Config
	members []*network
	// physics enables the mass-conservation and smoothness penalties
	physics       bool
	probabilistic bool

	state *model.StateManager
	opt   *adam
	rng   *rand.Rand
	mu    sync.RWMutex
}

// NewRecurrent creates an unfitted recurrent predictor. PINN uses GRU cells.
func NewRecurrent(kind Kind, shape InputShape, cfg Config) (*Recurrent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var cells []Kind
	switch kind {
	case GRU, LSTM, RNN, PINN:
		cells = []Kind{kind}
	case Hybrid:
		cells = cfg.Members
		if len(cells) == 0 {
			cells = []Kind{GRU}
		}
		for _, m := range cells {
			if m != GRU && m != LSTM && m != RNN && m != PINN {
				return nil, errors.NewValidationError("members", "hybrid members must be GRU, LSTM, RNN or PINN", m)
			}
		}
		cfg.Members = slices.Clone(cells)
	default:
		return nil, errors.NewValidationError("model_type", "not a recurrent predictor", kind)
	}
	if cfg.Probabilistic && (kind == PINN || kind == Hybrid) {
		return nil, errors.NewValidationError("probabilistic", "only GRU, LSTM and RNN support probabilistic output", kind)
	}

	outputs := 1
	if cfg.Probabilistic {
		outputs = 2
	}
	rng := newRNG(cfg.Seed)
	r := &Recurrent{
		kind:          kind,
		shape:         shape,
		cfg:           cfg,
		physics:       slices.Contains(cells, PINN),
		probabilistic: cfg.Probabilistic,
		state:         model.NewStateManager(),
		opt:           newAdam(),
		rng:           rng,
	}
	for _, m := range cells {
		cellKind := m
		if m == PINN {
			cellKind = GRU
		}
		r.members = append(r.members, newNetwork(cellKind, shape, cfg, outputs, rng))
	}

	log.GetLoggerWithName("predictor").Debug("Predictor built",
		log.ModelNameKey, string(kind),
		"members", len(r.members),
		"params", r.numParams(),
	)
	return r, nil
}

func (r *Recurrent) Kind() Kind             { return r.kind }
func (r *Recurrent) InputShape() InputShape { return r.shape }
func (r *Recurrent) IsFitted() bool         { return r.state.IsFitted() }
func (r *Recurrent) Config() Config         { return r.cfg }

func (r *Recurrent) params() []*param {
	var ps []*param
	for _, n := range r.members {
		ps = append(ps, n.params()...)
	}
	return ps
}

func (r *Recurrent) numParams() int {
	total := 0
	for _, p := range r.params() {
		total += len(p.values())
	}
	return total
}

// Fit trains on X (N, window, features) against y (N, 1). Calling Fit again
// continues from the current weights.
func (r *Recurrent) Fit(ctx context.Context, X *tensor.Tensor, y *mat.Dense, val *Validation, opts FitOptions) (_ *History, err error) {
	defer errors.Recover(&err, "Recurrent.Fit")
	op := string(r.kind) + ".Fit"
	if err := checkInput(op, r.shape, X); err != nil {
		return nil, err
	}
	if err := checkTargets(op, X, y); err != nil {
		return nil, err
	}
	if val != nil && val.X != nil {
		if err := checkInput(op, r.shape, val.X); err != nil {
			return nil, err
		}
		if err := checkTargets(op, val.X, val.Y); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	hist, err := fitLoop(ctx, r, X, y, val, opts, loopConfig{
		name: string(r.kind),
		lr:   r.cfg.LearningRate,
		// physics penalties are defined on consecutive predictions
		shuffle: opts.Shuffle && !r.physics,
		rng:     r.rng,
		save:    r.saveWeights,
	})
	if err != nil {
		return hist, err
	}
	r.state.SetFitted()
	r.state.SetDimensions(r.shape.Features, X.Len())
	return hist, nil
}

// Predict returns the point prediction (the mean for probabilistic output).
func (r *Recurrent) Predict(X *tensor.Tensor) (_ *mat.Dense, err error) {
	defer errors.Recover(&err, "Recurrent.Predict")
	mu, _, err := r.predict(string(r.kind)+".Predict", X)
	if err != nil {
		return nil, err
	}
	return mat.NewDense(len(mu), 1, mu), nil
}

func (r *Recurrent) predict(op string, X *tensor.Tensor) (mu, logSigma []float64, err error) {
	if !r.state.IsFitted() {
		return nil, nil, errors.NewNotFittedError(string(r.kind), "Predict")
	}
	if err := checkInput(op, r.shape, X); err != nil {
		return nil, nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	mu, logSigma = r.outputs(X, allIndices(X.Len()))
	return mu, logSigma, nil
}

// outputs runs inference on samples idx, returning the averaged mean and,
// when probabilistic, the log-sigma.
func (r *Recurrent) outputs(X *tensor.Tensor, idx []int) (mu, logSigma []float64) {
	mu = make([]float64, len(idx))
	if r.probabilistic {
		logSigma = make([]float64, len(idx))
	}
	scale := 1 / float64(len(r.members))
	for k, i := range idx {
		xs := steps(X, i)
		for _, n := range r.members {
			out, _ := n.forward(xs, false, nil)
			mu[k] += out.AtVec(0) * scale
			if r.probabilistic {
				logSigma[k] = out.AtVec(1)
			}
		}
	}
	return mu, logSigma
}

// learner

func (r *Recurrent) trainBatch(X *tensor.Tensor, y *mat.Dense, idx []int, lr float64) (float64, error) {
	loss := r.lossAndGrad(X, y, idx, true)
	ps := r.params()
	for _, p := range ps {
		errors.ClipGradient(p.grads(), r.cfg.ClipNorm)
	}
	r.opt.step(ps, lr)
	return loss, nil
}

func (r *Recurrent) evaluate(X *tensor.Tensor, y *mat.Dense) (float64, error) {
	idx := allIndices(X.Len())
	mu, logSigma := r.outputs(X, idx)
	loss, _, _ := r.loss(mu, logSigma, targets(y, idx))
	return loss, nil
}

func (r *Recurrent) snapshot() []float64 {
	var w []float64
	for _, p := range r.params() {
		w = append(w, p.values()...)
	}
	return w
}

func (r *Recurrent) restore(w []float64) {
	off := 0
	for _, p := range r.params() {
		off += copy(p.values(), w[off:])
	}
}

// lossAndGrad runs samples idx forward, fills every parameter gradient and
// returns the batch loss.
func (r *Recurrent) lossAndGrad(X *tensor.Tensor, y *mat.Dense, idx []int, train bool) float64 {
	for _, p := range r.params() {
		p.g.Zero()
	}

	M := len(r.members)
	tapes := make([][]*tape, M)
	mu := make([]float64, len(idx))
	var logSigma []float64
	if r.probabilistic {
		logSigma = make([]float64, len(idx))
	}
	for m, n := range r.members {
		tapes[m] = make([]*tape, len(idx))
		for k, i := range idx {
			out, tp := n.forward(steps(X, i), train, r.rng)
			tapes[m][k] = tp
			mu[k] += out.AtVec(0) / float64(M)
			if r.probabilistic {
				logSigma[k] = out.AtVec(1)
			}
		}
	}

	loss, dmu, ds := r.loss(mu, logSigma, targets(y, idx))
	outputs := 1
	if r.probabilistic {
		outputs = 2
	}
	for m, n := range r.members {
		for k := range idx {
			dy := zeros(outputs)
			dy.SetVec(0, dmu[k]/float64(M))
			if r.probabilistic {
				dy.SetVec(1, ds[k])
			}
			n.backward(tapes[m][k], dy)
		}
	}
	return loss
}

// loss returns the batch loss with its gradients with respect to the mean
// and the log-sigma outputs.
//
//	point:          mean (p - y)²
//	probabilistic:  mean 0.5·log 2π + s + 0.5·((y - p)/e^s)²
//	physics adds    w·(mean p - mean y)² + w·mean (p_t - p_{t-1})²
func (r *Recurrent) loss(p, logSigma, y []float64) (loss float64, dp, ds []float64) {
	B := float64(len(p))
	dp = make([]float64, len(p))
	if r.probabilistic {
		ds = make([]float64, len(p))
		for i := range p {
			s := logSigma[i]
			clamped := s > maxLogSigma || s < -maxLogSigma
			s = math.Max(-maxLogSigma, math.Min(maxLogSigma, s))
			sigma := math.Exp(s)
			z := (y[i] - p[i]) / sigma
			loss += 0.5*math.Log(2*math.Pi) + s + 0.5*z*z
			dp[i] = -(y[i] - p[i]) / (sigma * sigma) / B
			if !clamped {
				ds[i] = (1 - z*z) / B
			}
		}
		return loss / B, dp, ds
	}

	for i := range p {
		e := p[i] - y[i]
		loss += e * e
		dp[i] = 2 * e / B
	}
	loss /= B

	if !r.physics || r.cfg.PhysicsWeight == 0 {
		return loss, dp, nil
	}
	w := r.cfg.PhysicsWeight
	if r.cfg.MassConservation {
		d := stat.Mean(p, nil) - stat.Mean(y, nil)
		loss += w * d * d
		for i := range dp {
			dp[i] += w * 2 * d / B
		}
	}
	if r.cfg.Smoothness && len(p) > 1 {
		K := float64(len(p) - 1)
		smooth := 0.0
		for t := 1; t < len(p); t++ {
			d := p[t] - p[t-1]
			smooth += d * d
			g := w * 2 * d / K
			dp[t] += g
			dp[t-1] -= g
		}
		loss += w * smooth / K
	}
	return loss, dp, nil
}

// weightsFile is the on-disk layout of SaveWeights.
type weightsFile struct {
	Kind          Kind
	Shape         InputShape
	Members       []Kind
	Probabilistic bool
	Params        []*mat.Dense
}

// SaveWeights writes the weights as an xz compressed gob file.
func (r *Recurrent) SaveWeights(path string) error {
	if !r.state.IsFitted() {
		return errors.NewNotFittedError(string(r.kind), "SaveWeights")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saveWeights(path)
}

func (r *Recurrent) saveWeights(path string) error {
	wf := weightsFile{Kind: r.kind, Shape: r.shape, Members: r.cfg.Members, Probabilistic: r.probabilistic}
	for _, p := range r.params() {
		wf.Params = append(wf.Params, mat.DenseCopyOf(p.w))
	}
	return model.SaveModel(wf, path)
}

// LoadWeights reads weights written by SaveWeights into a predictor built
// with the same kind, shape and architecture, and marks it fitted.
func (r *Recurrent) LoadWeights(path string) error {
	var wf weightsFile
	if err := model.LoadModel(&wf, path); err != nil {
		return err
	}
	if wf.Kind != r.kind || wf.Probabilistic != r.probabilistic {
		return errors.NewValidationError("weights", "saved predictor kind does not match", wf.Kind)
	}
	if wf.Shape != r.shape {
		return errors.NewValidationError("weights", "saved input shape does not match", wf.Shape)
	}
	ps := r.params()
	if len(wf.Params) != len(ps) {
		return errors.NewDimensionError(string(r.kind)+".LoadWeights", len(ps), len(wf.Params), 0)
	}
	for i, p := range ps {
		wr, wc := wf.Params[i].Dims()
		pr, pc := p.w.Dims()
		if wr != pr || wc != pc {
			return errors.NewDimensionError(string(r.kind)+".LoadWeights", pr*pc, wr*wc, i)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range ps {
		p.w.Copy(wf.Params[i])
	}
	r.state.SetFitted()
	return nil
}

// GaussianRecurrent is a probabilistic Recurrent predictor.
type GaussianRecurrent struct {
	*Recurrent
}

// PredictDistribution returns the predicted mean and standard deviation.
func (g *GaussianRecurrent) PredictDistribution(X *tensor.Tensor) (mean, std []float64, err error) {
	defer errors.Recover(&err, "GaussianRecurrent.PredictDistribution")
	mu, logSigma, err := g.predict(string(g.kind)+".PredictDistribution", X)
	if err != nil {
		return nil, nil, err
	}
	std = make([]float64, len(logSigma))
	for i, s := range logSigma {
		std[i] = math.Exp(math.Max(-maxLogSigma, math.Min(maxLogSigma, s)))
	}
	return mu, std, nil
}

func steps(X *tensor.Tensor, i int) []*mat.VecDense {
	_, w, f := X.Dims()
	out := make([]*mat.VecDense, w)
	for s := range out {
		out[s] = mat.NewVecDense(f, X.Step(i, s))
	}
	return out
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func targets(y *mat.Dense, idx []int) []float64 {
	out := make([]float64, len(idx))
	for k, i := range idx {
		out[k] = y.At(i, 0)
	}
	return out
}
