package nn

import (
	"fmt"
	"maps"
	"slices"

	"github.com/openfluke/neurocf/tensor"
)

// Layer is one stage of a network. Its weight matrices are keyed by the
// width of the predecessor feeding it; the matrix for width p is
// neurons x p and is created, and initialized once, the first time a
// predecessor of width p is used.
type Layer struct {
	neurons    int
	weights    map[int]*tensor.Mat
	activation tensor.Func
	derivative tensor.Func
	init       Init
}

// NewLayer returns a layer with the given output width and no functions
// set. It panics if neurons is not positive.
func NewLayer(neurons int) *Layer {
	if neurons <= 0 {
		panic(fmt.Sprintf("nn: layer width %d", neurons))
	}
	return &Layer{neurons: neurons, weights: make(map[int]*tensor.Mat)}
}

func (l *Layer) Neurons() int                { return l.neurons }
func (l *Layer) Activation() tensor.Func     { return l.activation }
func (l *Layer) Derivative() tensor.Func     { return l.derivative }
func (l *Layer) Init() Init                  { return l.init }
func (l *Layer) SetActivation(f tensor.Func) { l.activation = f }
func (l *Layer) SetDerivative(f tensor.Func) { l.derivative = f }
func (l *Layer) SetInit(i Init)              { l.init = i }

// Widths returns the predecessor widths that currently have a weight matrix,
// in ascending order.
func (l *Layer) Widths() []int {
	return slices.Sorted(maps.Keys(l.weights))
}

// CheckCore reports whether a weight matrix for predecessor width p exists.
func (l *Layer) CheckCore(p int) bool {
	_, ok := l.weights[p]
	return ok
}

// CreateCore makes sure the weight matrix for predecessor width p exists.
// On a device the new matrix is allocated there and initialized with the
// device initializer. An existing matrix is left untouched.
func (l *Layer) CreateCore(c tensor.Computer, p int) error {
	if l.CheckCore(p) {
		return nil
	}
	w, err := newInitialized(c, l.init, l.neurons, p)
	if err != nil {
		return fmt.Errorf("layer %d core %d: %w", l.neurons, p, err)
	}
	l.weights[p] = w
	return nil
}

// newInitialized allocates a rows x cols matrix and runs init on c.
func newInitialized(c tensor.Computer, init Init, rows, cols int) (*tensor.Mat, error) {
	if cols <= 0 {
		return nil, configErr("width %d", cols)
	}
	if !init.Ready(c) {
		return nil, configErr("no initializer for %s", c.Name())
	}
	m := tensor.New(rows, cols)
	if c.Device() {
		if err := c.Grab(m); err != nil {
			return nil, err
		}
	}
	if err := init.run(c, m); err != nil {
		_ = c.Release(m)
		return nil, err
	}
	return m, nil
}

// ReleaseCore evicts the weight matrix for width p, freeing its device copy
// on c if it has one.
func (l *Layer) ReleaseCore(c tensor.Computer, p int) error {
	w, ok := l.weights[p]
	if !ok {
		return nil
	}
	delete(l.weights, p)
	return c.Release(w)
}

// SetCore installs w as the weight matrix for predecessor width p,
// replacing any existing one. w must be neurons x p. Only host values are
// set; stage the layer again before using it on a device.
func (l *Layer) SetCore(p int, w *tensor.Mat) error {
	if r, c := w.Dims(); r != l.neurons || c != p {
		return configErr("layer %d core %d: got %dx%d", l.neurons, p, r, c)
	}
	l.weights[p] = w
	return nil
}

// Core returns the weight matrix for predecessor width p.
func (l *Layer) Core(p int) (*tensor.Mat, error) {
	w, ok := l.weights[p]
	if !ok {
		return nil, rangeErr("layer %d has no core for width %d", l.neurons, p)
	}
	return w, nil
}

// Activate is the leaf query: out = activation(in).
func (l *Layer) Activate(c tensor.Computer, in, out *tensor.Mat) error {
	if err := l.activation.Check(c, "activation"); err != nil {
		return configErr("layer %d: %w", l.neurons, err)
	}
	return c.Map(in, out, l.activation)
}

// Forward is the connected query: preout = W[prev]·in, out = activation(preout).
func (l *Layer) Forward(c tensor.Computer, in, preout, out *tensor.Mat, prev *Layer) error {
	if err := l.activation.Check(c, "activation"); err != nil {
		return configErr("layer %d: %w", l.neurons, err)
	}
	if err := l.CreateCore(c, prev.neurons); err != nil {
		return err
	}
	if err := c.Mul(l.weights[prev.neurons], in, preout, tensor.None); err != nil {
		return err
	}
	return c.Map(preout, out, l.activation)
}

// OutputError sets err = answer - out.
func (l *Layer) OutputError(c tensor.Computer, answer, out, err *tensor.Mat) error {
	return c.Sub(answer, out, err)
}

// HiddenError back-propagates next's error through the weights next keeps
// for this layer's width: err = (Wᵀ·nextErr) ⊙ derivative(preout). preout is
// overwritten with derivative(preout).
func (l *Layer) HiddenError(c tensor.Computer, nextErr, preout, err *tensor.Mat, next *Layer) error {
	if e := l.derivative.Check(c, "derivative"); e != nil {
		return configErr("layer %d: %w", l.neurons, e)
	}
	w, e := next.Core(l.neurons)
	if e != nil {
		return e
	}
	if e := c.Mul(w, nextErr, err, tensor.First); e != nil {
		return e
	}
	if e := c.Map(preout, preout, l.derivative); e != nil {
		return e
	}
	return c.Hadamard(err, preout, err)
}

// Cost is the mean of costFn over the host values of e. Device callers
// receive e first.
func (l *Layer) Cost(e *tensor.Mat, costFn CostFunc) (float64, error) {
	if costFn == nil {
		return 0, configErr("layer %d: no cost function", l.neurons)
	}
	return e.MapSum(costFn) / float64(e.Len()), nil
}

// Gradient computes grad = -(divCost(e)·prevOutᵀ) / len(e). e is overwritten
// with divCost(e).
func (l *Layer) Gradient(c tensor.Computer, e, prevOut, grad *tensor.Mat, divCost tensor.Func) error {
	if err := divCost.Check(c, "cost derivative"); err != nil {
		return configErr("layer %d: %w", l.neurons, err)
	}
	if err := c.Map(e, e, divCost); err != nil {
		return err
	}
	if err := c.Mul(e, prevOut, grad, tensor.Second); err != nil {
		return err
	}
	return c.Scale(grad, grad, -1/float64(e.Len()))
}

// Descend applies one gradient descent step to the weights for prev's
// width, creating them first if needed. grad is scaled by lr in place.
func (l *Layer) Descend(c tensor.Computer, grad *tensor.Mat, prev *Layer, lr float64) error {
	if err := l.CreateCore(c, prev.neurons); err != nil {
		return err
	}
	return GD(c, l.weights[prev.neurons], grad, lr)
}

/* ---------- stock forms ---------- */

// QueryInput runs the leaf query from a raw input batch into s.
func (l *Layer) QueryInput(c tensor.Computer, in *tensor.Mat, s *Stock) error {
	return l.Activate(c, in, s.out)
}

// Query runs the connected query from in's output into out.
func (l *Layer) Query(c tensor.Computer, in, out *Stock) error {
	return l.Forward(c, in.out, out.preout, out.out, in.layer)
}

// ErrorAnswer sets s's error against a target batch.
func (l *Layer) ErrorAnswer(c tensor.Computer, answer *tensor.Mat, s *Stock) error {
	return l.OutputError(c, answer, s.out, s.err)
}

// Error back-propagates next's error into s.
func (l *Layer) Error(c tensor.Computer, next, s *Stock) error {
	return l.HiddenError(c, next.err, s.preout, s.err, next.layer)
}

// StockCost is Cost over s's error.
func (l *Layer) StockCost(s *Stock, costFn CostFunc) (float64, error) {
	return l.Cost(s.err, costFn)
}

// Grad computes out's gradient for in's width, creating the gradient
// matrix first if needed.
func (l *Layer) Grad(c tensor.Computer, in, out *Stock, divCost tensor.Func) error {
	if err := divCost.Check(c, "cost derivative"); err != nil {
		return configErr("layer %d: %w", l.neurons, err)
	}
	if err := out.CreateGrad(c, in.layer.neurons); err != nil {
		return err
	}
	return l.Gradient(c, out.err, in.out, out.grads[in.layer.neurons], divCost)
}

// Train descends along the gradient out holds for in's width.
func (l *Layer) Train(c tensor.Computer, in, out *Stock, lr float64) error {
	g, err := out.Grad(in.layer.neurons)
	if err != nil {
		return err
	}
	return l.Descend(c, g, in.layer, lr)
}

/* ---------- device lifecycle ---------- */

func (l *Layer) each(fn func(m *tensor.Mat) error) error {
	for _, p := range l.Widths() {
		if err := fn(l.weights[p]); err != nil {
			return fmt.Errorf("layer %d core %d: %w", l.neurons, p, err)
		}
	}
	return nil
}

// Send stages every weight matrix onto c.
func (l *Layer) Send(c tensor.Computer) error { return l.each(c.Send) }

// Receive copies every weight matrix back from c.
func (l *Layer) Receive(c tensor.Computer) error { return l.each(c.Receive) }

// Grab allocates every weight matrix on c.
func (l *Layer) Grab(c tensor.Computer) error { return l.each(c.Grab) }

// Release frees every weight matrix's device copy on c. The host matrices
// are kept.
func (l *Layer) Release(c tensor.Computer) error { return l.each(c.Release) }

// reset drops every weight matrix after freeing its device copy.
func (l *Layer) reset(c tensor.Computer) error {
	err := l.Release(c)
	clear(l.weights)
	return err
}
