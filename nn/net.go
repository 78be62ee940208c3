package nn

import (
	"errors"
	"fmt"

	"github.com/openfluke/neurocf/tensor"
)

// Net is an ordered chain of layers. Layers created by the net are owned
// and torn down by Close; layers supplied by the caller are only borrowed.
type Net struct {
	layers []slot[Layer]
}

// NewNet returns an empty net.
func NewNet() *Net { return &Net{} }

// NewNetFromWidths creates and owns one layer per width, in order.
func NewNetFromWidths(widths ...int) *Net {
	n := &Net{layers: make([]slot[Layer], 0, len(widths))}
	for _, w := range widths {
		n.layers = append(n.layers, owned[Layer]{NewLayer(w)})
	}
	return n
}

// NewNetFromLayers chains caller-owned layers.
func NewNetFromLayers(layers ...*Layer) *Net {
	n := &Net{layers: make([]slot[Layer], 0, len(layers))}
	for _, l := range layers {
		n.PushBack(l)
	}
	return n
}

// PushBack appends a borrowed layer.
func (n *Net) PushBack(l *Layer) { n.layers = append(n.layers, borrowed[Layer]{l}) }

// PopBack removes and returns the last layer. An owned layer passes to the
// caller with any device copies it still has.
func (n *Net) PopBack() (*Layer, error) {
	if len(n.layers) == 0 {
		return nil, rangeErr("pop from empty net")
	}
	last := n.layers[len(n.layers)-1]
	n.layers = n.layers[:len(n.layers)-1]
	return last.ref(), nil
}

// Len returns the number of layers.
func (n *Net) Len() int { return len(n.layers) }

// Layer returns layer i.
func (n *Net) Layer(i int) (*Layer, error) {
	if i < 0 || i >= len(n.layers) {
		return nil, rangeErr("layer %d of %d", i, len(n.layers))
	}
	return n.layers[i].ref(), nil
}

// Owned reports whether layer i was created by the net.
func (n *Net) Owned(i int) (bool, error) {
	if i < 0 || i >= len(n.layers) {
		return false, rangeErr("layer %d of %d", i, len(n.layers))
	}
	return isOwned(n.layers[i]), nil
}

func (n *Net) layer(i int) *Layer { return n.layers[i].ref() }

// selected resolves idx to layers, or every layer when idx is empty. Any
// bad index fails the whole selection.
func (n *Net) selected(idx []int) ([]*Layer, error) {
	if len(idx) == 0 {
		out := make([]*Layer, len(n.layers))
		for i := range n.layers {
			out[i] = n.layer(i)
		}
		return out, nil
	}
	out := make([]*Layer, 0, len(idx))
	for _, i := range idx {
		l, err := n.Layer(i)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// SetActivations sets the activation of the layers at idx, or of every layer.
func (n *Net) SetActivations(f tensor.Func, idx ...int) error {
	ls, err := n.selected(idx)
	if err != nil {
		return err
	}
	for _, l := range ls {
		l.SetActivation(f)
	}
	return nil
}

// SetDerivatives sets the derivative of the layers at idx, or of every layer.
func (n *Net) SetDerivatives(f tensor.Func, idx ...int) error {
	ls, err := n.selected(idx)
	if err != nil {
		return err
	}
	for _, l := range ls {
		l.SetDerivative(f)
	}
	return nil
}

// SetInits sets the initializer of the layers at idx, or of every layer.
func (n *Net) SetInits(init Init, idx ...int) error {
	ls, err := n.selected(idx)
	if err != nil {
		return err
	}
	for _, l := range ls {
		l.SetInit(init)
	}
	return nil
}

// SetActivationType sets a built-in activation and its derivative.
func (n *Net) SetActivationType(a ActivationType, idx ...int) error {
	f, err := a.Func()
	if err != nil {
		return err
	}
	d, err := a.Derivative()
	if err != nil {
		return err
	}
	ls, err := n.selected(idx)
	if err != nil {
		return err
	}
	for _, l := range ls {
		l.SetActivation(f)
		l.SetDerivative(d)
	}
	return nil
}

func (n *Net) checkPool(pool *StockPool) error {
	if len(n.layers) == 0 {
		return configErr("empty net")
	}
	if pool == nil || pool.Len() != len(n.layers) {
		got := 0
		if pool != nil {
			got = pool.Len()
		}
		return configErr("pool has %d stocks for %d layers", got, len(n.layers))
	}
	return nil
}

// Query runs the input batch through every layer. Stock i receives layer
// i's output.
func (n *Net) Query(c tensor.Computer, input *tensor.Mat, pool *StockPool) error {
	if err := n.checkPool(pool); err != nil {
		return err
	}
	for i := range n.layers {
		if err := n.layer(i).activation.Check(c, "activation"); err != nil {
			return configErr("layer %d: %w", i, err)
		}
	}
	if err := n.layer(0).QueryInput(c, input, pool.stock(0)); err != nil {
		return fmt.Errorf("query layer 0: %w", err)
	}
	for i := 1; i < len(n.layers); i++ {
		if err := n.layer(i).Query(c, pool.stock(i-1), pool.stock(i)); err != nil {
			return fmt.Errorf("query layer %d: %w", i, err)
		}
	}
	return nil
}

// Error sets the last stock's error against answer and back-propagates it
// down to layer 1. Layer 0 has no incoming weights, so stock 0's error is
// left untouched.
func (n *Net) Error(c tensor.Computer, answer *tensor.Mat, pool *StockPool) error {
	if err := n.checkPool(pool); err != nil {
		return err
	}
	last := len(n.layers) - 1
	for i := last - 1; i >= 1; i-- {
		if err := n.layer(i).derivative.Check(c, "derivative"); err != nil {
			return configErr("layer %d: %w", i, err)
		}
	}
	if err := n.layer(last).ErrorAnswer(c, answer, pool.stock(last)); err != nil {
		return fmt.Errorf("error layer %d: %w", last, err)
	}
	for i := last - 1; i >= 1; i-- {
		if err := n.layer(i).Error(c, pool.stock(i+1), pool.stock(i)); err != nil {
			return fmt.Errorf("error layer %d: %w", i, err)
		}
	}
	return nil
}

// Cost evaluates costFn over the last stock's error on the host.
func (n *Net) Cost(pool *StockPool, costFn CostFunc) (float64, error) {
	if err := n.checkPool(pool); err != nil {
		return 0, err
	}
	last := len(n.layers) - 1
	return n.layer(last).StockCost(pool.stock(last), costFn)
}

// Grad computes the gradients of layers 1..N-1. Missing initializers are
// reported before any gradient is written.
func (n *Net) Grad(c tensor.Computer, pool *StockPool, divCost tensor.Func) error {
	if err := n.checkPool(pool); err != nil {
		return err
	}
	if err := divCost.Check(c, "cost derivative"); err != nil {
		return configErr("%w", err)
	}
	for i := 1; i < len(n.layers); i++ {
		p := n.layer(i - 1).neurons
		if !pool.stock(i).CheckGrad(p) && !n.layer(i).init.Ready(c) {
			return configErr("layer %d: no initializer for %s", i, c.Name())
		}
	}
	for i := 1; i < len(n.layers); i++ {
		if err := n.layer(i).Grad(c, pool.stock(i-1), pool.stock(i), divCost); err != nil {
			return fmt.Errorf("grad layer %d: %w", i, err)
		}
	}
	return nil
}

// Train applies gradient descent to layers 1..N-1. Every grad is checked
// first, so a failure leaves all weights untouched.
func (n *Net) Train(c tensor.Computer, pool *StockPool, lr float64) error {
	if err := n.checkPool(pool); err != nil {
		return err
	}
	for i := 1; i < len(n.layers); i++ {
		p := n.layer(i - 1).neurons
		if !pool.stock(i).CheckGrad(p) {
			return rangeErr("stock %d has no grad for width %d", i, p)
		}
		if !n.layer(i).CheckCore(p) && !n.layer(i).init.Ready(c) {
			return configErr("layer %d: no initializer for %s", i, c.Name())
		}
	}
	for i := 1; i < len(n.layers); i++ {
		if err := n.layer(i).Train(c, pool.stock(i-1), pool.stock(i), lr); err != nil {
			return fmt.Errorf("train layer %d: %w", i, err)
		}
	}
	return nil
}

func (n *Net) each(fn func(l *Layer) error) error {
	for i := range n.layers {
		if err := fn(n.layer(i)); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return nil
}

// Send stages every layer's weights onto c.
func (n *Net) Send(c tensor.Computer) error {
	return n.each(func(l *Layer) error { return l.Send(c) })
}

// Receive copies every layer's weights back from c.
func (n *Net) Receive(c tensor.Computer) error {
	return n.each(func(l *Layer) error { return l.Receive(c) })
}

// Grab allocates every layer's weights on c.
func (n *Net) Grab(c tensor.Computer) error {
	return n.each(func(l *Layer) error { return l.Grab(c) })
}

// Release frees every layer's device copies on c.
func (n *Net) Release(c tensor.Computer) error {
	return n.each(func(l *Layer) error { return l.Release(c) })
}

// Close tears down the owned layers, freeing their device copies on c and
// dropping their weights, and empties the net. Borrowed layers are left as
// they are.
func (n *Net) Close(c tensor.Computer) error {
	var errs []error
	for _, s := range n.layers {
		if isOwned(s) {
			errs = append(errs, s.ref().reset(c))
		}
	}
	n.layers = nil
	return errors.Join(errs...)
}
