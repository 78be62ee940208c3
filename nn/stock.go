package nn

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/openfluke/neurocf/tensor"
)

// Stock is a layer's scratch space for one batch width: pre-activation,
// output and error buffers, plus gradient matrices keyed by predecessor
// width. The layer is referenced, not owned.
type Stock struct {
	layer  *Layer
	width  int
	preout *tensor.Mat
	out    *tensor.Mat
	err    *tensor.Mat
	grads  map[int]*tensor.Mat
}

// NewStock allocates l.Neurons() x batchWidth buffers for l.
func NewStock(l *Layer, batchWidth int) *Stock {
	return &Stock{
		layer:  l,
		width:  batchWidth,
		preout: tensor.New(l.neurons, batchWidth),
		out:    tensor.New(l.neurons, batchWidth),
		err:    tensor.New(l.neurons, batchWidth),
		grads:  make(map[int]*tensor.Mat),
	}
}

func (s *Stock) Layer() *Layer       { return s.layer }
func (s *Stock) BatchWidth() int     { return s.width }
func (s *Stock) Preout() *tensor.Mat { return s.preout }
func (s *Stock) Out() *tensor.Mat    { return s.out }
func (s *Stock) Error() *tensor.Mat  { return s.err }

// GradWidths returns the predecessor widths that have a gradient matrix, in
// ascending order.
func (s *Stock) GradWidths() []int {
	return slices.Sorted(maps.Keys(s.grads))
}

// CheckGrad reports whether a gradient matrix for width p exists.
func (s *Stock) CheckGrad(p int) bool {
	_, ok := s.grads[p]
	return ok
}

// CreateGrad makes sure the gradient matrix for width p exists, creating it
// with the layer's initializer.
func (s *Stock) CreateGrad(c tensor.Computer, p int) error {
	if s.CheckGrad(p) {
		return nil
	}
	g, err := newInitialized(c, s.layer.init, s.layer.neurons, p)
	if err != nil {
		return fmt.Errorf("stock %d grad %d: %w", s.layer.neurons, p, err)
	}
	s.grads[p] = g
	return nil
}

// ReleaseGrad evicts the gradient matrix for width p, freeing its device
// copy on c if it has one.
func (s *Stock) ReleaseGrad(c tensor.Computer, p int) error {
	g, ok := s.grads[p]
	if !ok {
		return nil
	}
	delete(s.grads, p)
	return c.Release(g)
}

// Grad returns the gradient matrix for width p.
func (s *Stock) Grad(p int) (*tensor.Mat, error) {
	g, ok := s.grads[p]
	if !ok {
		return nil, rangeErr("stock %d has no grad for width %d", s.layer.neurons, p)
	}
	return g, nil
}

func (s *Stock) each(fn func(m *tensor.Mat) error) error {
	for _, m := range []*tensor.Mat{s.preout, s.err, s.out} {
		if err := fn(m); err != nil {
			return err
		}
	}
	for _, p := range s.GradWidths() {
		if err := fn(s.grads[p]); err != nil {
			return fmt.Errorf("grad %d: %w", p, err)
		}
	}
	return nil
}

// Send stages every buffer and gradient onto c.
func (s *Stock) Send(c tensor.Computer) error { return s.each(c.Send) }

// Receive copies every buffer and gradient back from c.
func (s *Stock) Receive(c tensor.Computer) error { return s.each(c.Receive) }

// Grab allocates every buffer and gradient on c.
func (s *Stock) Grab(c tensor.Computer) error { return s.each(c.Grab) }

// Release frees every device copy on c.
func (s *Stock) Release(c tensor.Computer) error { return s.each(c.Release) }

func (s *Stock) reset(c tensor.Computer) error {
	err := s.Release(c)
	clear(s.grads)
	return err
}

// String renders the output and error buffers.
func (s *Stock) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stock %dx%d\n", s.layer.neurons, s.width)
	fmt.Fprintf(&b, "out:\n%v\n", s.out)
	fmt.Fprintf(&b, "error:\n%v\n", s.err)
	return b.String()
}
