// Package emu is a software accelerator. It keeps its own float32 copy of
// every staged matrix and runs kernels through the kernel package, so code
// written against a device Computer can be exercised on machines without a
// GPU. Host values are only updated on Receive, exactly as with a real
// device.
package emu

import (
	"fmt"
	"sync"

	"github.com/openfluke/neurocf/kernel"
	"github.com/openfluke/neurocf/tensor"
)

// Device implements tensor.Computer over host-side float32 buffers.
type Device struct {
	mu         sync.Mutex
	bufs       map[*tensor.Mat][]float32
	kernels    map[string]func(float32) float32
	dispatches int
}

var _ tensor.Computer = (*Device)(nil)

// New returns an empty device.
func New() *Device {
	return &Device{
		bufs:    make(map[*tensor.Mat][]float32),
		kernels: make(map[string]func(float32) float32),
	}
}

func (d *Device) Name() string { return "emu" }
func (d *Device) Device() bool { return true }

func (d *Device) Resident(m *tensor.Mat) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.bufs[m]
	return ok
}

// Live returns the number of matrices currently staged.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.bufs)
}

// Dispatches returns how many primitives have run since New.
func (d *Device) Dispatches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dispatches
}

func (d *Device) grab(m *tensor.Mat) []float32 {
	b, ok := d.bufs[m]
	if !ok || len(b) != m.Len() {
		b = make([]float32, m.Len())
		d.bufs[m] = b
	}
	return b
}

func (d *Device) Grab(m *tensor.Mat) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grab(m)
	return nil
}

func (d *Device) Send(m *tensor.Mat) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.grab(m)
	for i, v := range m.Data() {
		b[i] = float32(v)
	}
	return nil
}

func (d *Device) Receive(m *tensor.Mat) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bufs[m]
	if !ok {
		return fmt.Errorf("emu receive: %w", tensor.ErrNotResident)
	}
	data := m.Data()
	for i, v := range b {
		data[i] = float64(v)
	}
	return nil
}

func (d *Device) Release(m *tensor.Mat) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bufs, m)
	return nil
}

// lookup returns the device buffers of ms, or ErrNotResident naming op.
// Callers hold d.mu.
func (d *Device) lookup(op string, ms ...*tensor.Mat) ([][]float32, error) {
	out := make([][]float32, len(ms))
	for i, m := range ms {
		b, ok := d.bufs[m]
		if !ok {
			return nil, fmt.Errorf("emu %s operand %d: %w", op, i, tensor.ErrNotResident)
		}
		out[i] = b
	}
	d.dispatches++
	return out, nil
}

func (d *Device) Mul(a, b, out *tensor.Mat, t tensor.Transpose) error {
	if err := tensor.CheckMul(a, b, out, t); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	bufs, err := d.lookup("mul", a, b, out)
	if err != nil {
		return err
	}
	ab, bb, ob := bufs[0], bufs[1], bufs[2]

	rows, cols := out.Dims()
	ac, bc := a.Cols(), b.Cols()
	inner := ac
	if t == tensor.First {
		inner = a.Rows()
	}
	res := make([]float32, len(ob))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var s float32
			for k := 0; k < inner; k++ {
				var x, y float32
				if t == tensor.First {
					x = ab[k*ac+i]
				} else {
					x = ab[i*ac+k]
				}
				if t == tensor.Second {
					y = bb[j*bc+k]
				} else {
					y = bb[k*bc+j]
				}
				s += x * y
			}
			res[i*cols+j] = s
		}
	}
	copy(ob, res)
	return nil
}

func (d *Device) zip(op string, a, b, out *tensor.Mat, f func(x, y float32) float32) error {
	if err := tensor.CheckSame(op, a, b, out); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	bufs, err := d.lookup(op, a, b, out)
	if err != nil {
		return err
	}
	ab, bb, ob := bufs[0], bufs[1], bufs[2]
	for i := range ob {
		ob[i] = f(ab[i], bb[i])
	}
	return nil
}

func (d *Device) Sub(a, b, out *tensor.Mat) error {
	return d.zip("sub", a, b, out, func(x, y float32) float32 { return x - y })
}

func (d *Device) Hadamard(a, b, out *tensor.Mat) error {
	return d.zip("hadamard", a, b, out, func(x, y float32) float32 { return x * y })
}

func (d *Device) apply(op string, in, out *tensor.Mat, f func(float32) float32) error {
	if err := tensor.CheckSame(op, in, out); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	bufs, err := d.lookup(op, in, out)
	if err != nil {
		return err
	}
	ib, ob := bufs[0], bufs[1]
	for i := range ob {
		ob[i] = f(ib[i])
	}
	return nil
}

func (d *Device) Scale(in, out *tensor.Mat, k float64) error {
	k32 := float32(k)
	return d.apply("scale", in, out, func(v float32) float32 { return k32 * v })
}

func (d *Device) Map(in, out *tensor.Mat, f tensor.Func) error {
	if err := f.Check(d, "map"); err != nil {
		return err
	}
	fn, err := d.compile(f.Kernel)
	if err != nil {
		return err
	}
	return d.apply("map", in, out, fn)
}

func (d *Device) Fill(m *tensor.Mat, v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	bufs, err := d.lookup("fill", m)
	if err != nil {
		return err
	}
	v32 := float32(v)
	for i := range bufs[0] {
		bufs[0][i] = v32
	}
	return nil
}

// compile returns the cached evaluator for src. Each evaluator reuses one
// frame, which is safe because dispatches are serialized by d.mu.
func (d *Device) compile(src string) (func(float32) float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn, ok := d.kernels[src]; ok {
		return fn, nil
	}
	p, err := kernel.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("emu compile: %w", err)
	}
	fn := p.Func32()
	d.kernels[src] = fn
	return fn, nil
}
