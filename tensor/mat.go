// Package tensor provides the dense 2-D matrix the engine computes on and
// the Computer abstraction that executes matrix primitives either on the
// host or on an accelerator.
package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Mat is a row-major dense matrix. Host storage is a gonum Dense; a device
// copy, when one exists, is owned by the Computer that staged it.
type Mat struct {
	d *mat.Dense
}

// New returns a zeroed rows x cols matrix. It panics if either dimension is
// not positive.
func New(rows, cols int) *Mat {
	return &Mat{d: mat.NewDense(rows, cols, nil)}
}

// NewFromData wraps data (row-major, len rows*cols) without copying.
func NewFromData(rows, cols int, data []float64) *Mat {
	return &Mat{d: mat.NewDense(rows, cols, data)}
}

// Rows returns the row count.
func (m *Mat) Rows() int { r, _ := m.d.Dims(); return r }

// Cols returns the column count.
func (m *Mat) Cols() int { _, c := m.d.Dims(); return c }

// Dims returns rows and columns.
func (m *Mat) Dims() (int, int) { return m.d.Dims() }

// Len returns rows*cols.
func (m *Mat) Len() int {
	r, c := m.d.Dims()
	return r * c
}

func (m *Mat) At(i, j int) float64     { return m.d.At(i, j) }
func (m *Mat) Set(i, j int, v float64) { m.d.Set(i, j, v) }

// Data returns the host backing slice in row-major order. Writes through it
// are visible to the matrix.
func (m *Mat) Data() []float64 { return m.d.RawMatrix().Data }

// Dense exposes the gonum matrix for callers that want the full gonum API.
func (m *Mat) Dense() *mat.Dense { return m.d }

// SameShape reports whether m and o have equal dimensions.
func (m *Mat) SameShape(o *Mat) bool {
	mr, mc := m.d.Dims()
	or, oc := o.d.Dims()
	return mr == or && mc == oc
}

// Full sets every host element to v.
func (m *Mat) Full(v float64) {
	data := m.Data()
	for i := range data {
		data[i] = v
	}
}

// Gen sets every host element from its coordinates.
func (m *Mat) Gen(f func(i, j int) float64) {
	r, c := m.d.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.d.Set(i, j, f(i, j))
		}
	}
}

// Sum reduces the host elements.
func (m *Mat) Sum() float64 { return mat.Sum(m.d) }

// MapSum applies f to every host element and sums the results.
func (m *Mat) MapSum(f func(float64) float64) float64 {
	var s float64
	for _, v := range m.Data() {
		s += f(v)
	}
	return s
}

// Clone returns a deep host copy.
func (m *Mat) Clone() *Mat {
	return &Mat{d: mat.DenseCopyOf(m.d)}
}

// CopyFrom overwrites m's host values with o's.
func (m *Mat) CopyFrom(o *Mat) error {
	if !m.SameShape(o) {
		return shapeErr("copy", m, o)
	}
	m.d.Copy(o.d)
	return nil
}

// Equal reports whether m and o have the same shape and values.
func (m *Mat) Equal(o *Mat) bool { return mat.Equal(m.d, o.d) }

// EqualApprox reports whether m and o have the same shape and every pair of
// elements is within tol, absolutely or relatively.
func (m *Mat) EqualApprox(o *Mat, tol float64) bool {
	if !m.SameShape(o) {
		return false
	}
	return floats.EqualApprox(m.Data(), o.Data(), tol)
}

// Format prints the host values through gonum's matrix formatter.
func (m *Mat) Format(f fmt.State, verb rune) {
	mat.Formatted(m.d, mat.Squeeze()).Format(f, verb)
}

// Send stages m onto c.
func (m *Mat) Send(c Computer) error { return c.Send(m) }

// Receive stages m back from c.
func (m *Mat) Receive(c Computer) error { return c.Receive(m) }

// Grab allocates m on c without copying host values.
func (m *Mat) Grab(c Computer) error { return c.Grab(m) }

// Release frees m's buffer on c.
func (m *Mat) Release(c Computer) error { return c.Release(m) }
