package tensor

import (
	"errors"
	"fmt"
)

var (
	// ErrShape is returned when operand dimensions do not agree.
	ErrShape = errors.New("tensor: shape mismatch")
	// ErrNotResident is returned by a device when an operand was never
	// staged onto it.
	ErrNotResident = errors.New("tensor: matrix not resident on device")
	// ErrUnsetFunc is returned when a Func has no half for the executing
	// computer.
	ErrUnsetFunc = errors.New("tensor: function not set for this computer")
)

func shapeErr(op string, ms ...*Mat) error {
	dims := make([]any, 0, len(ms)*2)
	format := "%w: " + op
	for _, m := range ms {
		format += " %dx%d"
		r, c := m.Dims()
		dims = append(dims, r, c)
	}
	return fmt.Errorf(format, append([]any{ErrShape}, dims...)...)
}

// Transpose selects which Mul operand is read transposed.
type Transpose int

const (
	None Transpose = iota
	First
	Second
)

func (t Transpose) String() string {
	switch t {
	case None:
		return "none"
	case First:
		return "first"
	case Second:
		return "second"
	}
	return fmt.Sprintf("Transpose(%d)", int(t))
}

// Computer executes matrix primitives. The host computer operates on the
// host values directly; a device computer operates on staged copies and
// leaves host values stale until Receive.
//
// Output matrices may alias inputs for every element-wise primitive and for
// Mul.
type Computer interface {
	Name() string
	// Device reports whether operands must be staged before use.
	Device() bool
	// Resident reports whether m currently has storage on this computer.
	Resident(m *Mat) bool

	// Grab allocates storage for m without copying host values.
	Grab(m *Mat) error
	// Send allocates storage if needed and copies the host values in.
	Send(m *Mat) error
	// Receive copies the stored values back to the host.
	Receive(m *Mat) error
	// Release frees the storage. Releasing a matrix that is not resident is
	// a no-op.
	Release(m *Mat) error

	// Mul stores op(a)·op(b) into out.
	Mul(a, b, out *Mat, t Transpose) error
	// Sub stores a-b into out.
	Sub(a, b, out *Mat) error
	// Map stores f(in) element-wise into out.
	Map(in, out *Mat, f Func) error
	// Hadamard stores the element-wise product into out.
	Hadamard(a, b, out *Mat) error
	// Scale stores k*in into out.
	Scale(in, out *Mat, k float64) error
	// Fill sets every element of m to v.
	Fill(m *Mat, v float64) error
}

// MulShape returns the dimensions of op(a)·op(b), or ErrShape when the inner
// dimensions disagree.
func MulShape(a, b *Mat, t Transpose) (int, int, error) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	switch t {
	case First:
		ar, ac = ac, ar
	case Second:
		br, bc = bc, br
	}
	if ac != br {
		return 0, 0, shapeErr("mul "+t.String(), a, b)
	}
	return ar, bc, nil
}

// CheckMul validates the operand and output dimensions of a Mul.
func CheckMul(a, b, out *Mat, t Transpose) error {
	r, c, err := MulShape(a, b, t)
	if err != nil {
		return err
	}
	if or, oc := out.Dims(); or != r || oc != c {
		return fmt.Errorf("%w: mul %s result %dx%d into %dx%d", ErrShape, t, r, c, or, oc)
	}
	return nil
}

// CheckSame validates that every operand of an element-wise primitive has
// the same dimensions.
func CheckSame(op string, ms ...*Mat) error {
	for _, m := range ms[1:] {
		if !m.SameShape(ms[0]) {
			return shapeErr(op, ms...)
		}
	}
	return nil
}
