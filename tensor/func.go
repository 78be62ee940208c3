package tensor

import (
	"fmt"

	"github.com/openfluke/neurocf/kernel"
)

// Func is an element-wise function with a host half and a device half. The
// host half is a Go callable; the device half is kernel source in the
// "ret = ...;" dialect of package kernel. Either half may be empty, and a
// Computer rejects a Func whose half for it is missing.
type Func struct {
	Host   func(float64) float64
	Kernel string
}

// Native wraps a host-only function.
func Native(f func(float64) float64) Func { return Func{Host: f} }

// Kernel parses src and returns a Func whose host half evaluates the same
// program, so one source serves both computers.
func Kernel(src string) (Func, error) {
	p, err := kernel.Parse(src)
	if err != nil {
		return Func{}, fmt.Errorf("kernel func: %w", err)
	}
	return Func{Host: p.Eval64, Kernel: src}, nil
}

// MustKernel is like Kernel but panics on a parse error.
func MustKernel(src string) Func {
	f, err := Kernel(src)
	if err != nil {
		panic(err)
	}
	return f
}

// Both pairs a host callable with kernel source. The two are trusted to
// agree.
func Both(host func(float64) float64, src string) Func {
	return Func{Host: host, Kernel: src}
}

// IsZero reports whether neither half is set.
func (f Func) IsZero() bool { return f.Host == nil && f.Kernel == "" }

// Ready reports whether f has the half c executes.
func (f Func) Ready(c Computer) bool {
	if c.Device() {
		return f.Kernel != ""
	}
	return f.Host != nil
}

// Check returns ErrUnsetFunc, naming what, when f is not Ready for c.
func (f Func) Check(c Computer, what string) error {
	if f.Ready(c) {
		return nil
	}
	return fmt.Errorf("%w: %s on %s", ErrUnsetFunc, what, c.Name())
}
