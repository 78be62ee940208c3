package nn

import (
	"math/rand/v2"

	"github.com/openfluke/neurocf/tensor"
)

// Init fills a freshly created weight or gradient matrix. Host runs on the
// host values; Device runs after the matrix has been allocated on the
// device and must leave the device copy initialized.
type Init struct {
	Host   func(m *tensor.Mat)
	Device func(m *tensor.Mat, c tensor.Computer) error
}

// Ready reports whether init has the half c needs.
func (i Init) Ready(c tensor.Computer) bool {
	if c.Device() {
		return i.Device != nil
	}
	return i.Host != nil
}

func (i Init) run(c tensor.Computer, m *tensor.Mat) error {
	if c.Device() {
		return i.Device(m, c)
	}
	i.Host(m)
	return nil
}

// FillInit sets every element to v.
func FillInit(v float64) Init {
	return Init{
		Host:   func(m *tensor.Mat) { m.Full(v) },
		Device: func(m *tensor.Mat, c tensor.Computer) error { return c.Fill(m, v) },
	}
}

// GenInit sets every element from its coordinates. The device half
// generates on the host and sends the result.
func GenInit(f func(i, j int) float64) Init {
	return Init{
		Host: func(m *tensor.Mat) { m.Gen(f) },
		Device: func(m *tensor.Mat, c tensor.Computer) error {
			m.Gen(f)
			return c.Send(m)
		},
	}
}

// UniformInit draws every element from [lo, hi). Each matrix gets its own
// PCG stream seeded from seed and the matrix shape, so equal seeds and
// shapes give equal matrices on both paths and across repeated uses.
func UniformInit(seed uint64, lo, hi float64) Init {
	fill := func(m *tensor.Mat) {
		r, c := m.Dims()
		rng := rand.New(rand.NewPCG(seed, uint64(r)<<32|uint64(c)))
		m.Gen(func(int, int) float64 { return lo + (hi-lo)*rng.Float64() })
	}
	return Init{
		Host: fill,
		Device: func(m *tensor.Mat, c tensor.Computer) error {
			fill(m)
			return c.Send(m)
		},
	}
}
