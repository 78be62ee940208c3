package emu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/neurocf/tensor"
)

func TestStagingLeavesHostStale(t *testing.T) {
	d := New()
	m := tensor.NewFromData(1, 3, []float64{1, 2, 3})

	require.NoError(t, d.Send(m))
	assert.True(t, d.Resident(m))
	assert.Equal(t, 1, d.Live())

	require.NoError(t, d.Scale(m, m, 2))
	assert.Equal(t, []float64{1, 2, 3}, m.Data(), "host must not change before receive")

	require.NoError(t, d.Receive(m))
	assert.Equal(t, []float64{2, 4, 6}, m.Data())

	require.NoError(t, d.Release(m))
	assert.False(t, d.Resident(m))
	assert.Equal(t, 0, d.Live())
	require.NoError(t, d.Release(m))
}

func TestNotResident(t *testing.T) {
	d := New()
	a := tensor.New(1, 2)
	b := tensor.New(1, 2)
	require.NoError(t, d.Send(a))

	assert.ErrorIs(t, d.Sub(a, b, a), tensor.ErrNotResident)
	assert.ErrorIs(t, d.Receive(b), tensor.ErrNotResident)
	assert.ErrorIs(t, d.Fill(b, 1), tensor.ErrNotResident)
}

func TestGrabAllocatesZeroed(t *testing.T) {
	d := New()
	m := tensor.NewFromData(1, 2, []float64{5, 5})
	require.NoError(t, d.Grab(m))
	require.NoError(t, d.Receive(m))
	assert.Equal(t, []float64{0, 0}, m.Data())
}

func TestMulMatchesHost(t *testing.T) {
	for _, tr := range []tensor.Transpose{tensor.None, tensor.First, tensor.Second} {
		t.Run(tr.String(), func(t *testing.T) {
			a := tensor.NewFromData(2, 3, []float64{1, 2, 3, 4, 5, 6})
			var b *tensor.Mat
			var r, c int
			switch tr {
			case tensor.None:
				b, r, c = tensor.NewFromData(3, 2, []float64{1, 0, 0, 1, 1, 1}), 2, 2
			case tensor.First:
				b, r, c = tensor.NewFromData(2, 2, []float64{1, 2, 3, 4}), 3, 2
			case tensor.Second:
				b, r, c = tensor.NewFromData(4, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1, 1, 1, 1}), 2, 4
			}
			want := tensor.New(r, c)
			require.NoError(t, tensor.Host.Mul(a, b, want, tr))

			d := New()
			got := tensor.New(r, c)
			s, err := tensor.Stage(d, a, b, got)
			require.NoError(t, err)
			require.NoError(t, d.Mul(a, b, got, tr))
			require.NoError(t, s.Close())

			assert.True(t, want.EqualApprox(got, 1e-6), "want %v got %v", want, got)
			assert.Equal(t, 0, d.Live())
		})
	}
}

func TestMulAliasedOutput(t *testing.T) {
	d := New()
	a := tensor.NewFromData(2, 2, []float64{1, 2, 3, 4})
	id := tensor.NewFromData(2, 2, []float64{0, 1, 1, 0})
	require.NoError(t, d.Send(a))
	require.NoError(t, d.Send(id))
	require.NoError(t, d.Mul(a, id, a, tensor.None))
	require.NoError(t, d.Receive(a))
	assert.Equal(t, []float64{2, 1, 4, 3}, a.Data())
}

func TestMapKernel(t *testing.T) {
	d := New()
	in := tensor.NewFromData(1, 3, []float64{-2, 0, 3})
	out := tensor.New(1, 3)
	require.NoError(t, d.Send(in))
	require.NoError(t, d.Grab(out))

	lrelu := tensor.MustKernel("ret = v > 0 ? v : v * 0.1f;")
	require.NoError(t, d.Map(in, out, lrelu))
	require.NoError(t, d.Map(in, out, lrelu))
	require.NoError(t, d.Receive(out))
	assert.InDeltaSlice(t, []float64{-0.2, 0, 3}, out.Data(), 1e-6)
	assert.Len(t, d.kernels, 1)

	native := tensor.Native(func(v float64) float64 { return v })
	assert.ErrorIs(t, d.Map(in, out, native), tensor.ErrUnsetFunc)

	bad := tensor.Func{Kernel: "ret = ("}
	assert.Error(t, d.Map(in, out, bad))
}

func TestElementwiseAndDispatchCount(t *testing.T) {
	d := New()
	a := tensor.NewFromData(1, 2, []float64{3, 4})
	b := tensor.NewFromData(1, 2, []float64{1, 2})
	s, err := tensor.Stage(d, a, b)
	require.NoError(t, err)

	require.NoError(t, d.Hadamard(a, b, b))
	require.NoError(t, d.Sub(a, b, a))
	require.NoError(t, d.Fill(b, 0.5))
	require.NoError(t, s.Close())

	assert.Equal(t, []float64{0, -4}, a.Data())
	assert.Equal(t, []float64{0.5, 0.5}, b.Data())
	assert.Equal(t, 3, d.Dispatches())
	assert.ErrorIs(t, d.Sub(a, tensor.New(2, 1), a), tensor.ErrShape)
}
