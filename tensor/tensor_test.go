package tensor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatBasics(t *testing.T) {
	m := New(2, 3)
	assert.Equal(t, 2, m.Rows())
	assert.Equal(t, 3, m.Cols())
	assert.Equal(t, 6, m.Len())

	m.Gen(func(i, j int) float64 { return float64(i*3 + j) })
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, m.Data())
	assert.Equal(t, 15.0, m.Sum())
	assert.Equal(t, 55.0, m.MapSum(func(v float64) float64 { return v * v }))

	c := m.Clone()
	m.Full(1)
	assert.Equal(t, 6.0, m.Sum())
	assert.Equal(t, 15.0, c.Sum())

	require.NoError(t, m.CopyFrom(c))
	assert.True(t, m.EqualApprox(c, 0))
	assert.True(t, m.Equal(c))
	assert.False(t, m.Equal(New(3, 2)))
	assert.ErrorIs(t, m.CopyFrom(New(3, 2)), ErrShape)
	assert.False(t, m.EqualApprox(New(3, 2), 1))
}

func TestMatFormat(t *testing.T) {
	m := NewFromData(1, 2, []float64{1, 2})
	assert.Contains(t, fmt.Sprintf("%v", m), "1  2")
}

func TestHostMul(t *testing.T) {
	a := NewFromData(2, 3, []float64{1, 2, 3, 4, 5, 6})
	b := NewFromData(3, 1, []float64{1, 1, 1})
	out := New(2, 1)
	require.NoError(t, Host.Mul(a, b, out, None))
	assert.Equal(t, []float64{6, 15}, out.Data())

	// aᵀ·c with c 2x1
	c := NewFromData(2, 1, []float64{1, 2})
	outT := New(3, 1)
	require.NoError(t, Host.Mul(a, c, outT, First))
	assert.Equal(t, []float64{9, 12, 15}, outT.Data())

	// c·dᵀ with d 3x1 gives an outer product
	d := NewFromData(3, 1, []float64{1, 0, -1})
	outer := New(2, 3)
	require.NoError(t, Host.Mul(c, d, outer, Second))
	assert.Equal(t, []float64{1, 0, -1, 2, 0, -2}, outer.Data())
}

func TestHostMulShapeErrors(t *testing.T) {
	a := New(2, 3)
	assert.ErrorIs(t, Host.Mul(a, New(2, 1), New(2, 1), None), ErrShape)
	assert.ErrorIs(t, Host.Mul(a, New(3, 1), New(3, 1), None), ErrShape)
	assert.ErrorIs(t, Host.Mul(a, New(3, 1), New(2, 1), First), ErrShape)
}

func TestHostElementwise(t *testing.T) {
	a := NewFromData(1, 3, []float64{1, 2, 3})
	b := NewFromData(1, 3, []float64{3, 2, 1})
	out := New(1, 3)

	require.NoError(t, Host.Sub(a, b, out))
	assert.Equal(t, []float64{-2, 0, 2}, out.Data())

	require.NoError(t, Host.Hadamard(a, b, out))
	assert.Equal(t, []float64{3, 4, 3}, out.Data())

	require.NoError(t, Host.Scale(a, out, -2))
	assert.Equal(t, []float64{-2, -4, -6}, out.Data())

	require.NoError(t, Host.Map(out, out, Native(func(v float64) float64 { return v + 1 })))
	assert.Equal(t, []float64{-1, -3, -5}, out.Data())

	require.NoError(t, Host.Fill(out, 7))
	assert.Equal(t, []float64{7, 7, 7}, out.Data())

	assert.ErrorIs(t, Host.Sub(a, New(3, 1), out), ErrShape)
}

func TestHostMapKernelFunc(t *testing.T) {
	in := NewFromData(1, 3, []float64{-1, 0, 2})
	out := New(1, 3)
	require.NoError(t, Host.Map(in, out, MustKernel("ret = v > 0 ? v : v * 0.1f;")))
	assert.InDeltaSlice(t, []float64{-0.1, 0, 2}, out.Data(), 1e-12)
}

func TestFuncHalves(t *testing.T) {
	dev := fakeDevice{}

	n := Native(func(v float64) float64 { return v })
	assert.True(t, n.Ready(Host))
	assert.False(t, n.Ready(dev))
	assert.ErrorIs(t, n.Check(dev, "activation"), ErrUnsetFunc)

	k := MustKernel("ret = 2 * v;")
	assert.True(t, k.Ready(Host))
	assert.True(t, k.Ready(dev))
	assert.Equal(t, 6.0, k.Host(3))

	var z Func
	assert.True(t, z.IsZero())
	assert.ErrorIs(t, Host.Map(New(1, 1), New(1, 1), z), ErrUnsetFunc)

	_, err := Kernel("ret = ")
	assert.Error(t, err)
	assert.Panics(t, func() { MustKernel("ret = (") })
}

// fakeDevice records staging calls and fails Send for one chosen matrix.
type fakeDevice struct {
	host
	log  *[]string
	fail *Mat
}

func (fakeDevice) Name() string { return "fake" }
func (fakeDevice) Device() bool { return true }

func (f fakeDevice) Send(m *Mat) error {
	if m == f.fail {
		return errors.New("send failed")
	}
	*f.log = append(*f.log, fmt.Sprintf("send %d", m.Rows()))
	return nil
}

func (f fakeDevice) Receive(m *Mat) error {
	*f.log = append(*f.log, fmt.Sprintf("receive %d", m.Rows()))
	return nil
}

func (f fakeDevice) Release(m *Mat) error {
	*f.log = append(*f.log, fmt.Sprintf("release %d", m.Rows()))
	return nil
}

func TestScopeLifecycle(t *testing.T) {
	var log []string
	dev := fakeDevice{log: &log}
	a, b := New(1, 1), New(2, 1)

	s, err := Stage(dev, a, b)
	require.NoError(t, err)
	require.NoError(t, s.Sync())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, []string{
		"send 1", "send 2",
		"receive 1", "receive 2",
		"receive 1", "receive 2",
		"release 2", "release 1",
	}, log)
	assert.Error(t, s.Add(a))
}

func TestStageRollsBackOnFailure(t *testing.T) {
	var log []string
	a, b := New(1, 1), New(2, 1)
	dev := fakeDevice{log: &log, fail: b}

	s, err := Stage(dev, a, b)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Equal(t, []string{"send 1", "release 2", "release 1"}, log)
}

// group stages several matrices as one item.
type group []*Mat

func (g group) Send(c Computer) error {
	for _, m := range g {
		if err := c.Send(m); err != nil {
			return err
		}
	}
	return nil
}

func (g group) Receive(c Computer) error {
	for _, m := range g {
		if err := c.Receive(m); err != nil {
			return err
		}
	}
	return nil
}

func (g group) Release(c Computer) error {
	for i := len(g) - 1; i >= 0; i-- {
		if err := c.Release(g[i]); err != nil {
			return err
		}
	}
	return nil
}

func TestStageReleasesPartlySentItem(t *testing.T) {
	var log []string
	a, b, c := New(1, 1), New(2, 1), New(3, 1)
	dev := fakeDevice{log: &log, fail: b}

	s, err := Stage(dev, a, group{c, b})
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Equal(t, []string{"send 1", "send 3", "release 2", "release 3", "release 1"}, log)
}
