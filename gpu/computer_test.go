package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/neurocf/nn"
	"github.com/openfluke/neurocf/tensor"
)

func newComputer(t *testing.T) *Computer {
	t.Helper()
	g, err := New()
	if err != nil {
		t.Skipf("no WebGPU adapter: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestShaderTemplates(t *testing.T) {
	s := mapShader("var ret: f32 = 0.0;\nret = (2.0 * v);\n", 64)
	assert.Contains(t, s, "fn apply(v: f32) -> f32 {\nvar ret: f32 = 0.0;\nret = (2.0 * v);\n\treturn ret;\n}")
	assert.Contains(t, s, "@workgroup_size(64)")
	assert.Contains(t, zipShader("-", 32), "dst[i] = a[i] - b[i];")
	assert.Contains(t, mulShader(8), "let j = idx % cols;")
	assert.Contains(t, mulShader(8), "(dims.w & 2u)")
}

func TestComputerPrimitives(t *testing.T) {
	g := newComputer(t)

	a := tensor.NewFromData(2, 3, []float64{1, 2, 3, 4, 5, 6})
	b := tensor.NewFromData(2, 3, []float64{6, 5, 4, 3, 2, 1})
	out := tensor.New(2, 3)
	s, err := tensor.Stage(g, a, b, out)
	require.NoError(t, err)

	require.NoError(t, g.Sub(a, b, out))
	require.NoError(t, s.Sync())
	assert.InDeltaSlice(t, []float64{-5, -3, -1, 1, 3, 5}, out.Data(), 1e-6)

	require.NoError(t, g.Hadamard(a, b, out))
	require.NoError(t, g.Scale(out, out, 0.5))
	require.NoError(t, s.Sync())
	assert.InDeltaSlice(t, []float64{3, 5, 6, 6, 5, 3}, out.Data(), 1e-6)

	require.NoError(t, g.Map(a, out, tensor.MustKernel("ret = v > 3 ? v : v * 0.1f;")))
	require.NoError(t, s.Sync())
	assert.InDeltaSlice(t, []float64{0.1, 0.2, 0.3, 4, 5, 6}, out.Data(), 1e-6)

	require.NoError(t, g.Fill(out, 2))
	require.NoError(t, s.Close())
	assert.Equal(t, []float64{2, 2, 2, 2, 2, 2}, out.Data())
	assert.Equal(t, 0, g.Live())
	assert.Zero(t, g.Bytes())
}

func TestComputerMul(t *testing.T) {
	g := newComputer(t)
	a := tensor.NewFromData(2, 3, []float64{1, 2, 3, 4, 5, 6})
	cases := []struct {
		t    tensor.Transpose
		b    *tensor.Mat
		r, c int
	}{
		{tensor.None, tensor.NewFromData(3, 2, []float64{1, 0, 0, 1, 1, 1}), 2, 2},
		{tensor.First, tensor.NewFromData(2, 2, []float64{1, 2, 3, 4}), 3, 2},
		{tensor.Second, tensor.NewFromData(4, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1, 1, 1, 1}), 2, 4},
	}
	for _, tc := range cases {
		t.Run(tc.t.String(), func(t *testing.T) {
			want := tensor.New(tc.r, tc.c)
			require.NoError(t, tensor.Host.Mul(a, tc.b, want, tc.t))

			got := tensor.New(tc.r, tc.c)
			s, err := tensor.Stage(g, a, tc.b, got)
			require.NoError(t, err)
			require.NoError(t, g.Mul(a, tc.b, got, tc.t))
			require.NoError(t, s.Close())
			assert.True(t, want.EqualApprox(got, 1e-5), "want %v got %v", want, got)
		})
	}
}

func TestComputerAliasedOutput(t *testing.T) {
	g := newComputer(t)
	a := tensor.NewFromData(2, 2, []float64{1, 2, 3, 4})
	swap := tensor.NewFromData(2, 2, []float64{0, 1, 1, 0})
	s, err := tensor.Stage(g, a, swap)
	require.NoError(t, err)
	require.NoError(t, g.Mul(a, swap, a, tensor.None))
	require.NoError(t, g.Sub(a, swap, a))
	require.NoError(t, s.Close())
	assert.InDeltaSlice(t, []float64{2, 0, 3, 3}, a.Data(), 1e-6)
}

func TestComputerNotResident(t *testing.T) {
	g := newComputer(t)
	a := tensor.New(1, 2)
	assert.ErrorIs(t, g.Scale(a, a, 2), tensor.ErrNotResident)
	assert.ErrorIs(t, g.Receive(a), tensor.ErrNotResident)
	assert.ErrorIs(t, g.Map(a, a, tensor.Native(func(v float64) float64 { return v })), tensor.ErrUnsetFunc)
}

func TestComputerBudget(t *testing.T) {
	if _, err := GetContext(); err != nil {
		t.Skipf("no WebGPU adapter: %v", err)
	}
	g, err := NewWithOptions(Options{BudgetBytes: 16})
	require.NoError(t, err)
	defer g.Close()
	require.NoError(t, g.Grab(tensor.New(2, 2)))
	assert.ErrorIs(t, g.Grab(tensor.New(1, 1)), ErrBudget)

	small, err := NewWithOptions(Options{MaxElements: 3})
	require.NoError(t, err)
	defer small.Close()
	assert.ErrorIs(t, small.Grab(tensor.New(2, 2)), ErrBudget)
	assert.Equal(t, 0, small.Live())
}

func TestNetOnGPUMatchesHost(t *testing.T) {
	g := newComputer(t)

	build := func() (*nn.Net, nn.FitFrame) {
		n := nn.NewNetFromWidths(5, 2, 3)
		require.NoError(t, n.SetActivationType(nn.ActivationLeakyReLU))
		require.NoError(t, n.SetInits(nn.GenInit(func(i, j int) float64 { return float64(i+j) / 10 })))
		in, target := tensor.New(5, 1), tensor.New(3, 1)
		in.Full(2)
		target.Full(3)
		return n, nn.FitFrame{
			Input: in, Target: target, Pool: nn.NewStockPool(n, 1),
			Cost: nn.MSE, DivCost: nn.MSEDerivative,
		}
	}

	hostNet, hf := build()
	want, err := hostNet.FitWith(tensor.Host, hf, nn.DefaultFitConfig())
	require.NoError(t, err)

	devNet, df := build()
	s, err := tensor.Stage(g, devNet, df.Pool, df.Input, df.Target)
	require.NoError(t, err)
	got, err := devNet.FitWith(g, df, nn.DefaultFitConfig())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Equal(t, want.Iterations, got.Iterations)
	assert.InDeltaSlice(t, want.History, got.History, 1e-3)
	for i := 1; i < hostNet.Len(); i++ {
		hl, _ := hostNet.Layer(i)
		dl, _ := devNet.Layer(i)
		p := hl.Widths()[0]
		hw, err := hl.Core(p)
		require.NoError(t, err)
		dw, err := dl.Core(p)
		require.NoError(t, err)
		assert.True(t, hw.EqualApprox(dw, 1e-4), "layer %d weights", i)
	}
	assert.Equal(t, 0, g.Live())
}
