package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/neurocf/emu"
	"github.com/openfluke/neurocf/tensor"
)

func TestPoolSizeMismatch(t *testing.T) {
	n := demoNet(genInit)
	small := NewStockPool(NewNetFromLayers(mustLayer(n, 0), mustLayer(n, 1)), 1)
	in, answer := column(5, 2), column(3, 3)

	assert.ErrorIs(t, n.Query(tensor.Host, in, small), ErrConfig)
	assert.ErrorIs(t, n.Error(tensor.Host, answer, small), ErrConfig)
	_, err := n.Cost(small, MSE)
	assert.ErrorIs(t, err, ErrConfig)
	assert.ErrorIs(t, n.Grad(tensor.Host, small, MSEDerivative), ErrConfig)
	assert.ErrorIs(t, n.Train(tensor.Host, small, 0.1), ErrConfig)
	_, err = n.Fit(tensor.Host, FitFrame{Input: in, Target: answer, Pool: small, Cost: MSE, DivCost: MSEDerivative}, 0.1, 10, 0)
	assert.ErrorIs(t, err, ErrConfig)
	assert.ErrorIs(t, n.Query(tensor.Host, in, nil), ErrConfig)

	assert.Empty(t, mustLayer(n, 1).Widths(), "mismatch is caught before any work")
}

func TestEmptyNet(t *testing.T) {
	n := NewNet()
	assert.Equal(t, 0, n.Len())
	assert.ErrorIs(t, n.Query(tensor.Host, column(1, 1), NewStockPool(n, 1)), ErrConfig)
	_, err := n.PopBack()
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestNetIndexing(t *testing.T) {
	ext := NewLayer(4)
	n := NewNetFromWidths(2, 3)
	n.PushBack(ext)
	assert.Equal(t, 3, n.Len())

	owned, err := n.Owned(0)
	require.NoError(t, err)
	assert.True(t, owned)
	owned, err = n.Owned(2)
	require.NoError(t, err)
	assert.False(t, owned)

	_, err = n.Layer(3)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = n.Layer(-1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	l, err := n.PopBack()
	require.NoError(t, err)
	assert.Same(t, ext, l)
	assert.Equal(t, 2, n.Len())
}

func TestBulkSettersBySubset(t *testing.T) {
	n := NewNetFromWidths(2, 2, 2)
	require.NoError(t, n.SetActivations(ReLU))
	require.NoError(t, n.SetDerivatives(LReLUDerivative, 1))
	require.NoError(t, n.SetInits(FillInit(0.5), 1, 2))

	assert.True(t, mustLayer(n, 0).Derivative().IsZero())
	assert.False(t, mustLayer(n, 1).Derivative().IsZero())
	assert.Nil(t, mustLayer(n, 0).Init().Host)
	assert.NotNil(t, mustLayer(n, 2).Init().Host)

	assert.ErrorIs(t, n.SetActivations(Tanh, 0, 7), ErrOutOfRange)
	assert.NotNil(t, mustLayer(n, 0).Activation().Host)
	assert.Equal(t, 1.0, mustLayer(n, 0).Activation().Host(1), "nothing changed on a bad index")

	require.NoError(t, n.SetActivationType(ActivationSigmoid, 2))
	assert.InDelta(t, 0.5, mustLayer(n, 2).Activation().Host(0), 1e-12)
	assert.InDelta(t, 0.25, mustLayer(n, 2).Derivative().Host(0), 1e-12)
	assert.ErrorIs(t, n.SetActivationType(ActivationType(42)), ErrConfig)
}

func TestPoolBasics(t *testing.T) {
	n := NewNetFromWidths(2, 3)
	p := NewStockPool(n, 4)
	assert.Equal(t, 2, p.Len())

	last, err := p.Last()
	require.NoError(t, err)
	assert.Equal(t, 3, last.Out().Rows())
	assert.Equal(t, 4, last.BatchWidth())
	assert.Same(t, mustLayer(n, 1), last.Layer())

	_, err = p.Stock(2)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Contains(t, p.String(), "[1] stock 3x4")

	s, err := p.PopBack()
	require.NoError(t, err)
	assert.Same(t, last, s)
	_, _ = p.PopBack()
	_, err = p.Last()
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestFitHost(t *testing.T) {
	n := demoNet(FillInit(0.01))
	f := demoFrame(n)
	cfg := DefaultFitConfig()

	res, err := n.FitWith(tensor.Host, f, cfg)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 13, res.Iterations)
	assert.Less(t, res.Cost, cfg.MinError)
	assert.GreaterOrEqual(t, res.Cost, 0.0)
	assert.InDelta(t, 8.988004, res.History[0], 1e-9)
	assert.Equal(t, res.Cost, res.BestCost)
	for i := 1; i < len(res.History); i++ {
		assert.LessOrEqual(t, res.History[i], res.History[i-1], "iteration %d", i)
	}
}

func TestFitStopsAtMaxIterations(t *testing.T) {
	n := demoNet(genInit)
	f := demoFrame(n)
	cost, err := n.Fit(tensor.Host, f, 0.025, 1, 0.001)
	require.NoError(t, err)
	assert.InDelta(t, 15.02/3, cost, 1e-12)

	res, err := n.FitWith(tensor.Host, f, FitConfig{LearningRate: 0.025, MaxIterations: 3})
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 3, res.Iterations)
}

func TestFitRejectsBadFrames(t *testing.T) {
	n := demoNet(genInit)
	f := demoFrame(n)

	_, err := n.Fit(tensor.Host, f, 0.1, 0, 0)
	assert.ErrorIs(t, err, ErrConfig)

	noCost := f
	noCost.Cost = nil
	_, err = n.Fit(tensor.Host, noCost, 0.1, 5, 0)
	assert.ErrorIs(t, err, ErrConfig)

	nativeOnly := f
	nativeOnly.DivCost = tensor.Native(func(v float64) float64 { return 2 * v })
	_, err = n.Fit(emu.New(), nativeOnly, 0.1, 5, 0)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestTrainChecksEveryGradFirst(t *testing.T) {
	n := demoNet(genInit)
	f := demoFrame(n)
	require.NoError(t, n.Query(tensor.Host, f.Input, f.Pool))
	require.NoError(t, n.Error(tensor.Host, f.Target, f.Pool))
	require.NoError(t, n.Grad(tensor.Host, f.Pool, f.DivCost))

	w, err := mustLayer(n, 1).Core(5)
	require.NoError(t, err)
	before := w.Clone()

	require.NoError(t, mustStock(f.Pool, 2).ReleaseGrad(tensor.Host, 2))
	err = n.Train(tensor.Host, f.Pool, 0.1)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.True(t, before.Equal(w), "layer 1 weights changed: %v", w)
}

func TestGradChecksInitsFirst(t *testing.T) {
	n := demoNet(genInit)
	f := demoFrame(n)
	require.NoError(t, n.Query(tensor.Host, f.Input, f.Pool))
	require.NoError(t, n.Error(tensor.Host, f.Target, f.Pool))
	mustLayer(n, 2).SetInit(Init{})

	err := n.Grad(tensor.Host, f.Pool, f.DivCost)
	assert.ErrorIs(t, err, ErrConfig)
	assert.Empty(t, mustStock(f.Pool, 1).GradWidths())
	assert.Empty(t, mustStock(f.Pool, 2).GradWidths())
}

func TestCloseRespectsOwnership(t *testing.T) {
	dev := emu.New()

	ownedNet := demoNet(FillInit(0.1))
	ext := []*Layer{NewLayer(5), NewLayer(2), NewLayer(3)}
	for _, l := range ext {
		l.SetActivation(LReLU)
		l.SetInit(FillInit(0.1))
	}
	borrowedNet := NewNetFromLayers(ext...)

	poolA, poolB := NewStockPool(ownedNet, 1), NewStockPool(borrowedNet, 1)
	in := column(5, 2)
	s, err := tensor.Stage(dev, in, poolA, poolB)
	require.NoError(t, err)
	assert.Equal(t, 1+9+9, dev.Live())

	require.NoError(t, ownedNet.Query(dev, in, poolA))
	require.NoError(t, borrowedNet.Query(dev, in, poolB))
	assert.Equal(t, 19+4, dev.Live(), "one core per connected layer")

	ownedLayers := []*Layer{mustLayer(ownedNet, 1), mustLayer(ownedNet, 2)}
	require.NoError(t, ownedNet.Close(dev))
	assert.Equal(t, 0, ownedNet.Len())
	assert.Equal(t, 21, dev.Live())
	for _, l := range ownedLayers {
		assert.Empty(t, l.Widths())
	}

	require.NoError(t, borrowedNet.Close(dev))
	assert.Equal(t, 21, dev.Live())
	assert.Equal(t, []int{5}, ext[1].Widths())
	w, err := ext[1].Core(5)
	require.NoError(t, err)
	assert.True(t, dev.Resident(w))

	require.NoError(t, poolA.Close(dev))
	require.NoError(t, poolB.Close(dev))
	assert.Equal(t, 3, dev.Live())

	require.NoError(t, s.Close())
	for _, l := range ext {
		require.NoError(t, l.Release(dev))
	}
	assert.Equal(t, 0, dev.Live())
}

func TestBorrowedStocksSurvivePoolClose(t *testing.T) {
	dev := emu.New()
	l := NewLayer(2)
	st := NewStock(l, 1)
	require.NoError(t, st.Send(dev))

	p := NewStockPoolFromStocks(st)
	owned, err := p.Owned(0)
	require.NoError(t, err)
	assert.False(t, owned)

	require.NoError(t, p.Close(dev))
	assert.Equal(t, 0, p.Len())
	assert.True(t, dev.Resident(st.Out()))
	require.NoError(t, st.Release(dev))
	assert.Equal(t, 0, dev.Live())
}
