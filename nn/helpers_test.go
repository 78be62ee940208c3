package nn

import (
	"github.com/openfluke/neurocf/tensor"
)

// genInit is the deterministic initializer the hand-computed values below
// are based on: w[i][j] = (i+j)/10.
var genInit = GenInit(func(i, j int) float64 { return float64(i+j) / 10 })

// demoNet is a 5 -> 2 -> 3 leaky relu chain.
func demoNet(init Init) *Net {
	n := NewNetFromWidths(5, 2, 3)
	if err := n.SetActivationType(ActivationLeakyReLU); err != nil {
		panic(err)
	}
	if err := n.SetInits(init); err != nil {
		panic(err)
	}
	return n
}

func column(rows int, v float64) *tensor.Mat {
	m := tensor.New(rows, 1)
	m.Full(v)
	return m
}

func demoFrame(n *Net) FitFrame {
	return FitFrame{
		Input:   column(5, 2),
		Target:  column(3, 3),
		Pool:    NewStockPool(n, 1),
		Cost:    MSE,
		DivCost: MSEDerivative,
	}
}

func mustLayer(n *Net, i int) *Layer {
	l, err := n.Layer(i)
	if err != nil {
		panic(err)
	}
	return l
}

func mustStock(p *StockPool, i int) *Stock {
	s, err := p.Stock(i)
	if err != nil {
		panic(err)
	}
	return s
}
