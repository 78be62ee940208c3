// Package nn provides a feed-forward network engine that runs on the host or
// on an accelerator through the same code.
//
// A network is a chain of layers. Each Layer keeps its weight matrices in a
// map keyed by the width of the layer that feeds it, creating a matrix the
// first time a predecessor of that width is seen, so one layer can take part
// in several topologies at once. A Stock holds one layer's scratch buffers
// for a fixed batch width, and a StockPool lines stocks up with a Net's
// layers.
//
// Every numerical method takes a tensor.Computer first. Passing tensor.Host
// runs on the host values; passing a device (emu.New, gpu.New) runs on staged
// copies, and the caller stages data in and out, most simply with a
// tensor.Scope:
//
//	net := nn.NewNetFromWidths(5, 2, 3)
//	net.SetActivationType(nn.ActivationLeakyReLU)
//	net.SetInits(nn.FillInit(0.01))
//	pool := nn.NewStockPool(net, 1)
//
//	s, err := tensor.Stage(dev, net, pool, input, target)
//	if err != nil { ... }
//	defer s.Close()
//	cost, err := net.Fit(dev, nn.FitFrame{...}, 0.025, 100, 0.001)
//
// Layer functions are tensor.Func values. The host path uses the callable
// half and the device path the kernel source half; a half that is missing
// for the chosen computer is reported as ErrConfig before anything runs.
package nn
