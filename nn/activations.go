package nn

import (
	"fmt"
	"math"

	"github.com/openfluke/neurocf/tensor"
)

// ActivationType names a built-in activation and its derivative.
type ActivationType int

const (
	ActivationReLU      ActivationType = iota // max(0, v)
	ActivationLeakyReLU                       // v if v > 0, else v * 0.1
	ActivationSigmoid                         // 1 / (1 + exp(-v))
	ActivationTanh                            // tanh(v)
)

func (a ActivationType) String() string {
	switch a {
	case ActivationReLU:
		return "relu"
	case ActivationLeakyReLU:
		return "lrelu"
	case ActivationSigmoid:
		return "sigmoid"
	case ActivationTanh:
		return "tanh"
	}
	return fmt.Sprintf("ActivationType(%d)", int(a))
}

// Func returns the activation with both halves set.
func (a ActivationType) Func() (tensor.Func, error) {
	switch a {
	case ActivationReLU:
		return ReLU, nil
	case ActivationLeakyReLU:
		return LReLU, nil
	case ActivationSigmoid:
		return Sigmoid, nil
	case ActivationTanh:
		return Tanh, nil
	}
	return tensor.Func{}, configErr("unknown activation %v", a)
}

// Derivative returns the activation's derivative with respect to the
// pre-activation value.
func (a ActivationType) Derivative() (tensor.Func, error) {
	switch a {
	case ActivationReLU:
		return ReLUDerivative, nil
	case ActivationLeakyReLU:
		return LReLUDerivative, nil
	case ActivationSigmoid:
		return SigmoidDerivative, nil
	case ActivationTanh:
		return TanhDerivative, nil
	}
	return tensor.Func{}, configErr("unknown activation %v", a)
}

func relu(v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}

func lrelu(v float64) float64 {
	if v > 0 {
		return v
	}
	return v * 0.1
}

func sigmoid(v float64) float64 { return 1 / (1 + math.Exp(-v)) }

// Each function pairs a host callable with the equivalent kernel source.
var (
	ReLU    = tensor.Both(relu, "ret = v > 0 ? v : 0;")
	LReLU   = tensor.Both(lrelu, "ret = v > 0 ? v : v * 0.1f;")
	Sigmoid = tensor.Both(sigmoid, "ret = sigmoid(v);")
	Tanh    = tensor.Both(math.Tanh, "ret = tanh(v);")

	ReLUDerivative = tensor.Both(func(v float64) float64 {
		if v > 0 {
			return 1
		}
		return 0
	}, "ret = v > 0 ? 1 : 0;")
	LReLUDerivative = tensor.Both(func(v float64) float64 {
		if v > 0 {
			return 1
		}
		return 0.1
	}, "ret = v > 0 ? 1 : 0.1f;")
	SigmoidDerivative = tensor.Both(func(v float64) float64 {
		s := sigmoid(v)
		return s * (1 - s)
	}, "s = sigmoid(v); ret = s * (1 - s);")
	TanhDerivative = tensor.Both(func(v float64) float64 {
		t := math.Tanh(v)
		return 1 - t*t
	}, "t = tanh(v); ret = 1 - t * t;")
)

// CostFunc maps one error element to its loss. Cost is always evaluated on
// the host.
type CostFunc func(float64) float64

// MSE is the squared error.
func MSE(v float64) float64 { return v * v }

// MSEDerivative is the derivative of MSE.
var MSEDerivative = tensor.Both(func(v float64) float64 { return 2 * v }, "ret = 2 * v;")
