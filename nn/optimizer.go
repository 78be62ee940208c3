package nn

import "github.com/openfluke/neurocf/tensor"

// GD applies plain gradient descent: grad *= lr, then w -= grad. grad is
// left scaled.
func GD(c tensor.Computer, w, grad *tensor.Mat, lr float64) error {
	if err := c.Scale(grad, grad, lr); err != nil {
		return err
	}
	return c.Sub(w, grad, w)
}
