package nn

import (
	"fmt"
	"math"
	"time"

	"github.com/openfluke/neurocf/tensor"
)

// FitFrame is one training job: a batch, its targets, the pool to compute
// in, and the cost with its derivative. Fit only reads it.
type FitFrame struct {
	Input   *tensor.Mat
	Target  *tensor.Mat
	Pool    *StockPool
	Cost    CostFunc
	DivCost tensor.Func
}

// FitConfig holds configuration for Fit.
type FitConfig struct {
	LearningRate  float64
	MaxIterations int
	MinError      float64 // stop once cost drops below this
	Verbose       bool
	LogEvery      int // print every N iterations when Verbose (0 = first and last only)
}

// FitResult contains the outcome of a Fit call.
type FitResult struct {
	Cost       float64 // last computed cost
	BestCost   float64
	Iterations int
	Converged  bool // stopped on MinError
	History    []float64
	TotalTime  time.Duration
}

// DefaultFitConfig returns the demo settings: lr 0.025, 100 iterations,
// min error 0.001.
func DefaultFitConfig() FitConfig {
	return FitConfig{
		LearningRate:  0.025,
		MaxIterations: 100,
		MinError:      0.001,
	}
}

// Fit trains n on frame and returns the last computed cost.
func (n *Net) Fit(c tensor.Computer, frame FitFrame, lr float64, maxIterations int, minError float64) (float64, error) {
	res, err := n.FitWith(c, frame, FitConfig{
		LearningRate:  lr,
		MaxIterations: maxIterations,
		MinError:      minError,
	})
	return res.Cost, err
}

// FitWith runs query, error and cost once per iteration, stopping when the
// cost falls below MinError, and otherwise grad and train. On a device every
// operand in frame must already be staged; the last stock's error is
// received before each cost evaluation.
func (n *Net) FitWith(c tensor.Computer, frame FitFrame, cfg FitConfig) (FitResult, error) {
	res := FitResult{BestCost: math.MaxFloat64}
	if err := frame.check(); err != nil {
		return res, err
	}
	if cfg.MaxIterations < 1 {
		return res, configErr("max iterations %d", cfg.MaxIterations)
	}
	if err := n.checkPool(frame.Pool); err != nil {
		return res, err
	}
	if err := frame.DivCost.Check(c, "cost derivative"); err != nil {
		return res, configErr("%w", err)
	}
	last := frame.Pool.stock(frame.Pool.Len() - 1)
	res.History = make([]float64, 0, cfg.MaxIterations)
	start := time.Now()

	if cfg.Verbose {
		fmt.Printf("\n=== Fit Configuration ===\n")
		fmt.Printf("Layers: %d\n", n.Len())
		fmt.Printf("Learning Rate: %.6f\n", cfg.LearningRate)
		fmt.Printf("Max Iterations: %d\n", cfg.MaxIterations)
		fmt.Printf("Min Error: %g\n", cfg.MinError)
		fmt.Printf("Backend: %s\n", c.Name())
		fmt.Println()
	}

	for it := 0; it < cfg.MaxIterations; it++ {
		if err := n.Query(c, frame.Input, frame.Pool); err != nil {
			return res, err
		}
		if err := n.Error(c, frame.Target, frame.Pool); err != nil {
			return res, err
		}
		if c.Device() {
			if err := c.Receive(last.err); err != nil {
				return res, fmt.Errorf("receive output error: %w", err)
			}
		}
		cost, err := n.Cost(frame.Pool, frame.Cost)
		if err != nil {
			return res, err
		}
		res.Cost = cost
		res.Iterations = it + 1
		res.History = append(res.History, cost)
		if cost < res.BestCost {
			res.BestCost = cost
		}

		if cfg.Verbose && (it == 0 || (cfg.LogEvery > 0 && res.Iterations%cfg.LogEvery == 0)) {
			fmt.Printf("  [%s] Iteration %d/%d - Cost: %.6f\n", c.Name(), res.Iterations, cfg.MaxIterations, cost)
		}
		if cost < cfg.MinError {
			res.Converged = true
			break
		}

		if err := n.Grad(c, frame.Pool, frame.DivCost); err != nil {
			return res, err
		}
		if err := n.Train(c, frame.Pool, cfg.LearningRate); err != nil {
			return res, err
		}
	}

	res.TotalTime = time.Since(start)
	if cfg.Verbose {
		fmt.Printf("  [%s] Done after %d iterations - Cost: %.6f (converged: %v, %v)\n",
			c.Name(), res.Iterations, res.Cost, res.Converged, res.TotalTime)
	}
	return res, nil
}

func (f FitFrame) check() error {
	switch {
	case f.Input == nil:
		return configErr("fit frame has no input")
	case f.Target == nil:
		return configErr("fit frame has no target")
	case f.Pool == nil:
		return configErr("fit frame has no pool")
	case f.Cost == nil:
		return configErr("fit frame has no cost function")
	}
	return nil
}
