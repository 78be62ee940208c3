package kernel

import (
	"math"

	"github.com/chewxy/math32"
)

type number interface {
	~float32 | ~float64
}

type frame[T number] struct {
	v     T
	slots []T
}

func newFrame[T number](locals int, v T) *frame[T] {
	return &frame[T]{v: v, slots: make([]T, locals+1)}
}

func (f *frame[T]) reset(v T) {
	f.v = v
	clear(f.slots)
}

type (
	fexpr[T number] func(*frame[T]) T
	bexpr[T number] func(*frame[T]) bool
)

type mathlib[T number] struct {
	exp, log, sqrt, abs, tanh, sin, cos func(T) T
	max, min, pow                       func(T, T) T
}

// float32 evaluation goes through math32 so host results track what a
// float32 device computes.
var lib32 = mathlib[float32]{
	exp: math32.Exp, log: math32.Log, sqrt: math32.Sqrt, abs: math32.Abs,
	tanh: math32.Tanh, sin: math32.Sin, cos: math32.Cos,
	max: math32.Max, min: math32.Min, pow: math32.Pow,
}

var lib64 = mathlib[float64]{
	exp: math.Exp, log: math.Log, sqrt: math.Sqrt, abs: math.Abs,
	tanh: math.Tanh, sin: math.Sin, cos: math.Cos,
	max: math.Max, min: math.Min, pow: math.Pow,
}

func (p *Program) compile() {
	p.body32 = compileBody(p.stmts, &lib32)
	p.body64 = compileBody(p.stmts, &lib64)
}

func compileBody[T number](stmts []stmt, lib *mathlib[T]) []func(*frame[T]) {
	body := make([]func(*frame[T]), len(stmts))
	for i, s := range stmts {
		slot, e := s.slot, compileFloat(s.expr, lib)
		body[i] = func(f *frame[T]) { f.slots[slot] = e(f) }
	}
	return body
}

func compileFloat[T number](n node, lib *mathlib[T]) fexpr[T] {
	switch n := n.(type) {
	case numNode:
		c := T(n.v)
		return func(*frame[T]) T { return c }
	case varNode:
		if n.slot < 0 {
			return func(f *frame[T]) T { return f.v }
		}
		slot := n.slot
		return func(f *frame[T]) T { return f.slots[slot] }
	case unaryNode:
		x := compileFloat(n.x, lib)
		return func(f *frame[T]) T { return -x(f) }
	case binaryNode:
		x, y := compileFloat(n.x, lib), compileFloat(n.y, lib)
		switch n.op {
		case "+":
			return func(f *frame[T]) T { return x(f) + y(f) }
		case "-":
			return func(f *frame[T]) T { return x(f) - y(f) }
		case "*":
			return func(f *frame[T]) T { return x(f) * y(f) }
		case "/":
			return func(f *frame[T]) T { return x(f) / y(f) }
		}
	case condNode:
		c, a, b := compileBool(n.c, lib), compileFloat(n.a, lib), compileFloat(n.b, lib)
		return func(f *frame[T]) T {
			if c(f) {
				return a(f)
			}
			return b(f)
		}
	case callNode:
		return compileCall(n, lib)
	}
	panic("kernel: unexpected float node")
}

func compileCall[T number](n callNode, lib *mathlib[T]) fexpr[T] {
	args := make([]fexpr[T], len(n.args))
	for i, a := range n.args {
		args[i] = compileFloat(a, lib)
	}
	unary := func(fn func(T) T) fexpr[T] {
		x := args[0]
		return func(f *frame[T]) T { return fn(x(f)) }
	}
	binary := func(fn func(T, T) T) fexpr[T] {
		x, y := args[0], args[1]
		return func(f *frame[T]) T { return fn(x(f), y(f)) }
	}
	switch n.fn {
	case "exp":
		return unary(lib.exp)
	case "log":
		return unary(lib.log)
	case "sqrt":
		return unary(lib.sqrt)
	case "abs":
		return unary(lib.abs)
	case "tanh":
		return unary(lib.tanh)
	case "sin":
		return unary(lib.sin)
	case "cos":
		return unary(lib.cos)
	case "sigmoid":
		exp := lib.exp
		return unary(func(x T) T { return 1 / (1 + exp(-x)) })
	case "max":
		return binary(lib.max)
	case "min":
		return binary(lib.min)
	case "pow":
		return binary(lib.pow)
	case "clamp":
		x, lo, hi := args[0], args[1], args[2]
		mx, mn := lib.max, lib.min
		return func(f *frame[T]) T { return mn(mx(x(f), lo(f)), hi(f)) }
	}
	panic("kernel: unexpected builtin " + n.fn)
}

func compileBool[T number](n node, lib *mathlib[T]) bexpr[T] {
	switch n := n.(type) {
	case unaryNode:
		x := compileBool(n.x, lib)
		return func(f *frame[T]) bool { return !x(f) }
	case condNode:
		c, a, b := compileBool(n.c, lib), compileBool(n.a, lib), compileBool(n.b, lib)
		return func(f *frame[T]) bool {
			if c(f) {
				return a(f)
			}
			return b(f)
		}
	case binaryNode:
		switch n.op {
		case "&&":
			x, y := compileBool(n.x, lib), compileBool(n.y, lib)
			return func(f *frame[T]) bool { return x(f) && y(f) }
		case "||":
			x, y := compileBool(n.x, lib), compileBool(n.y, lib)
			return func(f *frame[T]) bool { return x(f) || y(f) }
		}
		x, y := compileFloat(n.x, lib), compileFloat(n.y, lib)
		switch n.op {
		case "==":
			return func(f *frame[T]) bool { return x(f) == y(f) }
		case "!=":
			return func(f *frame[T]) bool { return x(f) != y(f) }
		case "<":
			return func(f *frame[T]) bool { return x(f) < y(f) }
		case "<=":
			return func(f *frame[T]) bool { return x(f) <= y(f) }
		case ">":
			return func(f *frame[T]) bool { return x(f) > y(f) }
		case ">=":
			return func(f *frame[T]) bool { return x(f) >= y(f) }
		}
	}
	panic("kernel: unexpected bool node")
}
