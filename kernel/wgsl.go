package kernel

import (
	"fmt"
	"strconv"
	"strings"
)

// WGSL renders the program as the body of a WGSL function taking the input
// as `v: f32`. The body declares `ret` but does not return it, so callers
// wrap it as:
//
//	fn kernel(v: f32) -> f32 {
//		<body>
//		return ret;
//	}
//
// Locals are emitted with an "l_" prefix so they never collide with names in
// the surrounding shader.
func (p *Program) WGSL() string {
	var b strings.Builder
	b.WriteString("var ret: f32 = 0.0;\n")
	for _, s := range p.stmts {
		name := p.slotName(s.slot)
		if s.decl {
			fmt.Fprintf(&b, "var %s: f32 = %s;\n", name, p.wgslExpr(s.expr))
		} else {
			fmt.Fprintf(&b, "%s = %s;\n", name, p.wgslExpr(s.expr))
		}
	}
	return b.String()
}

func (p *Program) slotName(slot int) string {
	switch {
	case slot < 0:
		return Input
	case slot == 0:
		return Output
	default:
		return "l_" + p.locals[slot-1]
	}
}

func (p *Program) wgslExpr(n node) string {
	switch n := n.(type) {
	case numNode:
		return wgslFloat(n.v)
	case varNode:
		return p.slotName(n.slot)
	case unaryNode:
		return "(" + n.op + p.wgslExpr(n.x) + ")"
	case binaryNode:
		return "(" + p.wgslExpr(n.x) + " " + n.op + " " + p.wgslExpr(n.y) + ")"
	case condNode:
		return "select(" + p.wgslExpr(n.b) + ", " + p.wgslExpr(n.a) + ", " + p.wgslExpr(n.c) + ")"
	case callNode:
		args := make([]string, len(n.args))
		for i, a := range n.args {
			args[i] = p.wgslExpr(a)
		}
		if n.fn == "sigmoid" {
			return "(1.0 / (1.0 + exp(-(" + args[0] + "))))"
		}
		return n.fn + "(" + strings.Join(args, ", ") + ")"
	}
	panic("kernel: unexpected node")
}

// wgslFloat formats v as an f32 literal; WGSL needs a '.' or exponent to
// read it as a float rather than an integer.
func wgslFloat(v float64) string {
	s := strconv.FormatFloat(float64(float32(v)), 'g', -1, 32)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
