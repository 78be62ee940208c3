// Package kernel implements the elementwise kernel-source convention shared
// by the host and accelerator execution paths.
//
// A kernel source is a short sequence of assignments separated by ';'. The
// input element is bound to the read-only name v and the result is whatever
// was last assigned to ret:
//
//	ret = v > 0 ? v : v * 0.1f;
//	e = exp(-v); ret = 1 / (1 + e);
//
// A source with no assignment at all ("2 * v;") is read as ret = 2 * v.
// The same parsed Program evaluates on the host in float32 or float64 and
// renders to a WGSL function body for the GPU.
package kernel

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrEmpty is returned by Parse for a source without statements.
var ErrEmpty = errors.New("kernel: empty source")

// SyntaxError reports a malformed source together with its byte offset.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("kernel: offset %d: %s", e.Pos, e.Msg)
}

const (
	// Input is the name bound to the element being mapped.
	Input = "v"
	// Output is the name whose final value is the kernel result.
	Output = "ret"
)

type kind int

const (
	kindFloat kind = iota
	kindBool
)

func (k kind) String() string {
	if k == kindBool {
		return "bool"
	}
	return "float"
}

type node interface {
	kind() kind
}

// varNode reads a local. Slot 0 is ret, slot -1 is the input.
type varNode struct {
	name string
	slot int
}

type (
	numNode   struct{ v float64 }
	unaryNode struct {
		op string
		x  node
	}
	binaryNode struct {
		op   string
		x, y node
		k    kind
	}
	condNode struct{ c, a, b node }
	callNode struct {
		fn   string
		args []node
	}
)

func (numNode) kind() kind      { return kindFloat }
func (varNode) kind() kind      { return kindFloat }
func (n unaryNode) kind() kind  { return n.x.kind() }
func (n binaryNode) kind() kind { return n.k }
func (n condNode) kind() kind   { return n.a.kind() }
func (callNode) kind() kind     { return kindFloat }

type stmt struct {
	slot int
	decl bool
	expr node
}

// builtin arities; select follows WGSL argument order (false, true, cond).
var builtins = map[string]int{
	"exp": 1, "log": 1, "sqrt": 1, "abs": 1, "tanh": 1, "sin": 1, "cos": 1, "sigmoid": 1,
	"max": 2, "min": 2, "pow": 2,
	"clamp": 3, "select": 3,
}

// names a kernel may not assign to.
var reserved = map[string]bool{
	"true": true, "false": true, "var": true, "let": true, "fn": true, "return": true,
	"if": true, "else": true, "for": true, "while": true, "loop": true,
	"f32": true, "u32": true, "i32": true, "bool": true,
}

// Program is a parsed kernel source.
type Program struct {
	src    string
	stmts  []stmt
	locals []string // slot i+1 holds locals[i]

	body32 []func(*frame[float32])
	body64 []func(*frame[float64])
}

// Parse parses and type-checks src.
func Parse(src string) (*Program, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, slots: map[string]int{Output: 0}, assigned: map[string]bool{}}
	prog := &Program{src: src}
	for p.peek().kind != tokEOF {
		if p.accept(";") {
			continue
		}
		s, err := p.statement(prog)
		if err != nil {
			return nil, err
		}
		prog.stmts = append(prog.stmts, s)
		if p.peek().kind != tokEOF && !p.accept(";") {
			return nil, p.errorf("expected ';' after statement, found %s", p.peek())
		}
	}
	if len(prog.stmts) == 0 {
		return nil, ErrEmpty
	}
	prog.compile()
	return prog, nil
}

// MustParse is like Parse but panics on error. Intended for package-level
// kernel tables.
func MustParse(src string) *Program {
	p, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return p
}

// Source returns the text the program was parsed from.
func (p *Program) Source() string { return p.src }

// Eval32 runs the program on one float32 element.
func (p *Program) Eval32(v float32) float32 {
	f := newFrame[float32](len(p.locals), v)
	for _, s := range p.body32 {
		s(f)
	}
	return f.slots[0]
}

// Eval64 runs the program on one float64 element.
func (p *Program) Eval64(v float64) float64 {
	f := newFrame[float64](len(p.locals), v)
	for _, s := range p.body64 {
		s(f)
	}
	return f.slots[0]
}

// Func32 returns an evaluator that reuses a single scratch frame. The
// returned function must not be called concurrently.
func (p *Program) Func32() func(float32) float32 {
	f := newFrame[float32](len(p.locals), 0)
	return func(v float32) float32 {
		f.reset(v)
		for _, s := range p.body32 {
			s(f)
		}
		return f.slots[0]
	}
}

type parser struct {
	toks     []token
	i        int
	slots    map[string]int
	assigned map[string]bool
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) accept(punct string) bool {
	t := p.peek()
	if t.kind == tokPunct && t.text == punct {
		p.i++
		return true
	}
	return false
}

func (p *parser) expect(punct string) error {
	if !p.accept(punct) {
		return p.errorf("expected %q, found %s", punct, p.peek())
	}
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Pos: p.peek().pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) statement(prog *Program) (stmt, error) {
	t := p.peek()
	nt := p.toks[min(p.i+1, len(p.toks)-1)]
	if t.kind != tokIdent || nt.kind != tokPunct || nt.text != "=" {
		// bare expression
		e, err := p.floatExpr()
		if err != nil {
			return stmt{}, err
		}
		p.assigned[Output] = true
		return stmt{slot: 0, expr: e}, nil
	}
	name := t.text
	switch {
	case name == Input:
		return stmt{}, p.errorf("cannot assign to input %q", Input)
	case reserved[name]:
		return stmt{}, p.errorf("%q is reserved", name)
	case builtins[name] > 0:
		return stmt{}, p.errorf("cannot assign to builtin %q", name)
	}
	p.next()
	p.next()
	e, err := p.floatExpr()
	if err != nil {
		return stmt{}, err
	}
	slot, ok := p.slots[name]
	decl := false
	if !ok {
		prog.locals = append(prog.locals, name)
		slot = len(prog.locals)
		p.slots[name] = slot
		decl = true
	}
	p.assigned[name] = true
	return stmt{slot: slot, decl: decl, expr: e}, nil
}

func (p *parser) floatExpr() (node, error) {
	pos := p.peek().pos
	e, err := p.ternary()
	if err != nil {
		return nil, err
	}
	if e.kind() != kindFloat {
		return nil, &SyntaxError{Pos: pos, Msg: "statement value must be a number, not a condition"}
	}
	return e, nil
}

func (p *parser) ternary() (node, error) {
	pos := p.peek().pos
	c, err := p.binary(0)
	if err != nil {
		return nil, err
	}
	if !p.accept("?") {
		return c, nil
	}
	if c.kind() != kindBool {
		return nil, &SyntaxError{Pos: pos, Msg: "ternary condition must be a comparison"}
	}
	a, err := p.ternary()
	if err != nil {
		return nil, err
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	b, err := p.ternary()
	if err != nil {
		return nil, err
	}
	if a.kind() != b.kind() {
		return nil, &SyntaxError{Pos: pos, Msg: fmt.Sprintf("ternary branches differ: %s and %s", a.kind(), b.kind())}
	}
	return condNode{c: c, a: a, b: b}, nil
}

// precedence levels, lowest first.
var levels = [][]string{
	{"||"},
	{"&&"},
	{"==", "!="},
	{"<", "<=", ">", ">="},
	{"+", "-"},
	{"*", "/"},
}

func (p *parser) binary(level int) (node, error) {
	if level == len(levels) {
		return p.unary()
	}
	x, err := p.binary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPunct || !slices.Contains(levels[level], t.text) {
			return x, nil
		}
		p.next()
		y, err := p.binary(level + 1)
		if err != nil {
			return nil, err
		}
		n, err := typeBinary(t, x, y)
		if err != nil {
			return nil, err
		}
		x = n
	}
}

func typeBinary(op token, x, y node) (node, error) {
	bad := func(want kind) error {
		return &SyntaxError{Pos: op.pos, Msg: fmt.Sprintf("operator %q needs %s operands, got %s and %s", op.text, want, x.kind(), y.kind())}
	}
	switch op.text {
	case "||", "&&":
		if x.kind() != kindBool || y.kind() != kindBool {
			return nil, bad(kindBool)
		}
		return binaryNode{op: op.text, x: x, y: y, k: kindBool}, nil
	case "==", "!=", "<", "<=", ">", ">=":
		if x.kind() != kindFloat || y.kind() != kindFloat {
			return nil, bad(kindFloat)
		}
		return binaryNode{op: op.text, x: x, y: y, k: kindBool}, nil
	default:
		if x.kind() != kindFloat || y.kind() != kindFloat {
			return nil, bad(kindFloat)
		}
		return binaryNode{op: op.text, x: x, y: y, k: kindFloat}, nil
	}
}

func (p *parser) unary() (node, error) {
	t := p.peek()
	if t.kind == tokPunct && (t.text == "-" || t.text == "!" || t.text == "+") {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		switch t.text {
		case "+":
			if x.kind() != kindFloat {
				return nil, &SyntaxError{Pos: t.pos, Msg: "unary '+' needs a number"}
			}
			return x, nil
		case "-":
			if x.kind() != kindFloat {
				return nil, &SyntaxError{Pos: t.pos, Msg: "unary '-' needs a number"}
			}
		case "!":
			if x.kind() != kindBool {
				return nil, &SyntaxError{Pos: t.pos, Msg: "'!' needs a condition"}
			}
		}
		return unaryNode{op: t.text, x: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		if f := float32(t.num); math.IsInf(float64(f), 0) {
			return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("literal %s overflows float32", t.text)}
		}
		return numNode{v: t.num}, nil
	case tokIdent:
		if p.accept("(") {
			return p.call(t)
		}
		if t.text == Input {
			return varNode{name: Input, slot: -1}, nil
		}
		slot, ok := p.slots[t.text]
		if !ok || (!p.assigned[t.text] && t.text != Output) {
			return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("undefined name %q", t.text)}
		}
		return varNode{name: t.text, slot: slot}, nil
	case tokPunct:
		if t.text == "(" {
			e, err := p.ternary()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return e, nil
		}
	}
	return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %s", t)}
}

func (p *parser) call(fn token) (node, error) {
	arity, ok := builtins[fn.text]
	if !ok {
		return nil, &SyntaxError{Pos: fn.pos, Msg: fmt.Sprintf("unknown function %q", fn.text)}
	}
	var args []node
	if !p.accept(")") {
		for {
			a, err := p.ternary()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.accept(")") {
				break
			}
			if err := p.expect(","); err != nil {
				return nil, err
			}
		}
	}
	if len(args) != arity {
		return nil, &SyntaxError{Pos: fn.pos, Msg: fmt.Sprintf("%s takes %d arguments, got %d", fn.text, arity, len(args))}
	}
	for i, a := range args {
		want := kindFloat
		if fn.text == "select" && i == 2 {
			want = kindBool
		}
		if a.kind() != want {
			return nil, &SyntaxError{Pos: fn.pos, Msg: fmt.Sprintf("%s argument %d must be %s", fn.text, i+1, want)}
		}
	}
	if fn.text == "select" {
		// select(f, t, c) is c ? t : f
		return condNode{c: args[2], a: args[1], b: args[0]}, nil
	}
	return callNode{fn: fn.text, args: args}, nil
}

