package tensor

// Host runs every primitive on the host values through gonum.
var Host Computer = host{}

type host struct{}

func (host) Name() string       { return "host" }
func (host) Device() bool       { return false }
func (host) Resident(*Mat) bool { return true }
func (host) Grab(*Mat) error    { return nil }
func (host) Send(*Mat) error    { return nil }
func (host) Receive(*Mat) error { return nil }
func (host) Release(*Mat) error { return nil }

func (host) Mul(a, b, out *Mat, t Transpose) error {
	if err := CheckMul(a, b, out, t); err != nil {
		return err
	}
	switch t {
	case First:
		out.d.Mul(a.d.T(), b.d)
	case Second:
		out.d.Mul(a.d, b.d.T())
	default:
		out.d.Mul(a.d, b.d)
	}
	return nil
}

func (host) Sub(a, b, out *Mat) error {
	if err := CheckSame("sub", a, b, out); err != nil {
		return err
	}
	out.d.Sub(a.d, b.d)
	return nil
}

func (host) Map(in, out *Mat, f Func) error {
	if err := CheckSame("map", in, out); err != nil {
		return err
	}
	if f.Host == nil {
		return ErrUnsetFunc
	}
	fn := f.Host
	out.d.Apply(func(_, _ int, v float64) float64 { return fn(v) }, in.d)
	return nil
}

func (host) Hadamard(a, b, out *Mat) error {
	if err := CheckSame("hadamard", a, b, out); err != nil {
		return err
	}
	out.d.MulElem(a.d, b.d)
	return nil
}

func (host) Scale(in, out *Mat, k float64) error {
	if err := CheckSame("scale", in, out); err != nil {
		return err
	}
	out.d.Scale(k, in.d)
	return nil
}

func (host) Fill(m *Mat, v float64) error {
	m.Full(v)
	return nil
}
