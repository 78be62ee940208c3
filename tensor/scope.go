package tensor

import "errors"

// Stager is anything with device-resident state: a matrix, a layer's weight
// map, a stock, a pool.
type Stager interface {
	Send(c Computer) error
	Receive(c Computer) error
	Release(c Computer) error
}

// Scope holds a set of staged items for the span of a device computation.
// Close copies every item back and frees its device storage, so
//
//	s, err := tensor.Stage(dev, net, pool)
//	if err != nil { ... }
//	defer s.Close()
//
// guarantees nothing outlives the computation on the device.
type Scope struct {
	c      Computer
	items  []Stager
	closed bool
}

// Stage sends every item to c. If any send fails the items already sent are
// released and the error is returned.
func Stage(c Computer, items ...Stager) (*Scope, error) {
	s := &Scope{c: c}
	if err := s.Add(items...); err != nil {
		s.release()
		s.closed = true
		return nil, err
	}
	return s, nil
}

// Computer returns the computer the scope stages onto.
func (s *Scope) Computer() Computer { return s.c }

// Add stages more items into an open scope. An item whose Send fails is
// released before the error is returned, since it may be partly staged.
func (s *Scope) Add(items ...Stager) error {
	if s.closed {
		return errors.New("tensor: scope closed")
	}
	for _, it := range items {
		if err := it.Send(s.c); err != nil {
			return errors.Join(err, it.Release(s.c))
		}
		s.items = append(s.items, it)
	}
	return nil
}

// Sync copies every item back to the host and keeps the device copies.
func (s *Scope) Sync() error {
	if s.closed {
		return nil
	}
	var errs []error
	for _, it := range s.items {
		errs = append(errs, it.Receive(s.c))
	}
	return errors.Join(errs...)
}

// Close syncs and releases every item. Calling it again is a no-op.
func (s *Scope) Close() error {
	if s.closed {
		return nil
	}
	err := s.Sync()
	s.closed = true
	return errors.Join(err, s.release())
}

func (s *Scope) release() error {
	var errs []error
	for i := len(s.items) - 1; i >= 0; i-- {
		errs = append(errs, s.items[i].Release(s.c))
	}
	s.items = nil
	return errors.Join(errs...)
}
