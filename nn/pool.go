package nn

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openfluke/neurocf/tensor"
)

// StockPool lines stocks up with a net's layers, one per layer, for one
// batch width. Stocks it creates are owned; pushed stocks are borrowed.
type StockPool struct {
	stocks []slot[Stock]
}

// NewStockPool creates and owns one stock per layer of net.
func NewStockPool(net *Net, batchWidth int) *StockPool {
	p := &StockPool{stocks: make([]slot[Stock], 0, net.Len())}
	for i := range net.layers {
		p.stocks = append(p.stocks, owned[Stock]{NewStock(net.layer(i), batchWidth)})
	}
	return p
}

// NewStockPoolFromStocks assembles a pool of caller-owned stocks. Stock i
// must belong to layer i of the net the pool is used with.
func NewStockPoolFromStocks(stocks ...*Stock) *StockPool {
	p := &StockPool{stocks: make([]slot[Stock], 0, len(stocks))}
	for _, s := range stocks {
		p.PushBack(s)
	}
	return p
}

// PushBack appends a borrowed stock.
func (p *StockPool) PushBack(s *Stock) { p.stocks = append(p.stocks, borrowed[Stock]{s}) }

// PopBack removes and returns the last stock.
func (p *StockPool) PopBack() (*Stock, error) {
	if len(p.stocks) == 0 {
		return nil, rangeErr("pop from empty pool")
	}
	last := p.stocks[len(p.stocks)-1]
	p.stocks = p.stocks[:len(p.stocks)-1]
	return last.ref(), nil
}

// Len returns the number of stocks.
func (p *StockPool) Len() int { return len(p.stocks) }

// Stock returns stock i.
func (p *StockPool) Stock(i int) (*Stock, error) {
	if i < 0 || i >= len(p.stocks) {
		return nil, rangeErr("stock %d of %d", i, len(p.stocks))
	}
	return p.stocks[i].ref(), nil
}

// Last returns the final stock, which holds the network output and error.
func (p *StockPool) Last() (*Stock, error) { return p.Stock(len(p.stocks) - 1) }

// Owned reports whether stock i was created by the pool.
func (p *StockPool) Owned(i int) (bool, error) {
	if i < 0 || i >= len(p.stocks) {
		return false, rangeErr("stock %d of %d", i, len(p.stocks))
	}
	return isOwned(p.stocks[i]), nil
}

func (p *StockPool) stock(i int) *Stock { return p.stocks[i].ref() }

func (p *StockPool) each(fn func(s *Stock) error) error {
	for i := range p.stocks {
		if err := fn(p.stock(i)); err != nil {
			return fmt.Errorf("stock %d: %w", i, err)
		}
	}
	return nil
}

// Send stages every stock onto c.
func (p *StockPool) Send(c tensor.Computer) error {
	return p.each(func(s *Stock) error { return s.Send(c) })
}

// Receive copies every stock back from c.
func (p *StockPool) Receive(c tensor.Computer) error {
	return p.each(func(s *Stock) error { return s.Receive(c) })
}

// Grab allocates every stock on c.
func (p *StockPool) Grab(c tensor.Computer) error {
	return p.each(func(s *Stock) error { return s.Grab(c) })
}

// Release frees every stock's device copies on c.
func (p *StockPool) Release(c tensor.Computer) error {
	return p.each(func(s *Stock) error { return s.Release(c) })
}

// Close frees the device copies and gradients of owned stocks and empties
// the pool. Borrowed stocks are left as they are.
func (p *StockPool) Close(c tensor.Computer) error {
	var errs []error
	for _, s := range p.stocks {
		if isOwned(s) {
			errs = append(errs, s.ref().reset(c))
		}
	}
	p.stocks = nil
	return errors.Join(errs...)
}

// String renders every stock in order.
func (p *StockPool) String() string {
	var b strings.Builder
	for i := range p.stocks {
		fmt.Fprintf(&b, "[%d] %v", i, p.stock(i))
	}
	return b.String()
}
