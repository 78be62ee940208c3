package nn

// slot is one entry of a Net or StockPool: either a value the container
// created and tears down, or a value the caller supplied and keeps.
type slot[T any] interface {
	ref() *T
}

type owned[T any] struct{ v *T }

type borrowed[T any] struct{ v *T }

func (o owned[T]) ref() *T    { return o.v }
func (b borrowed[T]) ref() *T { return b.v }

func isOwned[T any](s slot[T]) bool {
	_, ok := s.(owned[T])
	return ok
}
