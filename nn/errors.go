package nn

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig reports a missing function or initializer, or a pool that
	// does not match its net.
	ErrConfig = errors.New("nn: configuration error")
	// ErrOutOfRange reports an index past the end of a net or pool, or a
	// weight or gradient width that was never created.
	ErrOutOfRange = errors.New("nn: out of range")
)

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConfig}, args...)...)
}

func rangeErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrOutOfRange}, args...)...)
}
