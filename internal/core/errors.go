package core

import (
	"errors"
	"fmt"
)

// ErrPrecondition marks command rejections: the input was understood but the
// current state refuses it. The whole command is rejected with no state
// change. Callers map these to client errors rather than retrying.
var ErrPrecondition = errors.New("precondition violation")

func preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// IsPrecondition reports whether err is a command rejection
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrPrecondition)
}
