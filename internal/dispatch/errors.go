package dispatch

import "errors"

var (
	// ErrDuplicateCategory is returned when a dispatcher is registered twice
	// for the same category.
	ErrDuplicateCategory = errors.New("dispatcher already registered for category")

	// ErrUnknownCategory is returned when a script subscribes to a category
	// that has no dispatcher.
	ErrUnknownCategory = errors.New("unknown event category")

	// ErrDuplicateScript is returned when a live script id is registered again.
	ErrDuplicateScript = errors.New("script id already registered")

	// ErrUnknownScript is returned when an operation names a script id that is
	// not live.
	ErrUnknownScript = errors.New("script id not registered")
)
