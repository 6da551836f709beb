package grant

import "errors"

var (
	ErrInvalidInput = errors.New("grant: invalid input")
	ErrNotFound     = errors.New("grant: not found")
	ErrConflict     = errors.New("grant: conflict")
	ErrForbidden    = errors.New("grant: forbidden")
	ErrUnavailable  = errors.New("grant: store unavailable")
)
