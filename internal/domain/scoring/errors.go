package scoring

import "errors"

// Sentinel kinds for scoring errors.
var (
	ErrInvalidInput    = errors.New("invalid scoring input")
	ErrInvalidBaseline = errors.New("invalid baseline")
	ErrInvalidWeights  = errors.New("invalid weights")
)
