package segloss

import "errors"

// ErrShapeMismatch reports tensor dimensions that do not match what an
// operation requires.  It indicates a programming error in the caller, the
// loss functions never coerce mismatched shapes silently.
var ErrShapeMismatch = errors.New("shape mismatch")

// ErrConfig reports invalid or inconsistent static configuration supplied at
// construction time.
var ErrConfig = errors.New("invalid configuration")
