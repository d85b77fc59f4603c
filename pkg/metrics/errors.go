package metrics

import (
	"errors"
)

// Sentinel kinds for metrics errors.
var (
	ErrGlobalManager = errors.New("metrics: nil manager")
)
