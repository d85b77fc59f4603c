package marketplace

import "errors"

// Sentinel kinds for orchestrator errors. Vendor failures surface as
// *executor.VendorAPIError or *executor.AuthenticationError instead.
var (
	ErrInvalidRequest  = errors.New("invalid marketplace request")
	ErrInvalidResponse = errors.New("invalid marketplace response")
)
