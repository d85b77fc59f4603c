package api

import (
	"errors"
	"net/http"

	"github.com/okian/fieldwork/internal/adapters/exchange/executor"
	"github.com/okian/fieldwork/internal/adapters/exchange/marketplace"
	"github.com/okian/fieldwork/internal/adapters/exchange/s2s"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
)

type mapping struct {
	status       int
	code         string
	vendorStatus int
}

// classify maps the typed error taxonomy onto HTTP responses. Messages are
// never inspected.
func classify(err error) mapping {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, s2s.ErrInvalidStatus),
		errors.Is(err, s2s.ErrInvalidRequest),
		errors.Is(err, marketplace.ErrInvalidRequest):
		return mapping{status: http.StatusBadRequest, code: "bad_request"}

	case executor.IsAuthentication(err):
		return mapping{status: http.StatusBadGateway, code: "vendor_auth_failed"}

	case executor.IsCanceled(err):
		return mapping{status: http.StatusServiceUnavailable, code: "canceled"}

	case errors.Is(err, s2s.ErrInvalidResponse),
		errors.Is(err, marketplace.ErrInvalidResponse):
		return mapping{status: http.StatusBadGateway, code: "vendor_bad_response"}
	}

	if apiErr, ok := executor.AsVendorAPIError(err); ok {
		if apiErr.NotFound() {
			return mapping{status: http.StatusNotFound, code: "not_found", vendorStatus: apiErr.Status}
		}
		return mapping{status: http.StatusBadGateway, code: "vendor_error", vendorStatus: apiErr.Status}
	}

	return mapping{status: http.StatusInternalServerError, code: "internal_error"}
}
