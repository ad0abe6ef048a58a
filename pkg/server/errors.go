package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/idea4rc/termserve/pkg/match"
)

// StatusSuperseded answers a request replaced by a newer one on the same stream.
// It follows the common "client closed request" convention.
const StatusSuperseded = 499

// ErrSuperseded is delivered to a stream submission replaced by a newer one.
// It wraps context.Canceled.
var ErrSuperseded = fmt.Errorf("superseded by a newer request: %w", context.Canceled)

// errorStatus maps a matcher error to an HTTP style status code.
func errorStatus(err error) int {
	var thresholdErr *match.InvalidThresholdError
	var inputErr *match.InvalidInputError
	switch {
	case errors.As(err, &thresholdErr), errors.As(err, &inputErr):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return StatusSuperseded
	default:
		return http.StatusInternalServerError
	}
}
