// Package apperr defines the error kinds surfaced by the metadata engine.
package apperr

import (
	"net/http"

	"github.com/zeebo/errs"
)

var (
	// NotFound is returned when an asset or version does not exist.
	NotFound = errs.Class("not found")

	// Forbidden is returned when the caller lacks visibility or ownership rights.
	Forbidden = errs.Class("forbidden")

	// InvalidRequest is returned for malformed queries or payloads.
	InvalidRequest = errs.Class("invalid request")

	// StorageUnavailable is returned when the repository or cache backend is unreachable.
	StorageUnavailable = errs.Class("storage unavailable")

	// WriteFailed is returned when a mutation was aborted before its document swap.
	WriteFailed = errs.Class("write failed")
)

// StatusCode maps an error to the HTTP status the API layer responds with.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case NotFound.Has(err):
		return http.StatusNotFound
	case Forbidden.Has(err):
		return http.StatusForbidden
	case InvalidRequest.Has(err):
		return http.StatusBadRequest
	case StorageUnavailable.Has(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show to callers. Internal
// failures are collapsed into a generic text.
func PublicMessage(err error) string {
	switch StatusCode(err) {
	case http.StatusNotFound:
		return "not found"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusBadRequest:
		return err.Error()
	case http.StatusServiceUnavailable:
		return "storage unavailable"
	default:
		return "internal error"
	}
}
