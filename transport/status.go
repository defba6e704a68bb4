package transport

import (
	"net/http"

	dapi "github.com/goliatone/go-dapi"
)

// ErrorMapping is the HTTP rendering of an error code.
type ErrorMapping struct {
	Code       string
	HTTPStatus int
}

// MapErrorCode maps dispatch error codes to HTTP statuses.
func MapErrorCode(code string) ErrorMapping {
	switch code {
	case dapi.ErrCodeConfiguration, dapi.ErrCodeInvalidArguments:
		return ErrorMapping{Code: code, HTTPStatus: http.StatusBadRequest}
	case dapi.ErrCodeUnknownOperation:
		return ErrorMapping{Code: code, HTTPStatus: http.StatusNotFound}
	case dapi.ErrCodeNodeUnreachable, dapi.ErrCodeNodeExecution:
		return ErrorMapping{Code: code, HTTPStatus: http.StatusBadGateway}
	case dapi.ErrCodeNoMaster, dapi.ErrCodeMembership:
		return ErrorMapping{Code: code, HTTPStatus: http.StatusServiceUnavailable}
	case dapi.ErrCodeTimeout:
		return ErrorMapping{Code: code, HTTPStatus: http.StatusGatewayTimeout}
	default:
		return ErrorMapping{Code: code, HTTPStatus: http.StatusInternalServerError}
	}
}

// HTTPStatusForError returns the status for err's text code.
func HTTPStatusForError(err error) int {
	return MapErrorCode(dapi.ErrorCode(err)).HTTPStatus
}

// StatusForEnvelope returns the status a node server answers env with.
// Partial fan-out successes are still 200.
func StatusForEnvelope(env dapi.Envelope) int {
	switch env.Status {
	case dapi.StatusOK:
		return http.StatusOK
	case dapi.StatusTimeout:
		return http.StatusGatewayTimeout
	}
	if env.Error == nil {
		return http.StatusInternalServerError
	}
	return MapErrorCode(env.Error.Code).HTTPStatus
}
