package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/ganport/internal/backend/plugin"
	"github.com/samcharles93/ganport/internal/edge"
	"github.com/samcharles93/ganport/internal/savedmodel"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// statusFor maps core errors onto HTTP status codes and error types.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, edge.ErrUnknownSignature):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, savedmodel.ErrArtifactNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, savedmodel.ErrInvalidArtifact):
		return http.StatusUnprocessableEntity, "invalid_artifact_error"
	case errors.Is(err, plugin.ErrPluginNotFound):
		return http.StatusNotFound, "backend_not_found_error"
	case errors.Is(err, plugin.ErrPluginBusy):
		return http.StatusConflict, "backend_busy_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
