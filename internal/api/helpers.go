package api

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

func writeError(c *echo.Context, status int, errType, msg, param string) error {
	return c.JSON(status, ErrorResponse{Error: ResponseError{
		Message: msg,
		Type:    errType,
		Param:   param,
	}})
}

// writeFailure reports err with the status statusFor assigns it.
func writeFailure(c *echo.Context, err error) error {
	status, typ := statusFor(err)
	return writeError(c, status, typ, err.Error(), "")
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		if err == io.EOF {
			return out, nil
		}
		return out, newInvalidRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return out, nil
}

// validName accepts a single path element that is not hidden.
func validName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return newInvalidRequest("name is required")
	case strings.HasPrefix(name, "."):
		return newInvalidRequest(fmt.Sprintf("invalid name %q", name))
	case strings.ContainsAny(name, `/\`):
		return newInvalidRequest(fmt.Sprintf("name %q must not contain path separators", name))
	}
	return nil
}
