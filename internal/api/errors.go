package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-myclean/internal/apperror"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Kind       string `json:"kind"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError(msg string) *ApiError {
	if msg == "" {
		msg = lower(http.StatusText(http.StatusBadRequest))
	}
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    msg,
		Kind:       apperror.InvalidArgument.String(),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Kind:       apperror.Internal.String(),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
		Kind:       "unauthorized",
	}
}

// NewAppError maps an error from the domain packages onto its HTTP status
// and kind. Internal causes are not exposed.
func NewAppError(err error) *ApiError {
	kind := apperror.KindOf(err)
	return &ApiError{
		StatusCode: kind.HTTPStatus(),
		Message:    apperror.Message(err),
		Kind:       kind.String(),
		Err:        err,
	}
}
