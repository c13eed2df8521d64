package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/pubwiki/wikifarm/pkg/log"
	"github.com/pubwiki/wikifarm/pkg/validate"
)

// Error is the uniform handler failure: an HTTP status plus the
// {error, message} envelope written to the client.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a handler error.
func NewError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func dbError(err error) *Error {
	log.Logger.Error().Err(err).Msg("db error")
	return NewError(http.StatusInternalServerError, "db_error", err.Error())
}

func redisError(err error) *Error {
	log.Logger.Error().Err(err).Msg("redis error")
	return NewError(http.StatusInternalServerError, "redis_error", err.Error())
}

func authError() *Error {
	return NewError(http.StatusUnauthorized, "auth_headers_missing", "auth headers missing")
}

func paramError(err error) *Error {
	return NewError(http.StatusBadRequest, "param_invalid", err.Error())
}

// asError maps any error to the envelope, downgrading validation failures
// to param_invalid and keeping explicit handler errors as they are.
func asError(err error) *Error {
	if apiErr, isAPI := err.(*Error); isAPI {
		return apiErr
	}
	var paramErr *validate.ParamError
	if errors.As(err, &paramErr) {
		return paramError(paramErr)
	}
	log.Logger.Error().Err(err).Msg("internal error")
	return NewError(http.StatusInternalServerError, "internal", err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Logger.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	apiErr := asError(err)
	writeJSON(w, apiErr.Status, apiErr)
}
