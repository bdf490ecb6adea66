package lib

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

var (
	ErrKeyNotFound        = errors.New("api key not found")
	ErrAccountNotFound    = errors.New("account not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidAccount     = errors.New("email and password are required")
	ErrSessionNotFound    = errors.New("session not found")
	ErrAlreadyFinalized   = errors.New("email log already finalized")
	ErrInvalidStatus      = errors.New("invalid terminal status")
)

// ErrorResponse writes {"error": message} with the given status.
func ErrorResponse(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": message})
}

// InternalError hides err from the client; callers log it.
func InternalError(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, http.StatusInternalServerError, "Internal Server Error")
}
