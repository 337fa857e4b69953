// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` helper in this package), plus the translation
// from service-layer sentinel errors to (status, code) pairs. These codes give
// the panel frontend a stable, machine-readable error taxonomy that
// supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, conflict) mirror common HTTP status
//     semantics to aid interoperability.
//   - Domain-specific codes (e.g., stale_order, insufficient_stock) surface
//     business rule violations that a status alone cannot convey.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dtopup/go-topup-backend/internal/repo"
	"github.com/dtopup/go-topup-backend/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeDuplicateOrder    = "duplicate_order"
	ErrCodeMessageSeen       = "message_seen"
	ErrCodeNotAccepting      = "not_accepting"
	ErrCodeInvalidQuantity   = "invalid_quantity"
	ErrCodeInsufficientStock = "insufficient_stock"
	ErrCodeStaleOrder        = "stale_order"
	ErrCodeIllegalTransition = "illegal_transition"
	ErrCodeAlreadyHandled    = "already_handled"
	ErrCodeAmbiguousMatch    = "ambiguous_match"
)

// mapServiceError translates a service-layer sentinel error into an HTTP
// status and a stable error code. Unknown errors map to 500/internal_error.
func mapServiceError(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrGroupNotFound),
		errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, services.ErrInvalidQuantity):
		return http.StatusBadRequest, ErrCodeInvalidQuantity
	case errors.Is(err, services.ErrDuplicateOrder):
		return http.StatusConflict, ErrCodeDuplicateOrder
	case errors.Is(err, services.ErrMessageSeen):
		return http.StatusConflict, ErrCodeMessageSeen
	case errors.Is(err, services.ErrNotAccepting):
		return http.StatusServiceUnavailable, ErrCodeNotAccepting
	case errors.Is(err, services.ErrInsufficientStock):
		return http.StatusConflict, ErrCodeInsufficientStock
	case errors.Is(err, services.ErrStaleOrder):
		return http.StatusConflict, ErrCodeStaleOrder
	case errors.Is(err, services.ErrIllegalTransition):
		return http.StatusConflict, ErrCodeIllegalTransition
	case errors.Is(err, services.ErrAlreadyHandled):
		return http.StatusConflict, ErrCodeAlreadyHandled
	case errors.Is(err, services.ErrAmbiguousMatch):
		return http.StatusConflict, ErrCodeAmbiguousMatch
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// failSvc writes the mapped error envelope for a service-layer error.
func failSvc(c *gin.Context, err error) {
	status, code := mapServiceError(err)
	fail(c, status, code, err.Error())
}
