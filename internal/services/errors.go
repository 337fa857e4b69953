// Package services implements the business logic of the order backend: text
// parsing, order matching, admission control, the lifecycle state machine,
// auto-approval scheduling and reconciliation.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Matching errors.
var (
	// ErrOrderNotFound indicates that no order satisfies the reference the
	// caller supplied (bad id, unknown message, no pending orders).
	ErrOrderNotFound = errors.New("order not found")

	// ErrAmbiguousMatch is returned when more than one pending order could
	// be meant and no disambiguating signal is available. The caller must
	// ask for an explicit reference rather than guess.
	ErrAmbiguousMatch = errors.New("ambiguous order reference")

	// ErrAlreadyHandled is returned when the referenced order has already
	// left the status the action expected (approved twice, deleted twice).
	ErrAlreadyHandled = errors.New("order already handled")
)

// Admission errors.
var (
	// ErrDuplicateOrder marks the duplicate-window rejection. The guard
	// returns it wrapped in a *DuplicateOrderError carrying the conflicting
	// order.
	ErrDuplicateOrder = errors.New("duplicate order")

	// ErrMessageSeen is returned when a chat message that already produced
	// an order is delivered again.
	ErrMessageSeen = errors.New("message already processed")

	// ErrNotAccepting is returned while the accepting-orders switch is off.
	ErrNotAccepting = errors.New("system is not accepting orders")

	// ErrInvalidQuantity is returned for diamond counts outside 1..100000.
	ErrInvalidQuantity = errors.New("invalid diamond quantity")
)

// Lifecycle errors.
var (
	// ErrIllegalTransition is returned when the requested status change is
	// not an edge of the lifecycle graph.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrStaleOrder is returned when the order moved to another status
	// between the caller's read and its write. The caller should re-fetch
	// and re-decide rather than retry blindly.
	ErrStaleOrder = errors.New("order state changed concurrently")

	// ErrInsufficientStock is returned when the global stock cannot cover
	// the order. The transition is aborted before any state is written.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Scheduling errors.
var (
	// ErrTimerExists is returned by Schedule when a timer is already
	// registered for the same order.
	ErrTimerExists = errors.New("auto-approval timer already scheduled")
)

// ErrGroupNotFound indicates an unknown chat group.
var ErrGroupNotFound = errors.New("group not found")
