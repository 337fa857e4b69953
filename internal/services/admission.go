// Package services – admission guard
//
// The AdmissionGuard decides whether an inbound order submission is allowed
// to create a new entry. It rejects re-delivered messages, duplicate
// submissions inside a sliding window, submissions while the system is
// switched off and quantities the stock cannot possibly cover.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/dtopup/go-topup-backend/internal/domain"
	"github.com/dtopup/go-topup-backend/internal/repo"
)

// DefaultDuplicateWindow is how far back the same-user same-quantity rule
// looks.
const DefaultDuplicateWindow = 5 * time.Minute

// DuplicateOrderError is the duplicate-window rejection. It carries the
// conflicting order so callers can tell the user which order blocked the
// submission and how long ago it was placed. Matches ErrDuplicateOrder
// under errors.Is.
type DuplicateOrderError struct {
	Existing *domain.Order
	Elapsed  time.Duration
}

func (e *DuplicateOrderError) Error() string {
	return fmt.Sprintf("duplicate order: matches order %d (%s) from %ds ago",
		e.Existing.ID, e.Existing.Status, int(e.Elapsed.Seconds()))
}

func (e *DuplicateOrderError) Unwrap() error { return ErrDuplicateOrder }

// AdmissionGuard gates order creation.
type AdmissionGuard struct {
	DB *gorm.DB

	// Window bounds the duplicate lookback.
	Window time.Duration

	// DuplicateCheck switches the same-user same-quantity rule. Message
	// replay detection stays on regardless: the same chat message must
	// never create two orders.
	DuplicateCheck bool
}

// NewAdmissionGuard constructs a guard with the default window.
func NewAdmissionGuard(db *gorm.DB, duplicateCheck bool) *AdmissionGuard {
	return &AdmissionGuard{DB: db, Window: DefaultDuplicateWindow, DuplicateCheck: duplicateCheck}
}

// Admit returns nil when a new order may be created for the submission, or
// one of ErrNotAccepting, ErrMessageSeen, ErrInsufficientStock, or a
// *DuplicateOrderError citing the conflicting order.
//
// The stock check here is advisory: it catches hopeless submissions early,
// while the binding check runs atomically at the processing hand-off.
func (g *AdmissionGuard) Admit(ctx context.Context, groupID, userID, messageID string, diamonds int) error {
	state, err := repo.GetSystemState(ctx, g.DB)
	if err != nil {
		return err
	}
	if !state.Accepting {
		return ErrNotAccepting
	}
	if int64(diamonds) > state.Stock {
		return ErrInsufficientStock
	}

	if messageID != "" {
		seen, err := repo.MessageHandled(ctx, g.DB, groupID, messageID)
		if err != nil {
			return err
		}
		if seen {
			return ErrMessageSeen
		}
	}

	if !g.DuplicateCheck {
		return nil
	}
	window := g.Window
	if window <= 0 {
		window = DefaultDuplicateWindow
	}
	dup, err := repo.DuplicateSince(ctx, g.DB, groupID, userID, diamonds, time.Now().UTC().Add(-window))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	return &DuplicateOrderError{Existing: dup, Elapsed: time.Now().UTC().Sub(dup.CreatedAt)}
}
