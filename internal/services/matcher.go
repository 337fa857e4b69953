// Package services – order matching
//
// The Matcher resolves an admin or user reply to the one order it refers
// to. Signals are tried in strict priority order; a stronger signal is
// never overridden by a weaker one, and when a signal narrows the
// candidates to more than one order the matcher refuses instead of
// guessing.
//
// Priority:
//
//  1. quoted message id. If the reply quotes a message that created an
//     order, that order is the target, whatever its status; callers refuse
//     non-pending targets rather than re-processing them. If the store
//     holds no order at all for the quoted message the submission may
//     simply have been lost, so matching falls through to the weaker
//     signals before anyone escalates to recovery.
//  2. explicit order id embedded in the reply text.
//  3. a diamond quantity in the quoted body (or, failing that, the reply
//     text) matching exactly one of the user's pending orders.
//  4. the user having exactly one pending order.
//
// Anything else is ErrAmbiguousMatch or ErrOrderNotFound.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/dtopup/go-topup-backend/internal/domain"
	"github.com/dtopup/go-topup-backend/internal/repo"
)

// MatchInput carries the matching signals taken from one reply event.
type MatchInput struct {
	// GroupID scopes every lookup.
	GroupID string

	// QuotedMessageID is the transport id of the quoted message, if the
	// reply quotes one.
	QuotedMessageID string

	// QuotedBody is the text of the quoted message; scanned for a diamond
	// quantity when the message id resolves nothing.
	QuotedBody string

	// UserID is the canonical id of the user whose orders are candidates,
	// normally the author of the quoted message.
	UserID string

	// ReplyText is the raw reply body, scanned for order ids and diamond
	// quantities.
	ReplyText string
}

// Matcher resolves replies to orders. It is stateless; all reads go
// through the repository on the shared handle.
type Matcher struct {
	DB *gorm.DB
}

// NewMatcher constructs a Matcher.
func NewMatcher(db *gorm.DB) *Matcher {
	return &Matcher{DB: db}
}

// Resolve returns the order the reply refers to, or one of
// ErrOrderNotFound / ErrAmbiguousMatch. Status checks are left to the
// caller: an approval against a deleted order is found here and rejected
// by the lifecycle service.
func (m *Matcher) Resolve(ctx context.Context, in MatchInput) (*domain.Order, error) {
	if in.QuotedMessageID != "" {
		o, err := repo.OrderByMessageID(ctx, m.DB, in.GroupID, in.QuotedMessageID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		// The quoted message never created an order here. It may have been
		// lost, so the weaker signals get their turn.
	}

	if id, ok := ExtractOrderID(in.ReplyText); ok {
		o, err := repo.GetOrder(ctx, m.DB, in.GroupID, id)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		// A wrong explicit id falls through: the 12+ digit run may have
		// been a player id rather than an order reference.
	}

	if in.UserID == "" {
		return nil, ErrOrderNotFound
	}
	pending, err := repo.PendingOrders(ctx, m.DB, in.GroupID, in.UserID)
	if err != nil {
		return nil, err
	}

	qty, ok := ExtractDiamonds(in.QuotedBody)
	if !ok {
		qty, ok = ExtractDiamonds(in.ReplyText)
	}
	if ok {
		var hits []*domain.Order
		for i := range pending {
			if pending[i].Diamonds == qty {
				hits = append(hits, &pending[i])
			}
		}
		switch len(hits) {
		case 1:
			return hits[0], nil
		default:
			if len(hits) > 1 {
				return nil, ErrAmbiguousMatch
			}
			// No pending order carries that quantity; fall through to the
			// single-pending rule.
		}
	}

	switch len(pending) {
	case 0:
		return nil, ErrOrderNotFound
	case 1:
		return &pending[0], nil
	default:
		return nil, ErrAmbiguousMatch
	}
}
