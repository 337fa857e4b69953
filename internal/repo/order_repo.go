// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Order model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When an order is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Guarded transition helpers (MarkProcessing, MarkApproved, ...) update
//     a row only when it is still in the expected source status. Zero rows
//     affected also surfaces as ErrNotFound; the caller re-fetches to tell
//     "gone" apart from "moved on".
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Order IDs are derived from the creation timestamp in milliseconds and
// bumped on collision, so they sort chronologically and stay unique without
// a sequence table.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dtopup/go-topup-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist, or when a
// guarded update matched no row. It aliases gorm.ErrRecordNotFound for
// convenience and consistency across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateOrder inserts a new pending Order. The caller fills GroupID, UserID,
// UserName, PlayerID, Diamonds, Rate and MessageID; ID, Status and the
// timestamps are assigned here. The millisecond timestamp id is bumped until
// it is free, which only matters when two orders land within the same
// millisecond.
func CreateOrder(ctx context.Context, db *gorm.DB, o *domain.Order) error {
	now := time.Now().UTC()
	o.Status = domain.StatusPending
	o.CreatedAt = now
	o.UpdatedAt = now

	id := now.UnixMilli()
	for {
		o.ID = id
		var n int64
		if err := db.WithContext(ctx).
			Model(&domain.Order{}).
			Where("id = ?", id).
			Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			break
		}
		id++
	}
	return db.WithContext(ctx).Create(o).Error
}

// GetOrder fetches a single order by group and id, or ErrNotFound.
func GetOrder(ctx context.Context, db *gorm.DB, groupID string, id int64) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Where("group_id = ? AND id = ?", groupID, id).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// OrderByMessageID fetches the order created from the given chat message,
// or ErrNotFound. MessageID is the strongest matching key: at most one order
// is ever created per message.
func OrderByMessageID(ctx context.Context, db *gorm.DB, groupID, messageID string) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Where("group_id = ? AND message_id = ?", groupID, messageID).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// PendingOrders returns the user's pending orders in a group, oldest first.
func PendingOrders(ctx context.Context, db *gorm.DB, groupID, userID string) ([]domain.Order, error) {
	var out []domain.Order
	err := db.WithContext(ctx).
		Where("group_id = ? AND user_id = ? AND status = ?", groupID, userID, domain.StatusPending).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// ProcessingOrders returns every order currently in processing, across all
// groups. Used at startup to rebuild auto-approval timers from the persisted
// deadlines.
func ProcessingOrders(ctx context.Context, db *gorm.DB) ([]domain.Order, error) {
	var out []domain.Order
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusProcessing).
		Order("processing_deadline asc").
		Find(&out).Error
	return out, err
}

// ActiveOrders returns all pending, processing and approved orders in a
// group, newest first. Reconciliation sweeps use this snapshot to compare
// the local store against the chat transcript and the remote panel.
func ActiveOrders(ctx context.Context, db *gorm.DB, groupID string) ([]domain.Order, error) {
	var out []domain.Order
	err := db.WithContext(ctx).
		Where("group_id = ? AND status IN ?", groupID,
			[]string{domain.StatusPending, domain.StatusProcessing, domain.StatusApproved}).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// DuplicateSince returns the most recent active order from the same user
// for the same diamond quantity created at or after the cutoff, so the
// rejection can cite it. Deleted and cancelled orders do not count;
// ErrNotFound means no conflict.
func DuplicateSince(ctx context.Context, db *gorm.DB, groupID, userID string, diamonds int, cutoff time.Time) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Where("group_id = ? AND user_id = ? AND diamonds = ? AND created_at >= ? AND status IN ?",
			groupID, userID, diamonds, cutoff,
			[]string{domain.StatusPending, domain.StatusProcessing, domain.StatusApproved}).
		Order("created_at desc").
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// MessageHandled reports whether an active order already exists for the
// given chat message. Used by the admission guard to drop re-delivered
// messages.
func MessageHandled(ctx context.Context, db *gorm.DB, groupID, messageID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("group_id = ? AND message_id = ? AND status IN ?", groupID, messageID,
			[]string{domain.StatusPending, domain.StatusProcessing, domain.StatusApproved}).
		Count(&n).Error
	return n > 0, err
}

// MarkProcessing moves a pending order into processing, stamping the start
// time, the persisted auto-approval deadline and the amount taken from the
// user's balance. The update is guarded on status = pending; if the order
// was already picked up, deleted or never existed, it returns ErrNotFound
// and writes nothing.
func MarkProcessing(ctx context.Context, db *gorm.DB, groupID string, id int64, startedAt, deadline time.Time, deducted float64) error {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("group_id = ? AND id = ? AND status = ?", groupID, id, domain.StatusPending).
		Updates(map[string]any{
			"status":                domain.StatusProcessing,
			"processing_started_at": startedAt,
			"processing_deadline":   deadline,
			"auto_deducted_amount":  deducted,
			"updated_at":            time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkApproved completes a processing order, recording who approved it and
// when. Guarded on status = processing.
func MarkApproved(ctx context.Context, db *gorm.DB, groupID string, id int64, by string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("group_id = ? AND id = ? AND status = ?", groupID, id, domain.StatusProcessing).
		Updates(map[string]any{
			"status":      domain.StatusApproved,
			"approved_by": by,
			"approved_at": at,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkDeleted removes an order from the live lifecycle. Pending, processing
// and approved orders can all be deleted; the previous status is preserved
// in original_status so a later restore knows where the order came from.
func MarkDeleted(ctx context.Context, db *gorm.DB, groupID string, id int64, by, reason string, at time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o domain.Order
		if err := tx.Where("group_id = ? AND id = ? AND status IN ?", groupID, id,
			[]string{domain.StatusPending, domain.StatusProcessing, domain.StatusApproved}).
			First(&o).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Order{}).
			Where("group_id = ? AND id = ? AND status = ?", groupID, id, o.Status).
			Updates(map[string]any{
				"status":            domain.StatusDeleted,
				"original_status":   o.Status,
				"deleted_by":        by,
				"deleted_at":        at,
				"correction_reason": reason,
				"updated_at":        time.Now().UTC(),
			}).Error
	})
}

// MarkCancelled ends a pending order without admin involvement, typically
// because the submitter corrected themselves. Guarded on status = pending.
func MarkCancelled(ctx context.Context, db *gorm.DB, groupID string, id int64, reason string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("group_id = ? AND id = ? AND status = ?", groupID, id, domain.StatusPending).
		Updates(map[string]any{
			"status":            domain.StatusCancelled,
			"correction_reason": reason,
			"deleted_at":        at,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RevertToPending undoes a processing hand-off, clearing the stage stamps so
// the order can be matched and picked up again. Guarded on status =
// processing.
func RevertToPending(ctx context.Context, db *gorm.DB, groupID string, id int64) error {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("group_id = ? AND id = ? AND status = ?", groupID, id, domain.StatusProcessing).
		Updates(map[string]any{
			"status":                domain.StatusPending,
			"processing_started_at": nil,
			"processing_deadline":   nil,
			"updated_at":            time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AmendPending rewrites the quantity (and, when given, the player id) of an
// order that has not been picked up yet. Guarded on status = pending: once
// processing started, stock and balance already moved at the old quantity.
func AmendPending(ctx context.Context, db *gorm.DB, groupID string, id int64, diamonds int, playerID string) error {
	updates := map[string]any{
		"diamonds":   diamonds,
		"updated_at": time.Now().UTC(),
	}
	if playerID != "" {
		updates["player_id"] = playerID
	}
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("group_id = ? AND id = ? AND status = ?", groupID, id, domain.StatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RestoreOrder brings a deleted order back as approved. Guarded on
// status = deleted.
func RestoreOrder(ctx context.Context, db *gorm.DB, groupID string, id int64, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("group_id = ? AND id = ? AND status = ?", groupID, id, domain.StatusDeleted).
		Updates(map[string]any{
			"status":      domain.StatusApproved,
			"restored_at": at,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateUserName refreshes the display name on an order when a later event
// carries a better one. Best effort: missing rows are not an error.
func UpdateUserName(ctx context.Context, db *gorm.DB, groupID string, id int64, name string) error {
	if name == "" {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("group_id = ? AND id = ?", groupID, id).
		Update("user_name", name).Error
}

// MarkRecovered flags an order as re-pushed to the remote panel store after
// a reconciliation sweep found it missing there, recording the status it
// held at push time for audit.
func MarkRecovered(ctx context.Context, db *gorm.DB, groupID string, id int64, reason, originalStatus string) error {
	return db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("group_id = ? AND id = ?", groupID, id).
		Updates(map[string]any{
			"is_recovered":    true,
			"recovery_reason": reason,
			"original_status": originalStatus,
			"updated_at":      time.Now().UTC(),
		}).Error
}

// OrderStats aggregates per-status order counts and the total diamonds
// moved through approved orders for one group.
type OrderStats struct {
	Pending          int64 `json:"pending"`
	Processing       int64 `json:"processing"`
	Approved         int64 `json:"approved"`
	Deleted          int64 `json:"deleted"`
	Cancelled        int64 `json:"cancelled"`
	ApprovedDiamonds int64 `json:"approved_diamonds"`
}

// CountOrders returns the order statistics for a group.
func CountOrders(ctx context.Context, db *gorm.DB, groupID string) (*OrderStats, error) {
	var rows []struct {
		Status   string
		N        int64
		Diamonds int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Order{}).
		Select("status, count(*) as n, coalesce(sum(diamonds), 0) as diamonds").
		Where("group_id = ?", groupID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	st := &OrderStats{}
	for _, r := range rows {
		switch r.Status {
		case domain.StatusPending:
			st.Pending = r.N
		case domain.StatusProcessing:
			st.Processing = r.N
		case domain.StatusApproved:
			st.Approved = r.N
			st.ApprovedDiamonds = r.Diamonds
		case domain.StatusDeleted:
			st.Deleted = r.N
		case domain.StatusCancelled:
			st.Cancelled = r.N
		}
	}
	return st, nil
}
