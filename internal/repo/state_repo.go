// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file manages the singleton SystemState row: the
// global diamond stock counter, the accepting-orders switch and the runtime
// notification toggles.
//
// Stock changes go through conditional single-statement UPDATEs guarded on
// the current value, so two orders racing for the last diamonds can never
// drive the counter negative.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/dtopup/go-topup-backend/internal/domain"
)

// systemStateID is the fixed primary key of the singleton row.
const systemStateID = 1

// ErrInsufficientStock is returned by DeductStock when the counter holds
// fewer diamonds than requested. Nothing is written in that case.
var ErrInsufficientStock = errors.New("insufficient stock")

// GetSystemState returns the singleton state row, creating it with defaults
// on first call.
func GetSystemState(ctx context.Context, db *gorm.DB) (*domain.SystemState, error) {
	var s domain.SystemState
	err := db.WithContext(ctx).Where("id = ?", systemStateID).First(&s).Error
	if err == nil {
		return &s, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	s = domain.SystemState{
		ID:                     systemStateID,
		Stock:                  0,
		Accepting:              true,
		SendApproveMessage:     true,
		SendAutoApproveMessage: true,
		SendDeleteMessage:      true,
		UpdatedAt:              time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// DeductStock atomically subtracts n diamonds from the global stock and
// returns the remaining amount. The UPDATE only matches while stock >= n;
// when it matches nothing the counter was too low and ErrInsufficientStock
// is returned with the state untouched.
func DeductStock(ctx context.Context, db *gorm.DB, n int) (int64, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.SystemState{}).
		Where("id = ? AND stock >= ?", systemStateID, n).
		Updates(map[string]any{
			"stock":             gorm.Expr("stock - ?", n),
			"last_deduction_at": now,
			"updated_at":        now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrInsufficientStock
	}
	s, err := GetSystemState(ctx, db)
	if err != nil {
		return 0, err
	}
	return s.Stock, nil
}

// RestoreStock adds n diamonds back, typically when a processed order is
// deleted.
func RestoreStock(ctx context.Context, db *gorm.DB, n int) error {
	return db.WithContext(ctx).
		Model(&domain.SystemState{}).
		Where("id = ?", systemStateID).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock + ?", n),
			"updated_at": time.Now().UTC(),
		}).Error
}

// SetStock overwrites the stock counter with an absolute value and switches
// the system back on when the new amount is positive.
func SetStock(ctx context.Context, db *gorm.DB, amount int64) error {
	if _, err := GetSystemState(ctx, db); err != nil {
		return err
	}
	upd := map[string]any{
		"stock":      amount,
		"updated_at": time.Now().UTC(),
	}
	if amount > 0 {
		upd["accepting"] = true
		upd["off_reason"] = ""
		upd["auto_off_at"] = nil
	}
	return db.WithContext(ctx).
		Model(&domain.SystemState{}).
		Where("id = ?", systemStateID).
		Updates(upd).Error
}

// SetAccepting flips the accepting-orders switch. The reason is kept for
// the status endpoint; autoOff marks depletion-triggered shutdowns.
func SetAccepting(ctx context.Context, db *gorm.DB, on bool, reason string, autoOff bool) error {
	if _, err := GetSystemState(ctx, db); err != nil {
		return err
	}
	upd := map[string]any{
		"accepting":  on,
		"off_reason": reason,
		"updated_at": time.Now().UTC(),
	}
	if on {
		upd["off_reason"] = ""
		upd["auto_off_at"] = nil
	} else if autoOff {
		upd["auto_off_at"] = time.Now().UTC()
	}
	return db.WithContext(ctx).
		Model(&domain.SystemState{}).
		Where("id = ?", systemStateID).
		Updates(upd).Error
}

// SetGlobalMessage stores the broadcast shown while the system is off.
func SetGlobalMessage(ctx context.Context, db *gorm.DB, msg string) error {
	if _, err := GetSystemState(ctx, db); err != nil {
		return err
	}
	return db.WithContext(ctx).
		Model(&domain.SystemState{}).
		Where("id = ?", systemStateID).
		Updates(map[string]any{"global_message": msg, "updated_at": time.Now().UTC()}).Error
}

// SetNotificationToggles updates the three notification gates in one write.
// Nil pointers leave the corresponding toggle unchanged.
func SetNotificationToggles(ctx context.Context, db *gorm.DB, approve, autoApprove, deleteMsg *bool) error {
	if _, err := GetSystemState(ctx, db); err != nil {
		return err
	}
	upd := map[string]any{"updated_at": time.Now().UTC()}
	if approve != nil {
		upd["send_approve_message"] = *approve
	}
	if autoApprove != nil {
		upd["send_auto_approve_message"] = *autoApprove
	}
	if deleteMsg != nil {
		upd["send_delete_message"] = *deleteMsg
	}
	return db.WithContext(ctx).
		Model(&domain.SystemState{}).
		Where("id = ?", systemStateID).
		Updates(upd).Error
}
