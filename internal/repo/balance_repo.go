// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file covers user balance accounts and the payment
// ledger.
//
// Balance mutations are expressed as relative adjustments executed as a
// single UPDATE, so concurrent deposits and deductions never lose writes.
// Every mutation also appends a PaymentTransaction row; the ledger is the
// audit trail and the idempotency anchor for auto-deductions.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/dtopup/go-topup-backend/internal/domain"
)

// GetBalance returns the user's balance account, creating a zero-balance
// row on first reference.
func GetBalance(ctx context.Context, db *gorm.DB, userID string) (*domain.BalanceAccount, error) {
	var b domain.BalanceAccount
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&b).Error
	if err == nil {
		return &b, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	now := time.Now().UTC()
	b = domain.BalanceAccount{UserID: userID, Balance: 0, CreatedAt: now, UpdatedAt: now}
	if err := db.WithContext(ctx).Create(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// AdjustBalance applies a relative delta (positive = deposit, negative =
// deduction) to the user's balance and returns the new total. The account
// is created if missing.
func AdjustBalance(ctx context.Context, db *gorm.DB, userID string, delta float64) (float64, error) {
	if _, err := GetBalance(ctx, db, userID); err != nil {
		return 0, err
	}
	err := db.WithContext(ctx).
		Model(&domain.BalanceAccount{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", delta),
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return 0, err
	}
	b, err := GetBalance(ctx, db, userID)
	if err != nil {
		return 0, err
	}
	return b.Balance, nil
}

// RecordTransaction appends one ledger row. CreatedAt is set here.
func RecordTransaction(ctx context.Context, db *gorm.DB, t *domain.PaymentTransaction) error {
	t.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(t).Error
}

// AutoDeductionExists reports whether a live (not refunded) auto-deduction
// ledger row already references the given order. The lifecycle service
// checks this before touching the balance so a replayed transition never
// deducts twice.
func AutoDeductionExists(ctx context.Context, db *gorm.DB, orderID int64) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.PaymentTransaction{}).
		Where("order_id = ? AND kind = ? AND status = ?", orderID, domain.DeductionAuto, domain.TxnCompleted).
		Count(&n).Error
	return n > 0, err
}

// MarkDeductionsRefunded flips the order's live auto-deduction rows to
// refunded. Called when a processed order is deleted or reverted and the
// money goes back to the user.
func MarkDeductionsRefunded(ctx context.Context, db *gorm.DB, orderID int64) error {
	return db.WithContext(ctx).
		Model(&domain.PaymentTransaction{}).
		Where("order_id = ? AND kind = ? AND status = ?", orderID, domain.DeductionAuto, domain.TxnCompleted).
		Update("status", domain.TxnRefunded).Error
}

// ListTransactions returns the user's ledger rows, newest first.
func ListTransactions(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.PaymentTransaction, error) {
	var out []domain.PaymentTransaction
	q := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
