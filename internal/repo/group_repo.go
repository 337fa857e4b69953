// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Group model.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/dtopup/go-topup-backend/internal/domain"
)

// GetGroup fetches a group by id, or ErrNotFound.
func GetGroup(ctx context.Context, db *gorm.DB, id string) (*domain.Group, error) {
	var g domain.Group
	if err := db.WithContext(ctx).Where("id = ?", id).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// EnsureGroup returns the group, creating it with the given default rate on
// first sight. Every inbound chat event funnels through here so a group row
// always exists before any order does.
func EnsureGroup(ctx context.Context, db *gorm.DB, id string, defaultRate float64) (*domain.Group, error) {
	g, err := GetGroup(ctx, db, id)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	now := time.Now().UTC()
	g = &domain.Group{
		ID:        id,
		Name:      "WhatsApp Group",
		Rate:      defaultRate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(g).Error; err != nil {
		return nil, err
	}
	return g, nil
}

// ListGroups returns every known group.
func ListGroups(ctx context.Context, db *gorm.DB) ([]domain.Group, error) {
	var out []domain.Group
	err := db.WithContext(ctx).Order("id asc").Find(&out).Error
	return out, err
}

// UpdateGroupRate sets the per-diamond rate for a group. Existing orders
// keep their snapshotted rate. Returns ErrNotFound if the group is unknown.
func UpdateGroupRate(ctx context.Context, db *gorm.DB, id string, rate float64) error {
	res := db.WithContext(ctx).
		Model(&domain.Group{}).
		Where("id = ?", id).
		Updates(map[string]any{"rate": rate, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetGroupStart stamps the cutoff before which transcript reconciliation
// ignores messages in this group.
func SetGroupStart(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Group{}).
		Where("id = ?", id).
		Updates(map[string]any{"start_at": at, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetGroupDueLimit updates the advisory due limit for a group.
func SetGroupDueLimit(ctx context.Context, db *gorm.DB, id string, limit float64) error {
	res := db.WithContext(ctx).
		Model(&domain.Group{}).
		Where("id = ?", id).
		Updates(map[string]any{"due_limit": limit, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
