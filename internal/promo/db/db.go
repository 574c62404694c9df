package db

import (
	"context"
	"fmt"

	"ms-settlement/internal/database"
	"ms-settlement/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun bun.IDB
}

func (d *DB) GetPromo(ctx context.Context, code string) (*models.PromoCode, error) {
	var p models.PromoCode
	err := d.Bun.NewSelect().Model(&p).Where("code = ?", code).Limit(1).Scan(ctx)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *DB) Redeem(ctx context.Context, code string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.PromoCode)(nil)).
		Set("usage_count = usage_count + 1").
		Where("code = ?", code).
		Where("active = ?", true).
		Where("(usage_limit IS NULL OR usage_count < usage_limit)").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("redeem promo %s: %w", code, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (d *DB) Release(ctx context.Context, code string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.PromoCode)(nil)).
		Set("usage_count = usage_count - 1").
		Where("code = ?", code).
		Where("usage_count > 0").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("release promo %s: %w", code, err)
	}
	return nil
}
