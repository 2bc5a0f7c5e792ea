package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/shop-backoffice/internal/postgres"
	"github.com/ariefcatur/shop-backoffice/internal/pricing"
)

// DiscountRepo serves pricing.DiscountSource from products_discounts.
type DiscountRepo struct{ DB postgres.Querier }

func (r *DiscountRepo) ActiveDiscounts(ctx context.Context, userID uuid.UUID, productIDs []uuid.UUID, at time.Time) ([]pricing.Discount, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id, user_id, product_id, price, valid_from, valid_to, is_active, created_at
		FROM products_discounts
		WHERE user_id = $1 AND product_id = ANY($2) AND is_active
		  AND (valid_from IS NULL OR valid_from <= $3)
		  AND (valid_to IS NULL OR valid_to >= $3)`, userID, productIDs, at)
	if err != nil {
		return nil, fmt.Errorf("load discounts: %w", err)
	}
	defer rows.Close()

	var out []pricing.Discount
	for rows.Next() {
		var d pricing.Discount
		if err := rows.Scan(&d.ID, &d.UserID, &d.ProductID, &d.Price, &d.ValidFrom, &d.ValidTo, &d.IsActive, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Insert adds a discount row. Overlapping rows are allowed; pricing.SelectDiscounts picks one
// per product at read time.
func (r *DiscountRepo) Insert(ctx context.Context, q postgres.Querier, d pricing.Discount) error {
	_, err := q.Exec(ctx, `
		INSERT INTO products_discounts(id, user_id, product_id, price, valid_from, valid_to, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.ID, d.UserID, d.ProductID, d.Price, d.ValidFrom, d.ValidTo, d.IsActive, d.CreatedAt)
	return err
}
