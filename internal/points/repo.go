package points

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ariefcatur/shop-backoffice/internal/paging"
	"github.com/ariefcatur/shop-backoffice/internal/postgres"
)

type Repo struct{}

// Append inserts the entry and moves the materialized user total by the same delta. q must be a
// transaction so both writes land together.
func (r *Repo) Append(ctx context.Context, q postgres.Querier, e Entry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO points_ledger(id, user_id, order_id, reward_id, points, type, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.UserID, e.OrderID, e.RewardID, e.Points, string(e.Type), e.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyRecorded
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO user_points(user_id, total) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET total = user_points.total + EXCLUDED.total`,
		e.UserID, e.Points)
	if err != nil {
		return fmt.Errorf("update user points: %w", err)
	}
	return nil
}

func (r *Repo) Totals(ctx context.Context, q postgres.Querier, userID uuid.UUID) (Totals, error) {
	var t Totals
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(points) FILTER (WHERE points > 0), 0),
		       COALESCE(SUM(points) FILTER (WHERE points < 0), 0),
		       COUNT(*)
		FROM points_ledger WHERE user_id = $1`, userID).Scan(&t.Earned, &t.Redeemed, &t.Entries)
	if err != nil {
		return Totals{}, fmt.Errorf("sum ledger: %w", err)
	}
	return t, nil
}

// Materialized returns the cached user total, 0 when the user has none yet.
func (r *Repo) Materialized(ctx context.Context, q postgres.Querier, userID uuid.UUID) (int64, error) {
	var total int64
	err := q.QueryRow(ctx, `SELECT total FROM user_points WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		if postgres.IsNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read user points: %w", err)
	}
	return total, nil
}

func (r *Repo) List(ctx context.Context, q postgres.Querier, userID uuid.UUID, params paging.Params) ([]Entry, int, error) {
	params = params.Normalize()
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM points_ledger WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ledger: %w", err)
	}
	rows, err := q.Query(ctx, `
		SELECT id, user_id, order_id, reward_id, points, type, created_at
		FROM points_ledger WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, userID, params.Limit, params.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e     Entry
			eType string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.OrderID, &e.RewardID, &e.Points, &eType, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.Type = EntryType(eType)
		out = append(out, e)
	}
	return out, total, rows.Err()
}
