// Package users reads the parts of the user record the core needs. Account management lives
// in the external auth service.
package users

import (
	"context"

	"github.com/google/uuid"

	"github.com/ariefcatur/shop-backoffice/internal/postgres"
	"github.com/ariefcatur/shop-backoffice/internal/pricing"
)

type Repo struct{ DB postgres.Querier }

// RoleOf returns the user's role, or "" when the user does not exist.
func (r *Repo) RoleOf(ctx context.Context, userID uuid.UUID) (pricing.Role, error) {
	var role string
	err := r.DB.QueryRow(ctx, `SELECT role FROM users WHERE id=$1`, userID).Scan(&role)
	if err != nil {
		if postgres.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return pricing.Role(role), nil
}
