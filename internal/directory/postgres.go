package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agrovision/advisory-chat/internal/domain"
)

// Postgres reads the profiles table owned by the profile service.
type Postgres struct{ DB *sql.DB }

func (r *Postgres) Lookup(ctx context.Context, id string) (*domain.Profile, error) {
	p := &domain.Profile{ID: id}
	var name sql.NullString
	var role string

	err := r.DB.QueryRowContext(ctx,
		`SELECT display_name, role FROM profiles WHERE user_id=$1`, id).
		Scan(&name, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	p.Name = name.String
	p.Role = domain.ParseRole(role)
	return p, nil
}
