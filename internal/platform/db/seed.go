package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hrpay/internal/domain/auth"
	"hrpay/internal/domain/tax"
	"hrpay/internal/platform/config"
)

// Seed creates the first company, a system administrator and the built-in
// tax configuration when they are missing. It is safe to run on every start.
func Seed(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if _, err := ensureCompany(ctx, pool, cfg.SeedCompanyName); err != nil {
		return err
	}
	if err := ensureAdminUser(ctx, pool, cfg.SeedAdminEmail, cfg.SeedAdminPassword); err != nil {
		return err
	}
	return ensureTaxConfiguration(ctx, tax.NewStore(pool))
}

func ensureCompany(ctx context.Context, pool *pgxpool.Pool, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil
	}
	var id string
	err := pool.QueryRow(ctx, "SELECT id FROM companies WHERE name = $1", name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	err = pool.QueryRow(ctx, "INSERT INTO companies (name) VALUES ($1) RETURNING id", name).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func ensureAdminUser(ctx context.Context, pool *pgxpool.Pool, email, password string) error {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(password) == "" {
		return nil
	}

	var id string
	err := pool.QueryRow(ctx, "SELECT id FROM users WHERE lower(email) = lower($1)", email).Scan(&id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `
    INSERT INTO users (email, full_name, password_hash, role, status)
    VALUES ($1, $2, $3, $4, $5)
  `, strings.ToLower(email), "System Administrator", hash, auth.RoleSystemAdmin, auth.UserStatusActive)
	return err
}

type taxSeedStore interface {
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, cfg tax.Configuration, actorID string) (string, error)
}

func ensureTaxConfiguration(ctx context.Context, store taxSeedStore) error {
	total, err := store.Count(ctx)
	if err != nil {
		return err
	}
	if total > 0 {
		return nil
	}
	_, err = store.Create(ctx, tax.DefaultConfiguration(), "")
	return err
}
