package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

func (s *Store) FindActiveUserByEmail(ctx context.Context, email string) (AuthUser, error) {
	var out AuthUser
	err := s.DB.QueryRow(ctx, `
    SELECT id, COALESCE(company_id::text, ''), role, password_hash
    FROM users
    WHERE lower(email) = lower($1) AND status = $2
  `, strings.TrimSpace(email), UserStatusActive).Scan(&out.ID, &out.CompanyID, &out.Role, &out.Password)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrUserNotFound
	}
	return out, err
}

func (s *Store) UpdateLastLogin(ctx context.Context, userID string) error {
	_, err := s.DB.Exec(ctx, "UPDATE users SET last_login = now() WHERE id = $1", userID)
	return err
}

func (s *Store) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.DB.QueryRow(ctx, `
    SELECT id, COALESCE(company_id::text, ''), email, full_name, role, status, last_login, created_at
    FROM users
    WHERE id = $1
  `, userID).Scan(&user.ID, &user.CompanyID, &user.Email, &user.FullName, &user.Role, &user.Status, &user.LastLogin, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return user, ErrUserNotFound
	}
	return user, err
}

func (s *Store) CountUsers(ctx context.Context, companyID string) (int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, "SELECT COUNT(1) FROM users WHERE company_id = $1", companyID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListUsers(ctx context.Context, companyID string, limit, offset int) ([]User, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, COALESCE(company_id::text, ''), email, full_name, role, status, last_login, created_at
    FROM users
    WHERE company_id = $1
    ORDER BY email
    LIMIT $2 OFFSET $3
  `, companyID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.CompanyID, &user.Email, &user.FullName, &user.Role, &user.Status, &user.LastLogin, &user.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user NewUser, passwordHash string) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
    INSERT INTO users (company_id, email, full_name, role, password_hash, status)
    VALUES ($1,$2,$3,$4,$5,$6)
    RETURNING id
  `, nullIfEmpty(user.CompanyID), strings.ToLower(strings.TrimSpace(user.Email)), user.FullName, user.Role, passwordHash, UserStatusActive).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrEmailTaken
		}
		return "", err
	}
	return id, nil
}

func (s *Store) SetStatus(ctx context.Context, companyID, userID, status string) error {
	cmd, err := s.DB.Exec(ctx, `
    UPDATE users SET status = $1
    WHERE id = $2 AND company_id = $3
  `, status, userID, companyID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
