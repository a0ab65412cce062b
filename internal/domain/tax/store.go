package tax

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

const selectConfiguration = `
    SELECT id, effective_date, paye_brackets,
           pension_employee, pension_employer,
           maternity_employee, maternity_employer,
           cbhi_employee, cbhi_employer,
           rama_employee, rama_employer,
           COALESCE(created_by::text, ''), created_at
    FROM tax_configurations
`

// Latest returns the newest configuration whose effective date is not after asOf.
func (s *Store) Latest(ctx context.Context, asOf time.Time) (Configuration, error) {
	row := s.DB.QueryRow(ctx, selectConfiguration+`
    WHERE effective_date <= $1
    ORDER BY effective_date DESC, created_at DESC
    LIMIT 1
  `, asOf)
	return scanConfiguration(row)
}

func (s *Store) Get(ctx context.Context, id string) (Configuration, error) {
	row := s.DB.QueryRow(ctx, selectConfiguration+`
    WHERE id = $1
  `, id)
	return scanConfiguration(row)
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, "SELECT COUNT(1) FROM tax_configurations").Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) List(ctx context.Context, limit, offset int) ([]Configuration, error) {
	rows, err := s.DB.Query(ctx, selectConfiguration+`
    ORDER BY effective_date DESC, created_at DESC
    LIMIT $1 OFFSET $2
  `, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Configuration
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// Create stores a validated configuration and returns its id.
func (s *Store) Create(ctx context.Context, cfg Configuration, actorID string) (string, error) {
	if err := Validate(cfg); err != nil {
		return "", err
	}
	brackets, err := json.Marshal(SortedBrackets(cfg.PAYEBrackets))
	if err != nil {
		return "", err
	}
	var id string
	err = s.DB.QueryRow(ctx, `
    INSERT INTO tax_configurations (
      effective_date, paye_brackets,
      pension_employee, pension_employer,
      maternity_employee, maternity_employer,
      cbhi_employee, cbhi_employer,
      rama_employee, rama_employer,
      created_by
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    RETURNING id
  `, cfg.EffectiveDate, brackets,
		cfg.Pension.Employee, cfg.Pension.Employer,
		cfg.Maternity.Employee, cfg.Maternity.Employer,
		cfg.CBHI.Employee, cfg.CBHI.Employer,
		cfg.RAMA.Employee, cfg.RAMA.Employer,
		nullIfEmpty(actorID)).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrEffectiveDateTaken
		}
		return "", err
	}
	return id, nil
}

// scanConfiguration reads a stored row through the raw form so that nullable
// rate columns get the same defaulting as imported documents.
func scanConfiguration(row pgx.Row) (Configuration, error) {
	var (
		raw          RawConfiguration
		effective    time.Time
		bracketsJSON []byte
		rates        [8]decimal.NullDecimal
		createdBy    string
		createdAt    time.Time
	)
	err := row.Scan(&raw.ID, &effective, &bracketsJSON,
		&rates[0], &rates[1], &rates[2], &rates[3],
		&rates[4], &rates[5], &rates[6], &rates[7],
		&createdBy, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Configuration{}, ErrConfigurationNotFound
		}
		return Configuration{}, err
	}
	raw.EffectiveDate = &effective

	if len(bracketsJSON) > 0 {
		doc := append(append([]byte(`{"payeBrackets":`), bracketsJSON...), '}')
		decoded, err := DecodeRawConfiguration(doc)
		if err != nil {
			return Configuration{}, fmt.Errorf("tax configuration %s: %w", raw.ID, err)
		}
		raw.PAYEBrackets = decoded.PAYEBrackets
	}
	raw.Pension = nullPair(rates[0], rates[1])
	raw.Maternity = nullPair(rates[2], rates[3])
	raw.CBHI = nullPair(rates[4], rates[5])
	raw.RAMA = nullPair(rates[6], rates[7])

	cfg, err := ResolveConfiguration(raw)
	if err != nil {
		return Configuration{}, fmt.Errorf("tax configuration %s: %w", raw.ID, err)
	}
	cfg.CreatedBy = createdBy
	cfg.CreatedAt = createdAt
	return cfg, nil
}

func nullPair(employee, employer decimal.NullDecimal) *RawRatePair {
	if !employee.Valid && !employer.Valid {
		return nil
	}
	pair := &RawRatePair{}
	if employee.Valid {
		pair.Employee = &employee.Decimal
	}
	if employer.Valid {
		pair.Employer = &employer.Decimal
	}
	return pair
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
