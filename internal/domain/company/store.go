package company

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"hrpay/internal/domain/tax"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

const selectCompany = `
    SELECT id, name, COALESCE(tin, ''), COALESCE(address, ''), COALESCE(email, ''), COALESCE(phone, ''),
           exempt_paye, exempt_pension, exempt_maternity, exempt_cbhi, exempt_rama,
           created_at, updated_at
    FROM companies
`

func scanCompany(row pgx.Row) (Company, error) {
	var c Company
	var raw tax.RawExemptions
	err := row.Scan(&c.ID, &c.Name, &c.TIN, &c.Address, &c.Email, &c.Phone,
		&raw.PAYE, &raw.Pension, &raw.Maternity, &raw.CBHI, &raw.RAMA,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, ErrCompanyNotFound
		}
		return c, err
	}
	c.Exemptions = tax.ResolveExemptions(raw)
	return c, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, "SELECT COUNT(1) FROM companies").Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) List(ctx context.Context, limit, offset int) ([]Company, error) {
	rows, err := s.DB.Query(ctx, selectCompany+`
    ORDER BY name
    LIMIT $1 OFFSET $2
  `, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id string) (Company, error) {
	return scanCompany(s.DB.QueryRow(ctx, selectCompany+" WHERE id = $1", id))
}

func (s *Store) Create(ctx context.Context, c Company) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
    INSERT INTO companies (name, tin, address, email, phone,
      exempt_paye, exempt_pension, exempt_maternity, exempt_cbhi, exempt_rama)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    RETURNING id
  `, c.Name, nullIfEmpty(c.TIN), c.Address, c.Email, c.Phone,
		c.Exemptions.PAYE, c.Exemptions.Pension, c.Exemptions.Maternity, c.Exemptions.CBHI, c.Exemptions.RAMA).Scan(&id)
	if err != nil {
		return "", mapUniqueViolation(err)
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, id string, c Company) error {
	cmd, err := s.DB.Exec(ctx, `
    UPDATE companies
    SET name = $1, tin = $2, address = $3, email = $4, phone = $5, updated_at = now()
    WHERE id = $6
  `, c.Name, nullIfEmpty(c.TIN), c.Address, c.Email, c.Phone, id)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrCompanyNotFound
	}
	return nil
}

// UpdateExemptions writes only the flags present in raw; nil flags keep the
// stored value.
func (s *Store) UpdateExemptions(ctx context.Context, id string, raw tax.RawExemptions) error {
	cmd, err := s.DB.Exec(ctx, `
    UPDATE companies
    SET exempt_paye = COALESCE($1, exempt_paye),
        exempt_pension = COALESCE($2, exempt_pension),
        exempt_maternity = COALESCE($3, exempt_maternity),
        exempt_cbhi = COALESCE($4, exempt_cbhi),
        exempt_rama = COALESCE($5, exempt_rama),
        updated_at = now()
    WHERE id = $6
  `, raw.PAYE, raw.Pension, raw.Maternity, raw.CBHI, raw.RAMA, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrCompanyNotFound
	}
	return nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrNameTaken
	}
	return err
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
