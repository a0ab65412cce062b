package staff

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	cryptoutil "hrpay/internal/platform/crypto"
)

type Store struct {
	DB     *pgxpool.Pool
	Crypto *cryptoutil.Service
}

func NewStore(db *pgxpool.Pool, crypto *cryptoutil.Service) *Store {
	return &Store{DB: db, Crypto: crypto}
}

const selectStaff = `
    SELECT id, company_id, staff_number, first_name, last_name,
           COALESCE(email, ''), COALESCE(phone, ''),
           COALESCE(national_id, ''), national_id_enc,
           COALESCE(bank_name, ''),
           COALESCE(bank_account, ''), bank_account_enc,
           COALESCE(department, ''), COALESCE(position, ''),
           employment_type, status, start_date, end_date, created_at, updated_at
    FROM staff
`

func (s *Store) scanStaff(row pgx.Row) (Staff, error) {
	var st Staff
	var nationalEnc, bankEnc []byte
	var nationalPlain, bankPlain string
	err := row.Scan(
		&st.ID, &st.CompanyID, &st.StaffNumber, &st.FirstName, &st.LastName,
		&st.Email, &st.Phone, &nationalPlain, &nationalEnc, &st.BankName,
		&bankPlain, &bankEnc, &st.Department, &st.Position,
		&st.EmploymentType, &st.Status, &st.StartDate, &st.EndDate, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return st, ErrStaffNotFound
		}
		return st, err
	}
	st.NationalID = s.Crypto.Open(nationalEnc, nationalPlain)
	st.BankAccount = s.Crypto.Open(bankEnc, bankPlain)
	return st, nil
}

func buildFilter(companyID string, filter Filter) (string, []any) {
	where := " WHERE company_id = $1"
	args := []any{companyID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Department != "" {
		args = append(args, filter.Department)
		where += fmt.Sprintf(" AND department = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where += fmt.Sprintf(" AND (first_name ILIKE $%d OR last_name ILIKE $%d OR staff_number ILIKE $%d)", len(args), len(args), len(args))
	}
	return where, args
}

func (s *Store) Count(ctx context.Context, companyID string, filter Filter) (int, error) {
	where, args := buildFilter(companyID, filter)
	var total int
	if err := s.DB.QueryRow(ctx, "SELECT COUNT(1) FROM staff"+where, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) List(ctx context.Context, companyID string, filter Filter, limit, offset int) ([]Staff, error) {
	where, args := buildFilter(companyID, filter)
	query := selectStaff + where + fmt.Sprintf(" ORDER BY last_name, first_name LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Staff
	for rows.Next() {
		st, err := s.scanStaff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, companyID, staffID string) (Staff, error) {
	return s.scanStaff(s.DB.QueryRow(ctx, selectStaff+" WHERE company_id = $1 AND id = $2", companyID, staffID))
}

func (s *Store) GetByNumber(ctx context.Context, companyID, staffNumber string) (Staff, error) {
	return s.scanStaff(s.DB.QueryRow(ctx, selectStaff+" WHERE company_id = $1 AND staff_number = $2", companyID, staffNumber))
}

func (s *Store) Create(ctx context.Context, companyID string, st Staff) (string, error) {
	nationalPlain, nationalEnc, err := s.Crypto.Seal(st.NationalID)
	if err != nil {
		return "", err
	}
	bankPlain, bankEnc, err := s.Crypto.Seal(st.BankAccount)
	if err != nil {
		return "", err
	}
	var id string
	err = s.DB.QueryRow(ctx, `
    INSERT INTO staff (company_id, staff_number, first_name, last_name, email, phone,
      national_id, national_id_enc, bank_name, bank_account, bank_account_enc,
      department, position, employment_type, status, start_date, end_date)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
    RETURNING id
  `,
		companyID, st.StaffNumber, st.FirstName, st.LastName, nullIfEmpty(st.Email), nullIfEmpty(st.Phone),
		nationalPlain, nationalEnc, nullIfEmpty(st.BankName), bankPlain, bankEnc,
		nullIfEmpty(st.Department), nullIfEmpty(st.Position), st.EmploymentType, st.Status, st.StartDate, st.EndDate,
	).Scan(&id)
	if err != nil {
		return "", mapUniqueViolation(err)
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, companyID, staffID string, st Staff) error {
	nationalPlain, nationalEnc, err := s.Crypto.Seal(st.NationalID)
	if err != nil {
		return err
	}
	bankPlain, bankEnc, err := s.Crypto.Seal(st.BankAccount)
	if err != nil {
		return err
	}
	cmd, err := s.DB.Exec(ctx, `
    UPDATE staff
    SET staff_number = $1,
        first_name = $2,
        last_name = $3,
        email = $4,
        phone = $5,
        national_id = $6,
        national_id_enc = $7,
        bank_name = $8,
        bank_account = $9,
        bank_account_enc = $10,
        department = $11,
        position = $12,
        employment_type = $13,
        status = $14,
        start_date = $15,
        end_date = $16,
        updated_at = now()
    WHERE company_id = $17 AND id = $18
  `,
		st.StaffNumber, st.FirstName, st.LastName, nullIfEmpty(st.Email), nullIfEmpty(st.Phone),
		nationalPlain, nationalEnc, nullIfEmpty(st.BankName), bankPlain, bankEnc,
		nullIfEmpty(st.Department), nullIfEmpty(st.Position), st.EmploymentType, st.Status,
		st.StartDate, st.EndDate, companyID, staffID,
	)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrStaffNotFound
	}
	return nil
}

func (s *Store) ListPayments(ctx context.Context, companyID, staffID string) ([]Payment, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT p.id, p.staff_id, p.payment_type, p.amount, p.active, p.created_at
    FROM staff_payments p
    JOIN staff st ON st.id = p.staff_id
    WHERE st.company_id = $1 AND p.staff_id = $2
    ORDER BY p.created_at
  `, companyID, staffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.StaffID, &p.Type, &p.Amount, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPayment keeps one active payment per type: the previous active
// payment of the same type is deactivated.
func (s *Store) UpsertPayment(ctx context.Context, staffID string, p Payment) (string, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
    UPDATE staff_payments SET active = false
    WHERE staff_id = $1 AND payment_type = $2 AND active
  `, staffID, p.Type); err != nil {
		return "", err
	}
	var id string
	if err := tx.QueryRow(ctx, `
    INSERT INTO staff_payments (staff_id, payment_type, amount, active)
    VALUES ($1,$2,$3,true)
    RETURNING id
  `, staffID, p.Type, p.Amount).Scan(&id); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) DeletePayment(ctx context.Context, companyID, staffID, paymentID string) error {
	cmd, err := s.DB.Exec(ctx, `
    DELETE FROM staff_payments p
    USING staff st
    WHERE st.id = p.staff_id AND st.company_id = $1 AND p.staff_id = $2 AND p.id = $3
  `, companyID, staffID, paymentID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (s *Store) ListDeductions(ctx context.Context, companyID, staffID string) ([]Deduction, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT d.id, d.staff_id, d.deduction_type, COALESCE(d.description, ''),
           d.original_amount, d.monthly_installment, d.remaining_balance, d.status, d.created_at
    FROM staff_deductions d
    JOIN staff st ON st.id = d.staff_id
    WHERE st.company_id = $1 AND d.staff_id = $2
    ORDER BY d.created_at
  `, companyID, staffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Deduction
	for rows.Next() {
		var d Deduction
		if err := rows.Scan(&d.ID, &d.StaffID, &d.Type, &d.Description, &d.OriginalAmount, &d.MonthlyInstallment, &d.RemainingBalance, &d.Status, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) CreateDeduction(ctx context.Context, staffID string, d Deduction) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
    INSERT INTO staff_deductions (staff_id, deduction_type, description, original_amount, monthly_installment, remaining_balance, status)
    VALUES ($1,$2,$3,$4,$5,$6,$7)
    RETURNING id
  `, staffID, d.Type, nullIfEmpty(d.Description), d.OriginalAmount, d.MonthlyInstallment, d.RemainingBalance, d.Status).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) DeleteDeduction(ctx context.Context, companyID, staffID, deductionID string) error {
	cmd, err := s.DB.Exec(ctx, `
    DELETE FROM staff_deductions d
    USING staff st
    WHERE st.id = d.staff_id AND st.company_id = $1 AND d.staff_id = $2 AND d.id = $3
  `, companyID, staffID, deductionID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDeductionNotFound
	}
	return nil
}

// ListForPayroll loads every active staff member of a company with active
// payments and active deductions.
func (s *Store) ListForPayroll(ctx context.Context, companyID string) ([]PayrollRecord, error) {
	staffList, err := s.List(ctx, companyID, Filter{Status: StatusActive}, 100000, 0)
	if err != nil {
		return nil, err
	}
	if len(staffList) == 0 {
		return nil, nil
	}
	index := make(map[string]int, len(staffList))
	records := make([]PayrollRecord, len(staffList))
	for i, st := range staffList {
		index[st.ID] = i
		records[i].Staff = st
	}

	rows, err := s.DB.Query(ctx, `
    SELECT p.id, p.staff_id, p.payment_type, p.amount, p.active, p.created_at
    FROM staff_payments p
    JOIN staff st ON st.id = p.staff_id
    WHERE st.company_id = $1 AND st.status = $2 AND p.active
  `, companyID, StatusActive)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.StaffID, &p.Type, &p.Amount, &p.Active, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if i, ok := index[p.StaffID]; ok {
			records[i].Payments = append(records[i].Payments, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.DB.Query(ctx, `
    SELECT d.id, d.staff_id, d.deduction_type, COALESCE(d.description, ''),
           d.original_amount, d.monthly_installment, d.remaining_balance, d.status, d.created_at
    FROM staff_deductions d
    JOIN staff st ON st.id = d.staff_id
    WHERE st.company_id = $1 AND st.status = $2 AND d.status = $3
    ORDER BY d.created_at
  `, companyID, StatusActive, DeductionStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var d Deduction
		if err := rows.Scan(&d.ID, &d.StaffID, &d.Type, &d.Description, &d.OriginalAmount, &d.MonthlyInstallment, &d.RemainingBalance, &d.Status, &d.CreatedAt); err != nil {
			return nil, err
		}
		if i, ok := index[d.StaffID]; ok {
			records[i].Deductions = append(records[i].Deductions, d)
		}
	}
	return records, rows.Err()
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrStaffNumberTaken
	}
	return err
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
