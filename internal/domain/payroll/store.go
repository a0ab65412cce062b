package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"hrpay/internal/domain/staff"
	cryptoutil "hrpay/internal/platform/crypto"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Store struct {
	DB     *pgxpool.Pool
	Crypto *cryptoutil.Service
}

func NewStore(db *pgxpool.Pool, crypto *cryptoutil.Service) *Store {
	return &Store{DB: db, Crypto: crypto}
}

const selectRun = `
    SELECT id, company_id, period, status, COALESCE(tax_configuration_id::text, ''),
           total_gross, total_deductions, total_net, total_employer_contributions,
           staff_count, error_count,
           COALESCE(created_by::text, ''), COALESCE(approved_by::text, ''), approved_at,
           COALESCE(rejection_reason, ''), COALESCE(failure_reason, ''),
           created_at, updated_at
    FROM payroll_runs
`

func scanRun(row pgx.Row) (Run, error) {
	var r Run
	err := row.Scan(
		&r.ID, &r.CompanyID, &r.Period, &r.Status, &r.TaxConfigurationID,
		&r.TotalGross, &r.TotalDeductions, &r.TotalNet, &r.TotalEmployerContributions,
		&r.StaffCount, &r.ErrorCount,
		&r.CreatedBy, &r.ApprovedBy, &r.ApprovedAt,
		&r.RejectionReason, &r.FailureReason,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return r, ErrRunNotFound
	}
	return r, err
}

func (s *Store) CreateRun(ctx context.Context, run Run) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
    INSERT INTO payroll_runs (company_id, period, status, created_by)
    VALUES ($1,$2,$3,$4)
    RETURNING id
  `, run.CompanyID, run.Period, run.Status, nullIfEmpty(run.CreatedBy)).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrRunExists
		}
		return "", err
	}
	return id, nil
}

func (s *Store) GetRun(ctx context.Context, companyID, runID string) (Run, error) {
	return scanRun(s.DB.QueryRow(ctx, selectRun+" WHERE company_id = $1 AND id = $2", companyID, runID))
}

func (s *Store) CountRuns(ctx context.Context, companyID string) (int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, "SELECT COUNT(1) FROM payroll_runs WHERE company_id = $1", companyID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListRuns(ctx context.Context, companyID string, limit, offset int) ([]Run, error) {
	rows, err := s.DB.Query(ctx, selectRun+" WHERE company_id = $1 ORDER BY period DESC LIMIT $2 OFFSET $3", companyID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// ListProcessing returns runs of every company still waiting for calculation.
func (s *Store) ListProcessing(ctx context.Context) ([]Run, error) {
	rows, err := s.DB.Query(ctx, selectRun+" WHERE status = $1 ORDER BY created_at", RunStatusProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// SetRunStatus moves a run that is not yet approved to status.
func (s *Store) SetRunStatus(ctx context.Context, companyID, runID, status, failureReason string) error {
	tag, err := s.DB.Exec(ctx, `
    UPDATE payroll_runs
    SET status = $1, failure_reason = $2, updated_at = now()
    WHERE company_id = $3 AND id = $4 AND status <> $5
  `, status, nullIfEmpty(failureReason), companyID, runID, RunStatusApproved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetRun(ctx, companyID, runID); err != nil {
		return err
	}
	return ErrRunNotEditable
}

// SaveResults replaces every result of the run and stores its totals in one
// transaction. The run ends up completed. An approved run is left untouched.
func (s *Store) SaveResults(ctx context.Context, run Run, results []ResultRow) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	status, err := lockRun(ctx, tx, run.CompanyID, run.ID)
	if err != nil {
		return err
	}
	if status == RunStatusApproved {
		return ErrRunNotEditable
	}
	if _, err := tx.Exec(ctx, "DELETE FROM payroll_results WHERE run_id = $1", run.ID); err != nil {
		return err
	}
	for _, row := range results {
		inputJSON, err := json.Marshal(row.Input)
		if err != nil {
			return err
		}
		warnings := row.Warnings
		if warnings == nil {
			warnings = []string{}
		}
		warningsJSON, err := json.Marshal(warnings)
		if err != nil {
			return err
		}
		r := row.Result
		if _, err := tx.Exec(ctx, `
      INSERT INTO payroll_results (
        run_id, company_id, staff_id, staff_number, staff_name,
        status, error_code, error_message, input_json,
        total_gross, paye, employee_pension, employer_pension,
        employee_maternity, employer_maternity, employee_rama, employer_rama,
        cbhi, employer_cbhi, intermediate_net, other_deductions_total,
        total_deductions, net_pay, warnings_json
      )
      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
    `, run.ID, run.CompanyID, row.StaffID, row.StaffNumber, row.StaffName,
			r.Status, nullIfEmpty(r.ErrorCode), nullIfEmpty(r.ErrorMessage), inputJSON,
			r.TotalGrossSalary, r.PAYEAmount, r.EmployeePension, r.EmployerPension,
			r.EmployeeMaternity, r.EmployerMaternity, r.EmployeeRAMA, r.EmployerRAMA,
			r.CBHIDeduction, r.EmployerCBHI, r.IntermediateNetSalary, r.OtherDeductionsTotal,
			r.TotalAppliedDeductions, r.FinalNetPay, warningsJSON); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `
    UPDATE payroll_runs
    SET status = $1, tax_configuration_id = $2,
        total_gross = $3, total_deductions = $4, total_net = $5, total_employer_contributions = $6,
        staff_count = $7, error_count = $8,
        rejection_reason = NULL, failure_reason = NULL, updated_at = now()
    WHERE id = $9
  `, RunStatusCompleted, nullIfEmpty(run.TaxConfigurationID),
		run.TotalGross, run.TotalDeductions, run.TotalNet, run.TotalEmployerContributions,
		run.StaffCount, run.ErrorCount, run.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const selectResult = `
    SELECT r.id, r.run_id, r.staff_id, r.staff_number, r.staff_name,
           COALESCE(st.bank_name, ''), COALESCE(st.bank_account, ''), st.bank_account_enc,
           r.status, COALESCE(r.error_code, ''), COALESCE(r.error_message, ''), r.input_json,
           r.total_gross, r.paye, r.employee_pension, r.employer_pension,
           r.employee_maternity, r.employer_maternity, r.employee_rama, r.employer_rama,
           r.cbhi, r.employer_cbhi, r.intermediate_net, r.other_deductions_total,
           r.total_deductions, r.net_pay, r.warnings_json, r.created_at
    FROM payroll_results r
    LEFT JOIN staff st ON st.id = r.staff_id
`

func (s *Store) scanResult(row pgx.Row) (ResultRow, error) {
	var out ResultRow
	var bankPlain string
	var bankEnc, inputJSON, warningsJSON []byte
	r := &out.Result
	err := row.Scan(
		&out.ID, &out.RunID, &out.StaffID, &out.StaffNumber, &out.StaffName,
		&out.BankName, &bankPlain, &bankEnc,
		&r.Status, &r.ErrorCode, &r.ErrorMessage, &inputJSON,
		&r.TotalGrossSalary, &r.PAYEAmount, &r.EmployeePension, &r.EmployerPension,
		&r.EmployeeMaternity, &r.EmployerMaternity, &r.EmployeeRAMA, &r.EmployerRAMA,
		&r.CBHIDeduction, &r.EmployerCBHI, &r.IntermediateNetSalary, &r.OtherDeductionsTotal,
		&r.TotalAppliedDeductions, &r.FinalNetPay, &warningsJSON, &out.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return out, ErrResultNotFound
		}
		return out, err
	}
	out.BankAccount = s.Crypto.Open(bankEnc, bankPlain)
	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &out.Input); err != nil {
			return out, err
		}
	}
	if len(warningsJSON) > 0 {
		if err := json.Unmarshal(warningsJSON, &out.Warnings); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *Store) ListResults(ctx context.Context, companyID, runID string) ([]ResultRow, error) {
	return s.listResults(ctx, s.DB, companyID, runID)
}

func (s *Store) listResults(ctx context.Context, q querier, companyID, runID string) ([]ResultRow, error) {
	rows, err := q.Query(ctx, selectResult+" WHERE r.company_id = $1 AND r.run_id = $2 ORDER BY r.staff_number", companyID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultRow
	for rows.Next() {
		row, err := s.scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) GetResult(ctx context.Context, companyID, runID, staffID string) (ResultRow, error) {
	return s.scanResult(s.DB.QueryRow(ctx, selectResult+" WHERE r.company_id = $1 AND r.run_id = $2 AND r.staff_id = $3", companyID, runID, staffID))
}

// PreviousNet returns each staff member's net pay in the latest approved run
// before period.
func (s *Store) PreviousNet(ctx context.Context, companyID string, period time.Time) (map[string]decimal.Decimal, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT r.staff_id, r.net_pay
    FROM payroll_results r
    WHERE r.run_id = (
      SELECT id FROM payroll_runs
      WHERE company_id = $1 AND status = $2 AND period < $3
      ORDER BY period DESC
      LIMIT 1
    ) AND r.status = $4
  `, companyID, RunStatusApproved, period, StatusCalculated)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]decimal.Decimal{}
	for rows.Next() {
		var staffID string
		var net decimal.Decimal
		if err := rows.Scan(&staffID, &net); err != nil {
			return nil, err
		}
		out[staffID] = net
	}
	return out, rows.Err()
}

// Approve marks a completed run approved and takes each deduction usage off
// the remaining balance. Deductions that reach zero are settled. The results
// are read after the run row is locked, so a concurrent recalculation either
// finishes first or waits for the approval.
func (s *Store) Approve(ctx context.Context, companyID, runID, actorID string) ([]ResultRow, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	status, err := lockRun(ctx, tx, companyID, runID)
	if err != nil {
		return nil, err
	}
	if status != RunStatusCompleted {
		return nil, ErrApproveInvalidState
	}
	results, err := s.listResults(ctx, tx, companyID, runID)
	if err != nil {
		return nil, err
	}
	usages, err := DeductionUsages(results)
	if err != nil {
		return nil, err
	}

	for _, u := range usages {
		if _, err := tx.Exec(ctx, `
      UPDATE staff_deductions
      SET remaining_balance = GREATEST(remaining_balance - $1, 0),
          status = CASE WHEN remaining_balance - $1 <= 0 THEN $2 ELSE status END,
          updated_at = now()
      WHERE id = $3
    `, u.Amount, staff.DeductionStatusSettled, u.DeductionID); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, `
    UPDATE payroll_runs
    SET status = $1, approved_by = $2, approved_at = now(), updated_at = now()
    WHERE id = $3
  `, RunStatusApproved, nullIfEmpty(actorID), runID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

func lockRun(ctx context.Context, tx pgx.Tx, companyID, runID string) (string, error) {
	var status string
	err := tx.QueryRow(ctx, `
    SELECT status FROM payroll_runs
    WHERE company_id = $1 AND id = $2
    FOR UPDATE
  `, companyID, runID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrRunNotFound
	}
	return status, err
}

func (s *Store) Reject(ctx context.Context, companyID, runID, reason string) error {
	tag, err := s.DB.Exec(ctx, `
    UPDATE payroll_runs
    SET status = $1, rejection_reason = $2, updated_at = now()
    WHERE company_id = $3 AND id = $4 AND status = $5
  `, RunStatusRejected, nullIfEmpty(reason), companyID, runID, RunStatusCompleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRejectInvalidState
	}
	return nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
