package staff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hrpay/internal/domain/audit"
)

type StoreAPI interface {
	Count(ctx context.Context, companyID string, filter Filter) (int, error)
	List(ctx context.Context, companyID string, filter Filter, limit, offset int) ([]Staff, error)
	Get(ctx context.Context, companyID, staffID string) (Staff, error)
	GetByNumber(ctx context.Context, companyID, staffNumber string) (Staff, error)
	Create(ctx context.Context, companyID string, st Staff) (string, error)
	Update(ctx context.Context, companyID, staffID string, st Staff) error
	ListPayments(ctx context.Context, companyID, staffID string) ([]Payment, error)
	UpsertPayment(ctx context.Context, staffID string, p Payment) (string, error)
	DeletePayment(ctx context.Context, companyID, staffID, paymentID string) error
	ListDeductions(ctx context.Context, companyID, staffID string) ([]Deduction, error)
	CreateDeduction(ctx context.Context, staffID string, d Deduction) (string, error)
	DeleteDeduction(ctx context.Context, companyID, staffID, deductionID string) error
	ListForPayroll(ctx context.Context, companyID string) ([]PayrollRecord, error)
}

type Service struct {
	store StoreAPI
	audit audit.Recorder
	now   func() time.Time
}

func NewService(store StoreAPI, recorder audit.Recorder) *Service {
	return &Service{store: store, audit: recorder, now: time.Now}
}

func (s *Service) List(ctx context.Context, companyID string, filter Filter, limit, offset int) ([]Staff, int, error) {
	total, err := s.store.Count(ctx, companyID, filter)
	if err != nil {
		return nil, 0, err
	}
	items, err := s.store.List(ctx, companyID, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Service) Get(ctx context.Context, companyID, staffID string) (Staff, error) {
	return s.store.Get(ctx, companyID, staffID)
}

func (s *Service) Create(ctx context.Context, actor audit.Actor, companyID string, st Staff) (Staff, error) {
	st.CompanyID = companyID
	if st.Status == "" {
		st.Status = StatusActive
	}
	if st.EmploymentType == "" {
		st.EmploymentType = EmploymentPermanent
	}
	id, err := s.store.Create(ctx, companyID, st)
	if err != nil {
		return Staff{}, err
	}
	st.ID = id
	s.record(ctx, companyID, actor, audit.ActionCreate, "staff", id, nil, auditView(st))
	return st, nil
}

func (s *Service) Update(ctx context.Context, actor audit.Actor, companyID, staffID string, st Staff) (Staff, error) {
	before, err := s.store.Get(ctx, companyID, staffID)
	if err != nil {
		return Staff{}, err
	}
	if st.Status == "" {
		st.Status = before.Status
	}
	if st.EmploymentType == "" {
		st.EmploymentType = before.EmploymentType
	}
	if err := s.store.Update(ctx, companyID, staffID, st); err != nil {
		return Staff{}, err
	}
	after, err := s.store.Get(ctx, companyID, staffID)
	if err != nil {
		return Staff{}, err
	}
	s.record(ctx, companyID, actor, audit.ActionUpdate, "staff", staffID, auditView(before), auditView(after))
	return after, nil
}

// Deactivate marks a staff member inactive from today; inactive staff are
// left out of payroll runs.
func (s *Service) Deactivate(ctx context.Context, actor audit.Actor, companyID, staffID string) (Staff, error) {
	st, err := s.store.Get(ctx, companyID, staffID)
	if err != nil {
		return Staff{}, err
	}
	if st.Status == StatusInactive {
		return st, nil
	}
	st.Status = StatusInactive
	if st.EndDate == nil {
		today := s.now().UTC().Truncate(24 * time.Hour)
		st.EndDate = &today
	}
	return s.Update(ctx, actor, companyID, staffID, st)
}

func (s *Service) ListPayments(ctx context.Context, companyID, staffID string) ([]Payment, error) {
	if _, err := s.store.Get(ctx, companyID, staffID); err != nil {
		return nil, err
	}
	return s.store.ListPayments(ctx, companyID, staffID)
}

func (s *Service) AddPayment(ctx context.Context, actor audit.Actor, companyID, staffID string, p Payment) (Payment, error) {
	if !slices.Contains(PaymentTypes, p.Type) {
		return Payment{}, fmt.Errorf("%w: %q", ErrInvalidPaymentType, p.Type)
	}
	if p.Amount.IsNegative() {
		return Payment{}, ErrNegativeAmount
	}
	if _, err := s.store.Get(ctx, companyID, staffID); err != nil {
		return Payment{}, err
	}
	id, err := s.store.UpsertPayment(ctx, staffID, p)
	if err != nil {
		return Payment{}, err
	}
	p.ID = id
	p.StaffID = staffID
	p.Active = true
	s.record(ctx, companyID, actor, audit.ActionCreate, "staff_payment", id, nil, p)
	return p, nil
}

func (s *Service) DeletePayment(ctx context.Context, actor audit.Actor, companyID, staffID, paymentID string) error {
	if err := s.store.DeletePayment(ctx, companyID, staffID, paymentID); err != nil {
		return err
	}
	s.record(ctx, companyID, actor, audit.ActionDelete, "staff_payment", paymentID, nil, nil)
	return nil
}

func (s *Service) ListDeductions(ctx context.Context, companyID, staffID string) ([]Deduction, error) {
	if _, err := s.store.Get(ctx, companyID, staffID); err != nil {
		return nil, err
	}
	return s.store.ListDeductions(ctx, companyID, staffID)
}

// AddDeduction registers a recurring deduction. The remaining balance starts
// at the original amount unless given, and an installment of zero means the
// whole balance is taken in the next run.
func (s *Service) AddDeduction(ctx context.Context, actor audit.Actor, companyID, staffID string, d Deduction) (Deduction, error) {
	if !slices.Contains(DeductionTypes, d.Type) {
		return Deduction{}, fmt.Errorf("%w: type %q", ErrInvalidDeduction, d.Type)
	}
	if d.OriginalAmount.IsNegative() || d.MonthlyInstallment.IsNegative() || d.RemainingBalance.IsNegative() {
		return Deduction{}, ErrNegativeAmount
	}
	if d.RemainingBalance.IsZero() {
		d.RemainingBalance = d.OriginalAmount
	}
	if d.RemainingBalance.GreaterThan(d.OriginalAmount) {
		return Deduction{}, fmt.Errorf("%w: remaining balance exceeds original amount", ErrInvalidDeduction)
	}
	if d.RemainingBalance.IsZero() {
		return Deduction{}, fmt.Errorf("%w: amount must be positive", ErrInvalidDeduction)
	}
	if _, err := s.store.Get(ctx, companyID, staffID); err != nil {
		return Deduction{}, err
	}
	d.StaffID = staffID
	d.Status = DeductionStatusActive
	id, err := s.store.CreateDeduction(ctx, staffID, d)
	if err != nil {
		return Deduction{}, err
	}
	d.ID = id
	s.record(ctx, companyID, actor, audit.ActionCreate, "staff_deduction", id, nil, d)
	return d, nil
}

func (s *Service) DeleteDeduction(ctx context.Context, actor audit.Actor, companyID, staffID, deductionID string) error {
	if err := s.store.DeleteDeduction(ctx, companyID, staffID, deductionID); err != nil {
		return err
	}
	s.record(ctx, companyID, actor, audit.ActionDelete, "staff_deduction", deductionID, nil, nil)
	return nil
}

func (s *Service) ListForPayroll(ctx context.Context, companyID string) ([]PayrollRecord, error) {
	return s.store.ListForPayroll(ctx, companyID)
}

// Import reads a CSV or XLSX sheet and upserts staff by staff number. Rows
// with problems are reported and skipped; valid rows are still applied.
func (s *Service) Import(ctx context.Context, actor audit.Actor, companyID, filename string, r io.Reader) (ImportReport, error) {
	records, err := ReadRecords(filename, r)
	if err != nil {
		return ImportReport{}, err
	}
	rows, failed := NormalizeRecords(records)
	report := ImportReport{Failed: failed}

	for _, row := range rows {
		created, err := s.importRow(ctx, companyID, row)
		if err != nil {
			report.Failed = append(report.Failed, RowIssue{Line: row.Line, Issues: []FieldIssue{{Field: "row", Reason: err.Error()}}})
			continue
		}
		if created {
			report.Created++
		} else {
			report.Updated++
		}
	}
	slices.SortFunc(report.Failed, func(a, b RowIssue) int { return a.Line - b.Line })

	s.record(ctx, companyID, actor, audit.ActionImport, "staff", filename, nil, map[string]int{
		"created": report.Created,
		"updated": report.Updated,
		"failed":  len(report.Failed),
	})
	return report, nil
}

func (s *Service) importRow(ctx context.Context, companyID string, row ImportRow) (bool, error) {
	incoming := row.Staff()
	incoming.CompanyID = companyID

	var staffID string
	created := false
	existing, err := s.store.GetByNumber(ctx, companyID, row.StaffNumber)
	switch {
	case errors.Is(err, ErrStaffNotFound):
		if incoming.EmploymentType == "" {
			incoming.EmploymentType = EmploymentPermanent
		}
		staffID, err = s.store.Create(ctx, companyID, incoming)
		if err != nil {
			return false, err
		}
		created = true
	case err != nil:
		return false, err
	default:
		staffID = existing.ID
		merged := mergeImport(existing, incoming)
		if err := s.store.Update(ctx, companyID, staffID, merged); err != nil {
			return false, err
		}
	}

	payments := []struct {
		kind   string
		amount *decimal.Decimal
	}{
		{PaymentBasicPay, row.BasicPay},
		{PaymentTransportAllowance, row.TransportAllowance},
	}
	for _, p := range payments {
		if p.amount == nil {
			continue
		}
		if _, err := s.store.UpsertPayment(ctx, staffID, Payment{Type: p.kind, Amount: *p.amount}); err != nil {
			return created, err
		}
	}
	return created, nil
}

// mergeImport overlays non-empty sheet values on a stored record so that a
// partial sheet never blanks existing data.
func mergeImport(existing, incoming Staff) Staff {
	out := existing
	overlay := func(dst *string, src string) {
		if strings.TrimSpace(src) != "" {
			*dst = src
		}
	}
	overlay(&out.FirstName, incoming.FirstName)
	overlay(&out.LastName, incoming.LastName)
	overlay(&out.Email, incoming.Email)
	overlay(&out.Phone, incoming.Phone)
	overlay(&out.NationalID, incoming.NationalID)
	overlay(&out.BankName, incoming.BankName)
	overlay(&out.BankAccount, incoming.BankAccount)
	overlay(&out.Department, incoming.Department)
	overlay(&out.Position, incoming.Position)
	overlay(&out.EmploymentType, incoming.EmploymentType)
	if incoming.StartDate != nil {
		out.StartDate = incoming.StartDate
	}
	return out
}

// auditView keeps identity numbers out of the audit trail.
func auditView(st Staff) Staff {
	RedactSensitive(&st)
	return st
}

func (s *Service) record(ctx context.Context, companyID string, actor audit.Actor, action, entityType, entityID string, before, after any) {
	audit.Log(ctx, s.audit, companyID, actor, action, entityType, entityID, before, after)
}
