package staff

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrpay/internal/domain/audit"
)

type memoryStore struct {
	staff      map[string]Staff
	payments   map[string][]Payment
	deductions map[string][]Deduction
	seq        int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		staff:      map[string]Staff{},
		payments:   map[string][]Payment{},
		deductions: map[string][]Deduction{},
	}
}

func (m *memoryStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memoryStore) Count(ctx context.Context, companyID string, filter Filter) (int, error) {
	list, _ := m.List(ctx, companyID, filter, 0, 0)
	return len(list), nil
}

func (m *memoryStore) List(_ context.Context, companyID string, filter Filter, _, _ int) ([]Staff, error) {
	var out []Staff
	for _, st := range m.staff {
		if st.CompanyID == companyID && (filter.Status == "" || st.Status == filter.Status) {
			out = append(out, st)
		}
	}
	return out, nil
}

func (m *memoryStore) Get(_ context.Context, companyID, staffID string) (Staff, error) {
	st, ok := m.staff[staffID]
	if !ok || st.CompanyID != companyID {
		return Staff{}, ErrStaffNotFound
	}
	return st, nil
}

func (m *memoryStore) GetByNumber(_ context.Context, companyID, number string) (Staff, error) {
	for _, st := range m.staff {
		if st.CompanyID == companyID && st.StaffNumber == number {
			return st, nil
		}
	}
	return Staff{}, ErrStaffNotFound
}

func (m *memoryStore) Create(_ context.Context, companyID string, st Staff) (string, error) {
	st.ID = m.nextID("staff")
	st.CompanyID = companyID
	m.staff[st.ID] = st
	return st.ID, nil
}

func (m *memoryStore) Update(_ context.Context, companyID, staffID string, st Staff) error {
	if _, ok := m.staff[staffID]; !ok {
		return ErrStaffNotFound
	}
	st.ID = staffID
	st.CompanyID = companyID
	m.staff[staffID] = st
	return nil
}

func (m *memoryStore) ListPayments(_ context.Context, _, staffID string) ([]Payment, error) {
	return m.payments[staffID], nil
}

func (m *memoryStore) UpsertPayment(_ context.Context, staffID string, p Payment) (string, error) {
	list := m.payments[staffID]
	for i := range list {
		if list[i].Type == p.Type {
			list[i].Active = false
		}
	}
	p.ID = m.nextID("pay")
	p.StaffID = staffID
	p.Active = true
	m.payments[staffID] = append(list, p)
	return p.ID, nil
}

func (m *memoryStore) DeletePayment(_ context.Context, _, staffID, paymentID string) error {
	list := m.payments[staffID]
	for i, p := range list {
		if p.ID == paymentID {
			m.payments[staffID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return ErrPaymentNotFound
}

func (m *memoryStore) ListDeductions(_ context.Context, _, staffID string) ([]Deduction, error) {
	return m.deductions[staffID], nil
}

func (m *memoryStore) CreateDeduction(_ context.Context, staffID string, d Deduction) (string, error) {
	d.ID = m.nextID("ded")
	m.deductions[staffID] = append(m.deductions[staffID], d)
	return d.ID, nil
}

func (m *memoryStore) DeleteDeduction(_ context.Context, _, staffID, deductionID string) error {
	list := m.deductions[staffID]
	for i, d := range list {
		if d.ID == deductionID {
			m.deductions[staffID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return ErrDeductionNotFound
}

func (m *memoryStore) ListForPayroll(ctx context.Context, companyID string) ([]PayrollRecord, error) {
	list, _ := m.List(ctx, companyID, Filter{Status: StatusActive}, 0, 0)
	out := make([]PayrollRecord, 0, len(list))
	for _, st := range list {
		out = append(out, PayrollRecord{Staff: st, Payments: m.payments[st.ID], Deductions: m.deductions[st.ID]})
	}
	return out, nil
}

func activePayment(payments []Payment, kind string) (Payment, bool) {
	for _, p := range payments {
		if p.Active && p.Type == kind {
			return p, true
		}
	}
	return Payment{}, false
}

func TestImportCreatesThenUpdates(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	first := "staff_number,first_name,last_name,bank_account,basic_pay,transport_allowance\n" +
		"S-1,Aline,Uwase,000-111,150000,20000\n" +
		"S-2,Eric,,000-222,90000,\n"
	report, err := svc.Import(ctx, audit.Actor{UserID: "u1"}, "c1", "staff.csv", strings.NewReader(first))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, report.Updated)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, 3, report.Failed[0].Line)

	aline, err := store.GetByNumber(ctx, "c1", "S-1")
	require.NoError(t, err)
	assert.Equal(t, EmploymentPermanent, aline.EmploymentType)
	basic, ok := activePayment(store.payments[aline.ID], PaymentBasicPay)
	require.True(t, ok)
	assert.True(t, basic.Amount.Equal(decimal.NewFromInt(150000)))

	second := "Staff Number,Full Name,Basic Pay,Department\nS-1,Aline Uwase,175000,Finance\n"
	report, err = svc.Import(ctx, audit.Actor{UserID: "u1"}, "c1", "staff.csv", strings.NewReader(second))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 1, report.Updated)

	aline, err = store.GetByNumber(ctx, "c1", "S-1")
	require.NoError(t, err)
	assert.Equal(t, "Aline", aline.FirstName)
	assert.Equal(t, "000-111", aline.BankAccount)
	assert.Equal(t, "Finance", aline.Department)
	basic, ok = activePayment(store.payments[aline.ID], PaymentBasicPay)
	require.True(t, ok)
	assert.True(t, basic.Amount.Equal(decimal.NewFromInt(175000)))
	transport, ok := activePayment(store.payments[aline.ID], PaymentTransportAllowance)
	require.True(t, ok)
	assert.True(t, transport.Amount.Equal(decimal.NewFromInt(20000)))
}

func TestAddPaymentValidates(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()
	st, err := svc.Create(ctx, audit.Actor{}, "c1", Staff{StaffNumber: "S-1", FirstName: "A", LastName: "B"})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, st.Status)

	_, err = svc.AddPayment(ctx, audit.Actor{}, "c1", st.ID, Payment{Type: "overtime", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrInvalidPaymentType)

	_, err = svc.AddPayment(ctx, audit.Actor{}, "c1", st.ID, Payment{Type: PaymentBonus, Amount: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = svc.AddPayment(ctx, audit.Actor{}, "other", st.ID, Payment{Type: PaymentBonus, Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrStaffNotFound)

	p, err := svc.AddPayment(ctx, audit.Actor{}, "c1", st.ID, Payment{Type: PaymentBonus, Amount: decimal.NewFromInt(5000)})
	require.NoError(t, err)
	assert.True(t, p.Active)
}

func TestAddDeductionDefaultsBalance(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()
	st, err := svc.Create(ctx, audit.Actor{}, "c1", Staff{StaffNumber: "S-1", FirstName: "A", LastName: "B"})
	require.NoError(t, err)

	d, err := svc.AddDeduction(ctx, audit.Actor{}, "c1", st.ID, Deduction{
		Type:               DeductionLoan,
		OriginalAmount:     decimal.NewFromInt(60000),
		MonthlyInstallment: decimal.NewFromInt(5000),
	})
	require.NoError(t, err)
	assert.True(t, d.RemainingBalance.Equal(decimal.NewFromInt(60000)))
	assert.Equal(t, DeductionStatusActive, d.Status)

	_, err = svc.AddDeduction(ctx, audit.Actor{}, "c1", st.ID, Deduction{Type: "fine", OriginalAmount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrInvalidDeduction)

	_, err = svc.AddDeduction(ctx, audit.Actor{}, "c1", st.ID, Deduction{Type: DeductionAdvance})
	assert.ErrorIs(t, err, ErrInvalidDeduction)

	_, err = svc.AddDeduction(ctx, audit.Actor{}, "c1", st.ID, Deduction{
		Type:             DeductionAdvance,
		OriginalAmount:   decimal.NewFromInt(100),
		RemainingBalance: decimal.NewFromInt(200),
	})
	assert.ErrorIs(t, err, ErrInvalidDeduction)
}

func TestDeactivateExcludesFromPayroll(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()
	st, err := svc.Create(ctx, audit.Actor{}, "c1", Staff{StaffNumber: "S-1", FirstName: "A", LastName: "B"})
	require.NoError(t, err)

	out, err := svc.Deactivate(ctx, audit.Actor{}, "c1", st.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, out.Status)
	assert.NotNil(t, out.EndDate)

	records, err := svc.ListForPayroll(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRedactSensitive(t *testing.T) {
	list := []Staff{{NationalID: "1199", BankAccount: "ACC", BankName: "BK"}}
	RedactAll(list)
	assert.Empty(t, list[0].NationalID)
	assert.Empty(t, list[0].BankAccount)
	assert.Equal(t, "BK", list[0].BankName)
}
