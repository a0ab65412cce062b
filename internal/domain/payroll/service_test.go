package payroll

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"hrpay/internal/domain/audit"
	"hrpay/internal/domain/company"
	"hrpay/internal/domain/staff"
	"hrpay/internal/domain/tax"
)

type memoryStore struct {
	runs     map[string]Run
	results  map[string][]ResultRow
	previous map[string]decimal.Decimal
	usages   []DeductionUsage
	nextID   int

	// beforeApprove runs at the start of Approve, standing in for a write
	// that commits just before the run row is locked.
	beforeApprove func()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{runs: map[string]Run{}, results: map[string][]ResultRow{}}
}

func (m *memoryStore) CreateRun(_ context.Context, run Run) (string, error) {
	for _, existing := range m.runs {
		if existing.CompanyID == run.CompanyID && existing.Period.Equal(run.Period) {
			return "", ErrRunExists
		}
	}
	m.nextID++
	run.ID = fmt.Sprintf("run-%d", m.nextID)
	m.runs[run.ID] = run
	return run.ID, nil
}

func (m *memoryStore) GetRun(_ context.Context, companyID, runID string) (Run, error) {
	run, ok := m.runs[runID]
	if !ok || run.CompanyID != companyID {
		return Run{}, ErrRunNotFound
	}
	return run, nil
}

func (m *memoryStore) CountRuns(_ context.Context, companyID string) (int, error) {
	n := 0
	for _, run := range m.runs {
		if run.CompanyID == companyID {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) ListRuns(_ context.Context, companyID string, _, _ int) ([]Run, error) {
	var out []Run
	for _, run := range m.runs {
		if run.CompanyID == companyID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (m *memoryStore) ListProcessing(context.Context) ([]Run, error) {
	var out []Run
	for _, run := range m.runs {
		if run.Status == RunStatusProcessing {
			out = append(out, run)
		}
	}
	return out, nil
}

func (m *memoryStore) SetRunStatus(_ context.Context, companyID, runID, status, reason string) error {
	run, ok := m.runs[runID]
	if !ok || run.CompanyID != companyID {
		return ErrRunNotFound
	}
	if run.Status == RunStatusApproved {
		return ErrRunNotEditable
	}
	run.Status = status
	run.FailureReason = reason
	m.runs[runID] = run
	return nil
}

func (m *memoryStore) SaveResults(_ context.Context, run Run, rows []ResultRow) error {
	if m.runs[run.ID].Status == RunStatusApproved {
		return ErrRunNotEditable
	}
	run.Status = RunStatusCompleted
	run.RejectionReason = ""
	run.FailureReason = ""
	m.runs[run.ID] = run
	m.results[run.ID] = rows
	return nil
}

func (m *memoryStore) ListResults(_ context.Context, _, runID string) ([]ResultRow, error) {
	return m.results[runID], nil
}

func (m *memoryStore) GetResult(_ context.Context, _, runID, staffID string) (ResultRow, error) {
	for _, row := range m.results[runID] {
		if row.StaffID == staffID {
			return row, nil
		}
	}
	return ResultRow{}, ErrResultNotFound
}

func (m *memoryStore) PreviousNet(context.Context, string, time.Time) (map[string]decimal.Decimal, error) {
	return m.previous, nil
}

func (m *memoryStore) Approve(_ context.Context, _, runID, actorID string) ([]ResultRow, error) {
	if m.beforeApprove != nil {
		m.beforeApprove()
	}
	run := m.runs[runID]
	if run.Status != RunStatusCompleted {
		return nil, ErrApproveInvalidState
	}
	rows := m.results[runID]
	usages, err := DeductionUsages(rows)
	if err != nil {
		return nil, err
	}
	run.Status = RunStatusApproved
	run.ApprovedBy = actorID
	m.runs[runID] = run
	m.usages = append(m.usages, usages...)
	return rows, nil
}

func (m *memoryStore) Reject(_ context.Context, _, runID, reason string) error {
	run := m.runs[runID]
	if run.Status != RunStatusCompleted {
		return ErrRejectInvalidState
	}
	run.Status = RunStatusRejected
	run.RejectionReason = reason
	m.runs[runID] = run
	return nil
}

type fakeStaff struct {
	records []staff.PayrollRecord
	err     error
}

func (f *fakeStaff) ListForPayroll(context.Context, string) ([]staff.PayrollRecord, error) {
	return f.records, f.err
}

type fakeCompanies struct {
	company company.Company
}

func (f fakeCompanies) Get(_ context.Context, id string) (company.Company, error) {
	if id != f.company.ID {
		return company.Company{}, company.ErrCompanyNotFound
	}
	return f.company, nil
}

type fixedTaxes struct {
	cfg tax.Configuration
}

func (f fixedTaxes) Current(context.Context, time.Time) tax.Configuration {
	return f.cfg.Clone()
}

type queuedRunner struct {
	queued []func(context.Context) (any, error)
	ranNow int
}

func (q *queuedRunner) Enqueue(_, _ string, run func(context.Context) (any, error)) {
	q.queued = append(q.queued, run)
}

func (q *queuedRunner) RunNow(ctx context.Context, _, _ string, run func(context.Context) (any, error)) (any, error) {
	q.ranNow++
	return run(ctx)
}

type recordedEvent struct {
	action, entityID string
}

type fakeRecorder struct {
	events []recordedEvent
}

func (f *fakeRecorder) Record(_ context.Context, _, _, action, _, entityID, _, _ string, _, _ any) error {
	f.events = append(f.events, recordedEvent{action: action, entityID: entityID})
	return nil
}

const testCompanyID = "company-1"

func payrollRecord(id, number, basic string, deductions ...staff.Deduction) staff.PayrollRecord {
	return staff.PayrollRecord{
		Staff: staff.Staff{
			ID:          id,
			CompanyID:   testCompanyID,
			StaffNumber: number,
			FirstName:   "Staff",
			LastName:    number,
			BankName:    "Bank of Kigali",
			BankAccount: "000-" + number,
		},
		Payments:   []staff.Payment{{Type: staff.PaymentBasicPay, Amount: dec(basic), Active: true}},
		Deductions: deductions,
	}
}

type fixture struct {
	store    *memoryStore
	staff    *fakeStaff
	recorder *fakeRecorder
	svc      *Service
}

func newFixture(records ...staff.PayrollRecord) fixture {
	store := newMemoryStore()
	staffSource := &fakeStaff{records: records}
	recorder := &fakeRecorder{}
	companies := fakeCompanies{company: company.Company{ID: testCompanyID, Name: "Umurage Ltd", TIN: "101234567", Exemptions: tax.DefaultExemptions()}}
	svc := NewService(store, staffSource, companies, fixedTaxes{cfg: tax.DefaultConfiguration()}, recorder, WithWorkers(4))
	return fixture{store: store, staff: staffSource, recorder: recorder, svc: svc}
}

var (
	testActor  = audit.Actor{UserID: "user-1"}
	testPeriod = time.Date(2026, time.March, 17, 0, 0, 0, 0, time.UTC)
)

func TestCreateRunComputesResults(t *testing.T) {
	loan := staff.Deduction{ID: "loan-1", Type: staff.DeductionLoan, MonthlyInstallment: dec("5000"), RemainingBalance: dec("20000"), Status: staff.DeductionStatusActive}
	f := newFixture(
		payrollRecord("s1", "E001", "150000", loan),
		payrollRecord("s2", "E002", "80000"),
	)

	run, err := f.svc.CreateRun(context.Background(), testActor, testCompanyID, testPeriod, true)

	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), run.Period)
	assert.Equal(t, 2, run.StaffCount)
	assert.Equal(t, 0, run.ErrorCount)

	rows, err := f.svc.Results(context.Background(), testCompanyID, run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assertDecimal(t, "109723.5", rows[0].Result.FinalNetPay, "net after loan")
	assertDecimal(t, "5000", rows[0].Result.OtherDeductionsTotal, "loan installment")
	assert.Equal(t, "Staff E001", rows[0].StaffName)

	wantNet := rows[0].Result.FinalNetPay.Add(rows[1].Result.FinalNetPay)
	assert.True(t, wantNet.Equal(run.TotalNet))
	assert.Equal(t, audit.ActionCreate, f.recorder.events[0].action)
}

func TestCreateRunRoundsPersistedResults(t *testing.T) {
	f := newFixture(payrollRecord("s1", "E001", "126550.55"))

	run, err := f.svc.CreateRun(context.Background(), testActor, testCompanyID, testPeriod, true)
	require.NoError(t, err)

	row := f.store.results[run.ID][0]
	for name, v := range amounts(row.Result) {
		assert.Truef(t, v.Equal(RoundMoney(v)), "%s not rounded: %s", name, v)
	}
}

func TestCreateRunDuplicatePeriod(t *testing.T) {
	f := newFixture(payrollRecord("s1", "E001", "150000"))
	_, err := f.svc.CreateRun(context.Background(), testActor, testCompanyID, testPeriod, true)
	require.NoError(t, err)

	_, err = f.svc.CreateRun(context.Background(), testActor, testCompanyID, testPeriod.AddDate(0, 0, 3), true)

	assert.ErrorIs(t, err, ErrRunExists)
}

func TestCreateRunWithoutStaffFails(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateRun(context.Background(), testActor, testCompanyID, testPeriod, true)

	assert.ErrorIs(t, err, ErrNoStaffForPayroll)
	for _, run := range f.store.runs {
		assert.Equal(t, RunStatusFailed, run.Status)
		assert.NotEmpty(t, run.FailureReason)
	}
}

func TestCreateRunAsyncQueuesCalculation(t *testing.T) {
	f := newFixture(payrollRecord("s1", "E001", "150000"))
	runner := &queuedRunner{}
	WithJobs(runner)(f.svc)

	run, err := f.svc.CreateRun(context.Background(), testActor, testCompanyID, testPeriod, false)
	require.NoError(t, err)
	assert.Equal(t, RunStatusProcessing, run.Status)
	require.Len(t, runner.queued, 1)

	_, err = runner.queued[0](context.Background())
	require.NoError(t, err)
	got, err := f.svc.Get(context.Background(), testCompanyID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)

	_, err = f.svc.Recalculate(context.Background(), testActor, testCompanyID, run.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.ranNow)
}

func TestResumeProcessingQueuesStalledRuns(t *testing.T) {
	f := newFixture(payrollRecord("s1", "E001", "150000"))
	runner := &queuedRunner{}
	WithJobs(runner)(f.svc)
	_, err := f.svc.CreateRun(context.Background(), testActor, testCompanyID, testPeriod, false)
	require.NoError(t, err)

	resumed, err := f.svc.ResumeProcessing(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, resumed)
	assert.Len(t, runner.queued, 2)
}

func TestWarningsOnResults(t *testing.T) {
	noBank := payrollRecord("s1", "E001", "150000")
	noBank.Staff.BankAccount = ""
	f := newFixture(noBank, payrollRecord("s2", "E002", "150000"))
	f.store.previous = map[string]decimal.Decimal{"s2": dec("50000")}

	run, err := f.svc.CreateRun(context.Background(), testActor, testCompanyID, testPeriod, true)
	require.NoError(t, err)

	rows := f.store.results[run.ID]
	assert.Equal(t, []string{WarningMissingBank}, rows[0].Warnings)
	assert.Equal(t, []string{WarningNetVariance}, rows[1].Warnings)

	sum, err := f.svc.Summary(context.Background(), testCompanyID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Warnings[WarningMissingBank])
	assertDecimal(t, "28000", sum.TotalPAYE, "total paye")
}

func TestApproveAppliesDeductions(t *testing.T) {
	loan := staff.Deduction{ID: "loan-1", Type: staff.DeductionLoan, MonthlyInstallment: dec("5000"), RemainingBalance: dec("3000"), Status: staff.DeductionStatusActive}
	f := newFixture(payrollRecord("s1", "E001", "150000", loan))
	run, err := f.svc.CreateRun(context.Background(), testActor, testCompanyID, testPeriod, true)
	require.NoError(t, err)

	approved, err := f.svc.Approve(context.Background(), testActor, testCompanyID, run.ID)

	require.NoError(t, err)
	assert.Equal(t, RunStatusApproved, approved.Status)
	require.Len(t, f.store.usages, 1)
	assert.Equal(t, "loan-1", f.store.usages[0].DeductionID)
	assertDecimal(t, "3000", f.store.usages[0].Amount, "usage")

	again, err := f.svc.Approve(context.Background(), testActor, testCompanyID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusApproved, again.Status)
	assert.Len(t, f.store.usages, 1)

	_, err = f.svc.Recalculate(context.Background(), testActor, testCompanyID, run.ID, true)
	assert.ErrorIs(t, err, ErrRunNotEditable)
}

func TestApproveUsesResultsReadUnderLock(t *testing.T) {
	loan := staff.Deduction{ID: "loan-1", Type: staff.DeductionLoan, MonthlyInstallment: dec("5000"), RemainingBalance: dec("20000"), Status: staff.DeductionStatusActive}
	f := newFixture(payrollRecord("s1", "E001", "150000", loan))
	run, err := f.svc.CreateRun(context.Background(), testActor, testCompanyID, testPeriod, true)
	require.NoError(t, err)

	f.staff.records[0].Deductions[0].MonthlyInstallment = dec("8000")
	f.store.beforeApprove = func() {
		f.store.beforeApprove = nil
		_, err := f.svc.Recalculate(context.Background(), testActor, testCompanyID, run.ID, true)
		require.NoError(t, err)
	}

	approved, err := f.svc.Approve(context.Background(), testActor, testCompanyID, run.ID)

	require.NoError(t, err)
	assert.Equal(t, RunStatusApproved, approved.Status)
	require.Len(t, f.store.usages, 1)
	assertDecimal(t, "8000", f.store.usages[0].Amount, "usage from recalculated results")
}

func TestRecalculateAfterApprovalKeepsRunApproved(t *testing.T) {
	f := newFixture(payrollRecord("s1", "E001", "150000"))
	run, err := f.svc.CreateRun(context.Background(), testActor, testCompanyID, testPeriod, true)
	require.NoError(t, err)
	_, err = f.svc.Approve(context.Background(), testActor, testCompanyID, run.ID)
	require.NoError(t, err)

	_, err = f.svc.Compute(context.Background(), testCompanyID, run.ID)

	assert.ErrorIs(t, err, ErrRunNotEditable)
	assert.Equal(t, RunStatusApproved, f.store.runs[run.ID].Status)
}

func TestDeductionUsages(t *testing.T) {
	rows := []ResultRow{
		{Input: CompensationInput{OtherDeductions: []OtherDeduction{
			{DeductionID: "loan-1", Type: "loan", Amount: dec("5000")},
			{Type: "other", Amount: dec("100")},
			{DeductionID: "adv-1", Type: "advance", Amount: dec("0")},
		}}, Result: Result{Status: StatusCalculated}},
	}

	usages, err := DeductionUsages(rows)
	require.NoError(t, err)
	assert.Equal(t, []DeductionUsage{{DeductionID: "loan-1", Amount: dec("5000")}}, usages)

	rows = append(rows, ResultRow{Result: Result{Status: StatusError}})
	_, err = DeductionUsages(rows)
	assert.ErrorIs(t, err, ErrApproveHasErrors)
}

func TestApproveBlockedByErrorRows(t *testing.T) {
	bad := payrollRecord("s2", "E002", "150000")
	bad.Payments[0].Amount = dec("-10")
	f := newFixture(payrollRecord("s1", "E001", "150000"), bad)
	run, err := f.svc.CreateRun(context.Background(), testActor, testCompanyID, testPeriod, true)
	require.NoError(t, err)
	assert.Equal(t, 1, run.ErrorCount)

	_, err = f.svc.Approve(context.Background(), testActor, testCompanyID, run.ID)

	assert.ErrorIs(t, err, ErrApproveHasErrors)
}

func TestRejectThenRecalculate(t *testing.T) {
	f := newFixture(payrollRecord("s1", "E001", "150000"))
	run, err := f.svc.CreateRun(context.Background(), testActor, testCompanyID, testPeriod, true)
	require.NoError(t, err)

	rejected, err := f.svc.Reject(context.Background(), testActor, testCompanyID, run.ID, "wrong allowance")
	require.NoError(t, err)
	assert.Equal(t, RunStatusRejected, rejected.Status)
	assert.Equal(t, "wrong allowance", rejected.RejectionReason)

	_, err = f.svc.Approve(context.Background(), testActor, testCompanyID, run.ID)
	assert.ErrorIs(t, err, ErrApproveInvalidState)

	f.staff.records[0].Payments[0].Amount = dec("160000")
	recalculated, err := f.svc.Recalculate(context.Background(), testActor, testCompanyID, run.ID, true)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, recalculated.Status)
	assertDecimal(t, "160000", recalculated.TotalGross, "gross after recalculation")

	_, err = f.svc.Reject(context.Background(), testActor, testCompanyID, "missing", "x")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestExportRegister(t *testing.T) {
	f := newFixture(payrollRecord("s1", "E001", "150000"), payrollRecord("s2", "E002", "60001"))
	run, err := f.svc.CreateRun(context.Background(), testActor, testCompanyID, testPeriod, true)
	require.NoError(t, err)

	csvExport, err := f.svc.Export(context.Background(), testCompanyID, run.ID, ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "payroll-2026-03.csv", csvExport.Filename)
	lines := strings.Split(strings.TrimSpace(string(csvExport.Data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "staff_number,staff_name"))
	assert.Contains(t, lines[1], "114723.50")

	xlsxExport, err := f.svc.Export(context.Background(), testCompanyID, run.ID, ExportFormatXLSX)
	require.NoError(t, err)
	book, err := excelize.OpenReader(bytes.NewReader(xlsxExport.Data))
	require.NoError(t, err)
	defer book.Close()
	sheetRows, err := book.GetRows("2026-03")
	require.NoError(t, err)
	require.Len(t, sheetRows, 3)
	assert.Equal(t, "Staff Number", sheetRows[0][0])
	assert.Equal(t, "E002", sheetRows[2][0])

	_, err = f.svc.Export(context.Background(), testCompanyID, run.ID, "pdf")
	assert.ErrorIs(t, err, ErrUnsupportedExport)
}

func TestPayslipRendersPDF(t *testing.T) {
	f := newFixture(payrollRecord("s1", "E001", "150000"))
	run, err := f.svc.CreateRun(context.Background(), testActor, testCompanyID, testPeriod, true)
	require.NoError(t, err)

	pdf, err := f.svc.Payslip(context.Background(), testCompanyID, run.ID, "s1")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))

	_, err = f.svc.Payslip(context.Background(), testCompanyID, run.ID, "nobody")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestApproveArchivesPayslips(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(payrollRecord("s1", "E001", "150000"))
	WithPayslipArchive(&PayslipArchive{Dir: dir})(f.svc)
	run, err := f.svc.CreateRun(context.Background(), testActor, testCompanyID, testPeriod, true)
	require.NoError(t, err)

	_, err = f.svc.Approve(context.Background(), testActor, testCompanyID, run.ID)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, testCompanyID, "2026-03", "s1.pdf"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}
