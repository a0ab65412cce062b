package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"hrpay/internal/domain/audit"
	"hrpay/internal/domain/company"
	"hrpay/internal/domain/staff"
	"hrpay/internal/domain/tax"
)

type StoreAPI interface {
	CreateRun(ctx context.Context, run Run) (string, error)
	GetRun(ctx context.Context, companyID, runID string) (Run, error)
	CountRuns(ctx context.Context, companyID string) (int, error)
	ListRuns(ctx context.Context, companyID string, limit, offset int) ([]Run, error)
	ListProcessing(ctx context.Context) ([]Run, error)
	SetRunStatus(ctx context.Context, companyID, runID, status, failureReason string) error
	SaveResults(ctx context.Context, run Run, results []ResultRow) error
	ListResults(ctx context.Context, companyID, runID string) ([]ResultRow, error)
	GetResult(ctx context.Context, companyID, runID, staffID string) (ResultRow, error)
	PreviousNet(ctx context.Context, companyID string, period time.Time) (map[string]decimal.Decimal, error)
	// Approve locks the run, builds the deduction usages from its stored
	// results and applies them in the same transaction. It returns the rows
	// it approved.
	Approve(ctx context.Context, companyID, runID, actorID string) ([]ResultRow, error)
	Reject(ctx context.Context, companyID, runID, reason string) error
}

type StaffSource interface {
	ListForPayroll(ctx context.Context, companyID string) ([]staff.PayrollRecord, error)
}

type CompanySource interface {
	Get(ctx context.Context, id string) (company.Company, error)
}

type ConfigSource interface {
	Current(ctx context.Context, asOf time.Time) tax.Configuration
}

// Runner executes calculations. It matches the jobs service so runs get
// job_runs bookkeeping.
type Runner interface {
	Enqueue(jobType, companyID string, run func(context.Context) (any, error))
	RunNow(ctx context.Context, jobType, companyID string, run func(context.Context) (any, error)) (any, error)
}

type Observer interface {
	ObserveCalculations(status string, count int)
	ObserveRunDuration(d time.Duration)
}

type Service struct {
	store     StoreAPI
	staff     StaffSource
	companies CompanySource
	taxes     ConfigSource
	audit     audit.Recorder
	jobs      Runner
	observer  Observer
	payslips  *PayslipArchive
	workers   int
	now       func() time.Time
}

type Option func(*Service)

func WithJobs(jobs Runner) Option {
	return func(s *Service) { s.jobs = jobs }
}

func WithObserver(observer Observer) Option {
	return func(s *Service) { s.observer = observer }
}

func WithWorkers(workers int) Option {
	return func(s *Service) { s.workers = workers }
}

func WithPayslipArchive(archive *PayslipArchive) Option {
	return func(s *Service) { s.payslips = archive }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store StoreAPI, staffSource StaffSource, companies CompanySource, taxes ConfigSource, recorder audit.Recorder, opts ...Option) *Service {
	s := &Service{
		store:     store,
		staff:     staffSource,
		companies: companies,
		taxes:     taxes,
		audit:     recorder,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PeriodStart normalizes any date to the first day of its month.
func PeriodStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (s *Service) List(ctx context.Context, companyID string, limit, offset int) ([]Run, int, error) {
	total, err := s.store.CountRuns(ctx, companyID)
	if err != nil {
		return nil, 0, err
	}
	runs, err := s.store.ListRuns(ctx, companyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

func (s *Service) Get(ctx context.Context, companyID, runID string) (Run, error) {
	return s.store.GetRun(ctx, companyID, runID)
}

func (s *Service) Results(ctx context.Context, companyID, runID string) ([]ResultRow, error) {
	if _, err := s.store.GetRun(ctx, companyID, runID); err != nil {
		return nil, err
	}
	return s.store.ListResults(ctx, companyID, runID)
}

// CreateRun opens the run for a period and starts its calculation. With sync
// the calculation finishes before CreateRun returns.
func (s *Service) CreateRun(ctx context.Context, actor audit.Actor, companyID string, period time.Time, sync bool) (Run, error) {
	run := Run{
		CompanyID: companyID,
		Period:    PeriodStart(period),
		Status:    RunStatusProcessing,
		CreatedBy: actor.UserID,
	}
	id, err := s.store.CreateRun(ctx, run)
	if err != nil {
		return Run{}, err
	}
	run.ID = id
	s.record(ctx, companyID, actor, audit.ActionCreate, id, nil, run)
	return s.dispatch(ctx, companyID, id, sync)
}

// Recalculate replaces the results of a run that is not approved.
func (s *Service) Recalculate(ctx context.Context, actor audit.Actor, companyID, runID string, sync bool) (Run, error) {
	run, err := s.store.GetRun(ctx, companyID, runID)
	if err != nil {
		return Run{}, err
	}
	if !run.Editable() {
		return Run{}, ErrRunNotEditable
	}
	if err := s.store.SetRunStatus(ctx, companyID, runID, RunStatusProcessing, ""); err != nil {
		return Run{}, err
	}
	s.record(ctx, companyID, actor, audit.ActionCalculate, runID, run, map[string]string{"status": RunStatusProcessing})
	return s.dispatch(ctx, companyID, runID, sync)
}

func (s *Service) dispatch(ctx context.Context, companyID, runID string, sync bool) (Run, error) {
	job := func(jobCtx context.Context) (any, error) {
		return s.Compute(jobCtx, companyID, runID)
	}
	switch {
	case s.jobs == nil:
		if _, err := job(ctx); err != nil {
			return Run{}, err
		}
	case sync:
		if _, err := s.jobs.RunNow(ctx, JobCalculateRun, companyID, job); err != nil {
			return Run{}, err
		}
	default:
		s.jobs.Enqueue(JobCalculateRun, companyID, job)
	}
	return s.store.GetRun(ctx, companyID, runID)
}

// ResumeProcessing queues every run left in processing, such as runs whose
// job was lost when the process stopped.
func (s *Service) ResumeProcessing(ctx context.Context) (int, error) {
	runs, err := s.store.ListProcessing(ctx)
	if err != nil {
		return 0, err
	}
	for _, run := range runs {
		if _, err := s.dispatch(ctx, run.CompanyID, run.ID, false); err != nil {
			slog.Warn("payroll run resume failed", "runId", run.ID, "err", err)
		}
	}
	return len(runs), nil
}

// Compute calculates every active staff member of the run's company and
// stores the rounded results. A failure leaves the run in failed status so it
// can be recalculated.
func (s *Service) Compute(ctx context.Context, companyID, runID string) (Summary, error) {
	started := s.now()
	summary, err := s.compute(ctx, companyID, runID)
	if s.observer != nil {
		s.observer.ObserveRunDuration(s.now().Sub(started))
	}
	if err != nil {
		if errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrRunNotEditable) {
			return Summary{}, err
		}
		slog.Warn("payroll run failed", "runId", runID, "companyId", companyID, "err", err)
		if statusErr := s.store.SetRunStatus(context.WithoutCancel(ctx), companyID, runID, RunStatusFailed, err.Error()); statusErr != nil {
			slog.Warn("payroll run status update failed", "runId", runID, "err", statusErr)
		}
		return Summary{}, err
	}
	return summary, nil
}

func (s *Service) compute(ctx context.Context, companyID, runID string) (Summary, error) {
	run, err := s.store.GetRun(ctx, companyID, runID)
	if err != nil {
		return Summary{}, err
	}
	records, err := s.staff.ListForPayroll(ctx, companyID)
	if err != nil {
		return Summary{}, fmt.Errorf("load staff: %w", err)
	}
	if len(records) == 0 {
		return Summary{}, ErrNoStaffForPayroll
	}
	comp, err := s.companies.Get(ctx, companyID)
	if err != nil {
		return Summary{}, fmt.Errorf("load company: %w", err)
	}
	cfg := s.taxes.Current(ctx, run.Period)
	previous, err := s.store.PreviousNet(ctx, companyID, run.Period)
	if err != nil {
		return Summary{}, fmt.Errorf("load previous run: %w", err)
	}

	inputs := make([]StaffInput, len(records))
	for i, rec := range records {
		inputs[i] = StaffInput{StaffID: rec.Staff.ID, Input: BuildInput(rec.Payments, rec.Deductions)}
	}
	results, err := CalculateBatch(ctx, inputs, cfg, comp.Exemptions, s.workers)
	if err != nil {
		return Summary{}, err
	}

	rows := make([]ResultRow, len(records))
	for i, rec := range records {
		result := results[i].Result.Rounded()
		rows[i] = ResultRow{
			RunID:       run.ID,
			StaffID:     rec.Staff.ID,
			StaffNumber: rec.Staff.StaffNumber,
			StaffName:   rec.Staff.FullName(),
			BankName:    rec.Staff.BankName,
			BankAccount: rec.Staff.BankAccount,
			Input:       inputs[i].Input,
			Result:      result,
			Warnings:    Warnings(rec.Staff, result, previous[rec.Staff.ID]),
		}
	}

	run.TaxConfigurationID = cfg.ID
	applyTotals(&run, rows)
	if err := s.store.SaveResults(ctx, run, rows); err != nil {
		return Summary{}, fmt.Errorf("save results: %w", err)
	}
	if s.observer != nil {
		s.observer.ObserveCalculations(StatusCalculated, run.StaffCount-run.ErrorCount)
		s.observer.ObserveCalculations(StatusError, run.ErrorCount)
	}
	run.Status = RunStatusCompleted
	return Summarize(run, rows), nil
}

func applyTotals(run *Run, rows []ResultRow) {
	run.TotalGross = decimal.Zero
	run.TotalDeductions = decimal.Zero
	run.TotalNet = decimal.Zero
	run.TotalEmployerContributions = decimal.Zero
	run.StaffCount = len(rows)
	run.ErrorCount = 0
	for _, row := range rows {
		r := row.Result
		if r.Failed() {
			run.ErrorCount++
			continue
		}
		run.TotalGross = run.TotalGross.Add(r.TotalGrossSalary)
		run.TotalDeductions = run.TotalDeductions.Add(r.TotalAppliedDeductions)
		run.TotalNet = run.TotalNet.Add(r.FinalNetPay)
		run.TotalEmployerContributions = run.TotalEmployerContributions.Add(r.EmployerContributions())
	}
}

// Summarize totals a run's result rows per component.
func Summarize(run Run, rows []ResultRow) Summary {
	sum := Summary{
		RunID:    run.ID,
		Status:   run.Status,
		Warnings: map[string]int{},
	}
	sum.StaffCount = len(rows)
	for _, row := range rows {
		for _, w := range row.Warnings {
			sum.Warnings[w]++
		}
		r := row.Result
		if r.Failed() {
			sum.ErrorCount++
			continue
		}
		sum.TotalGross = sum.TotalGross.Add(r.TotalGrossSalary)
		sum.TotalPAYE = sum.TotalPAYE.Add(r.PAYEAmount)
		sum.TotalPension = sum.TotalPension.Add(r.EmployeePension)
		sum.TotalMaternity = sum.TotalMaternity.Add(r.EmployeeMaternity)
		sum.TotalRAMA = sum.TotalRAMA.Add(r.EmployeeRAMA)
		sum.TotalCBHI = sum.TotalCBHI.Add(r.CBHIDeduction)
		sum.TotalOtherDeductions = sum.TotalOtherDeductions.Add(r.OtherDeductionsTotal)
		sum.TotalDeductions = sum.TotalDeductions.Add(r.TotalAppliedDeductions)
		sum.TotalNet = sum.TotalNet.Add(r.FinalNetPay)
		sum.TotalEmployerContributions = sum.TotalEmployerContributions.Add(r.EmployerContributions())
	}
	return sum
}

func (s *Service) Summary(ctx context.Context, companyID, runID string) (Summary, error) {
	run, err := s.store.GetRun(ctx, companyID, runID)
	if err != nil {
		return Summary{}, err
	}
	rows, err := s.store.ListResults(ctx, companyID, runID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(run, rows), nil
}

// Approve locks a completed run. Approving an approved run returns it as is.
func (s *Service) Approve(ctx context.Context, actor audit.Actor, companyID, runID string) (Run, error) {
	run, err := s.store.GetRun(ctx, companyID, runID)
	if err != nil {
		return Run{}, err
	}
	if run.Status == RunStatusApproved {
		return run, nil
	}
	if run.Status != RunStatusCompleted {
		return Run{}, ErrApproveInvalidState
	}
	rows, err := s.store.Approve(ctx, companyID, runID, actor.UserID)
	if err != nil {
		return Run{}, err
	}
	updated, err := s.store.GetRun(ctx, companyID, runID)
	if err != nil {
		return Run{}, err
	}
	s.record(ctx, companyID, actor, audit.ActionApprove, runID, run, updated)
	if s.payslips != nil {
		s.archivePayslips(ctx, updated, rows)
	}
	return updated, nil
}

// DeductionUsages lists what each result row takes from staff deductions.
// A run with any error row cannot be approved.
func DeductionUsages(rows []ResultRow) ([]DeductionUsage, error) {
	var usages []DeductionUsage
	for _, row := range rows {
		if row.Result.Failed() {
			return nil, ErrApproveHasErrors
		}
		for _, d := range row.Input.OtherDeductions {
			if d.DeductionID == "" || !d.Amount.IsPositive() {
				continue
			}
			usages = append(usages, DeductionUsage{DeductionID: d.DeductionID, Amount: d.Amount})
		}
	}
	return usages, nil
}

func (s *Service) Reject(ctx context.Context, actor audit.Actor, companyID, runID, reason string) (Run, error) {
	run, err := s.store.GetRun(ctx, companyID, runID)
	if err != nil {
		return Run{}, err
	}
	if run.Status != RunStatusCompleted {
		return Run{}, ErrRejectInvalidState
	}
	if err := s.store.Reject(ctx, companyID, runID, reason); err != nil {
		return Run{}, err
	}
	updated, err := s.store.GetRun(ctx, companyID, runID)
	if err != nil {
		return Run{}, err
	}
	s.record(ctx, companyID, actor, audit.ActionReject, runID, run, updated)
	return updated, nil
}

func (s *Service) record(ctx context.Context, companyID string, actor audit.Actor, action, entityID string, before, after any) {
	audit.Log(ctx, s.audit, companyID, actor, action, "payroll_run", entityID, before, after)
}
