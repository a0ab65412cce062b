package payroll

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid payroll input")
	ErrRunNotFound         = errors.New("payroll run not found")
	ErrRunExists           = errors.New("payroll run already exists for period")
	ErrRunNotEditable      = errors.New("payroll run can no longer be recalculated")
	ErrApproveInvalidState = errors.New("payroll run must be completed before approval")
	ErrApproveHasErrors    = errors.New("payroll run has rows in error")
	ErrRejectInvalidState  = errors.New("payroll run must be completed before rejection")
	ErrResultNotFound      = errors.New("payroll result not found")
	ErrUnsupportedExport   = errors.New("unsupported export format")
	ErrNoStaffForPayroll   = errors.New("no active staff for payroll")
)
