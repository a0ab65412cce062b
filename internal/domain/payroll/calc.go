package payroll

import (
	"fmt"

	"github.com/shopspring/decimal"

	"hrpay/internal/domain/tax"
)

// OtherDeduction is a flat, non-statutory deduction such as a loan
// installment. DeductionID is set when it comes from a staff deduction.
type OtherDeduction struct {
	DeductionID string          `json:"deductionId,omitempty"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
}

// CompensationInput is one staff member's pay for a period.
type CompensationInput struct {
	BasicPayGross           decimal.Decimal  `json:"basicPayGross"`
	TransportAllowanceGross decimal.Decimal  `json:"transportAllowanceGross"`
	OtherGrossComponents    decimal.Decimal  `json:"otherGrossComponents"`
	OtherDeductions         []OtherDeduction `json:"otherDeductions"`
}

// Calculate turns gross pay into net pay. Steps run in a fixed order because
// CBHI is charged on the net left after PAYE and the other employee shares.
// An invalid configuration or input yields an error-status result with every
// amount zero; Calculate never panics and never returns partial results.
func Calculate(input CompensationInput, cfg tax.Configuration, ex tax.Exemptions) Result {
	if err := tax.Validate(cfg); err != nil {
		return errorResult(ErrorCodeInvalidConfiguration, err)
	}
	if err := validateInput(input); err != nil {
		return errorResult(ErrorCodeInvalidInput, err)
	}

	var r Result
	gross := input.BasicPayGross.Add(input.TransportAllowanceGross).Add(input.OtherGrossComponents)
	r.TotalGrossSalary = gross

	if ex.PAYE {
		r.PAYEAmount = PAYE(gross, cfg.PAYEBrackets)
	}
	if ex.Pension {
		r.EmployeePension = percentOf(gross, cfg.Pension.Employee)
		r.EmployerPension = percentOf(gross, cfg.Pension.Employer)
	}
	if ex.Maternity {
		base := gross.Sub(input.TransportAllowanceGross)
		r.EmployeeMaternity = percentOf(base, cfg.Maternity.Employee)
		r.EmployerMaternity = percentOf(base, cfg.Maternity.Employer)
	}
	if ex.RAMA {
		r.EmployeeRAMA = percentOf(input.BasicPayGross, cfg.RAMA.Employee)
		r.EmployerRAMA = percentOf(input.BasicPayGross, cfg.RAMA.Employer)
	}

	r.IntermediateNetSalary = gross.
		Sub(r.PAYEAmount).
		Sub(r.EmployeePension).
		Sub(r.EmployeeMaternity).
		Sub(r.EmployeeRAMA)

	if ex.CBHI {
		// The PAYE bracket count is inclusive of its lower bound, so tiny
		// incomes can still leave a negative intermediate net.
		base := decimal.Max(r.IntermediateNetSalary, decimal.Zero)
		r.CBHIDeduction = percentOf(base, cfg.CBHI.Employee)
		r.EmployerCBHI = percentOf(base, cfg.CBHI.Employer)
	}

	for _, d := range input.OtherDeductions {
		r.OtherDeductionsTotal = r.OtherDeductionsTotal.Add(d.Amount)
	}

	r.FinalNetPay = r.IntermediateNetSalary.Sub(r.CBHIDeduction).Sub(r.OtherDeductionsTotal)
	r.TotalAppliedDeductions = r.PAYEAmount.
		Add(r.EmployeePension).
		Add(r.EmployeeMaternity).
		Add(r.EmployeeRAMA).
		Add(r.CBHIDeduction).
		Add(r.OtherDeductionsTotal)
	r.Status = StatusCalculated
	return r
}

// PAYE applies the progressive brackets to income. Each bracket taxes the
// units from its min up to the inclusive max (or all remaining income for the
// open top bracket).
func PAYE(income decimal.Decimal, brackets []tax.Bracket) decimal.Decimal {
	total := decimal.Zero
	one := decimal.NewFromInt(1)
	for _, b := range tax.SortedBrackets(brackets) {
		if income.LessThan(b.Min) {
			continue
		}
		upper := income
		if b.Max != nil && b.Max.LessThan(income) {
			upper = *b.Max
		}
		portion := decimal.Max(decimal.Zero, upper.Sub(b.Min).Add(one))
		total = total.Add(percentOf(portion, b.Rate))
	}
	return total
}

// percentOf is exact: dividing by 100 only moves the decimal point.
func percentOf(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Shift(-2)
}

func validateInput(input CompensationInput) error {
	amounts := []struct {
		name  string
		value decimal.Decimal
	}{
		{"basic pay", input.BasicPayGross},
		{"transport allowance", input.TransportAllowanceGross},
		{"other gross components", input.OtherGrossComponents},
	}
	for _, a := range amounts {
		if a.value.IsNegative() {
			return fmt.Errorf("%w: %s is negative (%s)", ErrInvalidInput, a.name, a.value)
		}
	}
	for i, d := range input.OtherDeductions {
		if d.Type == "" {
			return fmt.Errorf("%w: deduction %d has no type", ErrInvalidInput, i+1)
		}
		if d.Amount.IsNegative() {
			return fmt.Errorf("%w: deduction %d (%s) is negative (%s)", ErrInvalidInput, i+1, d.Type, d.Amount)
		}
	}
	return nil
}

func errorResult(code string, err error) Result {
	return Result{Status: StatusError, ErrorCode: code, ErrorMessage: err.Error()}
}
