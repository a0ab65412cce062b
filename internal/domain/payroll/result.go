package payroll

import "github.com/shopspring/decimal"

// Result is the itemized outcome of one calculation. Employer shares are
// reported for cost purposes and never reduce net pay.
type Result struct {
	TotalGrossSalary       decimal.Decimal `json:"totalGrossSalary"`
	PAYEAmount             decimal.Decimal `json:"payeAmount"`
	EmployeePension        decimal.Decimal `json:"employeePension"`
	EmployerPension        decimal.Decimal `json:"employerPension"`
	EmployeeMaternity      decimal.Decimal `json:"employeeMaternity"`
	EmployerMaternity      decimal.Decimal `json:"employerMaternity"`
	EmployeeRAMA           decimal.Decimal `json:"employeeRama"`
	EmployerRAMA           decimal.Decimal `json:"employerRama"`
	CBHIDeduction          decimal.Decimal `json:"cbhiDeduction"`
	EmployerCBHI           decimal.Decimal `json:"employerCbhi"`
	IntermediateNetSalary  decimal.Decimal `json:"intermediateNetSalary"`
	OtherDeductionsTotal   decimal.Decimal `json:"otherDeductionsTotal"`
	TotalAppliedDeductions decimal.Decimal `json:"totalAppliedDeductions"`
	FinalNetPay            decimal.Decimal `json:"finalNetPay"`
	Status                 string          `json:"status"`
	ErrorCode              string          `json:"errorCode,omitempty"`
	ErrorMessage           string          `json:"errorMessage,omitempty"`
}

func (r Result) Failed() bool {
	return r.Status == StatusError
}

// EmployerContributions is the employer cost on top of gross pay.
func (r Result) EmployerContributions() decimal.Decimal {
	return r.EmployerPension.Add(r.EmployerMaternity).Add(r.EmployerRAMA).Add(r.EmployerCBHI)
}

// Rounded returns a copy with every amount rounded to two decimals, halves
// going up. Only persisted and displayed values are rounded. The totals are
// rebuilt from the rounded components so that a rounded row still satisfies
// net = gross - deductions to the cent.
func (r Result) Rounded() Result {
	out := r
	for _, f := range []*decimal.Decimal{
		&out.TotalGrossSalary,
		&out.PAYEAmount,
		&out.EmployeePension,
		&out.EmployerPension,
		&out.EmployeeMaternity,
		&out.EmployerMaternity,
		&out.EmployeeRAMA,
		&out.EmployerRAMA,
		&out.CBHIDeduction,
		&out.EmployerCBHI,
		&out.OtherDeductionsTotal,
	} {
		*f = RoundMoney(*f)
	}
	out.IntermediateNetSalary = out.TotalGrossSalary.
		Sub(out.PAYEAmount).
		Sub(out.EmployeePension).
		Sub(out.EmployeeMaternity).
		Sub(out.EmployeeRAMA)
	out.TotalAppliedDeductions = out.PAYEAmount.
		Add(out.EmployeePension).
		Add(out.EmployeeMaternity).
		Add(out.EmployeeRAMA).
		Add(out.CBHIDeduction).
		Add(out.OtherDeductionsTotal)
	out.FinalNetPay = out.TotalGrossSalary.Sub(out.TotalAppliedDeductions)
	return out
}

// RoundMoney rounds to two decimals with ties toward positive infinity.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Shift(2).Add(decimal.NewFromFloat(0.5)).Floor().Shift(-2)
}
