package payroll

import (
	"github.com/shopspring/decimal"

	"hrpay/internal/domain/staff"
)

// BuildInput maps a staff member's active payments and deductions onto the
// calculator input. Basic pay and transport keep their own lines because they
// drive the RAMA and maternity bases; every other payment type is other gross.
// A deduction contributes its monthly installment capped at the remaining
// balance, or the whole balance when no installment is set.
func BuildInput(payments []staff.Payment, deductions []staff.Deduction) CompensationInput {
	var in CompensationInput
	for _, p := range payments {
		if !p.Active {
			continue
		}
		switch p.Type {
		case staff.PaymentBasicPay:
			in.BasicPayGross = in.BasicPayGross.Add(p.Amount)
		case staff.PaymentTransportAllowance:
			in.TransportAllowanceGross = in.TransportAllowanceGross.Add(p.Amount)
		default:
			in.OtherGrossComponents = in.OtherGrossComponents.Add(p.Amount)
		}
	}
	for _, d := range deductions {
		amount := Installment(d)
		if amount.IsZero() {
			continue
		}
		in.OtherDeductions = append(in.OtherDeductions, OtherDeduction{DeductionID: d.ID, Type: d.Type, Amount: amount})
	}
	return in
}

// Installment is the amount a deduction takes in one run.
func Installment(d staff.Deduction) decimal.Decimal {
	if d.Status != staff.DeductionStatusActive || !d.RemainingBalance.IsPositive() {
		return decimal.Zero
	}
	if !d.MonthlyInstallment.IsPositive() {
		return d.RemainingBalance
	}
	return decimal.Min(d.MonthlyInstallment, d.RemainingBalance)
}
