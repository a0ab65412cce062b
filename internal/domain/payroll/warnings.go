package payroll

import (
	"strings"

	"github.com/shopspring/decimal"

	"hrpay/internal/domain/staff"
)

// Warnings flags result rows that deserve a look before approval. They never
// block approval. previousNet is zero when the staff member had no approved
// result before.
func Warnings(st staff.Staff, r Result, previousNet decimal.Decimal) []string {
	warnings := []string{}
	if strings.TrimSpace(st.BankAccount) == "" {
		warnings = append(warnings, WarningMissingBank)
	}
	if r.Failed() {
		return warnings
	}
	if r.FinalNetPay.IsNegative() {
		warnings = append(warnings, WarningNegativeNet)
	}
	if previousNet.IsPositive() {
		change := r.FinalNetPay.Sub(previousNet).Abs().Div(previousNet)
		if change.GreaterThan(decimal.NewFromFloat(netVarianceThreshold)) {
			warnings = append(warnings, WarningNetVariance)
		}
	}
	return warnings
}
