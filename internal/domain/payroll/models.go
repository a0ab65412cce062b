package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

type Run struct {
	ID                         string          `json:"id"`
	CompanyID                  string          `json:"companyId"`
	Period                     time.Time       `json:"period"`
	Status                     string          `json:"status"`
	TaxConfigurationID         string          `json:"taxConfigurationId,omitempty"`
	TotalGross                 decimal.Decimal `json:"totalGross"`
	TotalDeductions            decimal.Decimal `json:"totalDeductions"`
	TotalNet                   decimal.Decimal `json:"totalNet"`
	TotalEmployerContributions decimal.Decimal `json:"totalEmployerContributions"`
	StaffCount                 int             `json:"staffCount"`
	ErrorCount                 int             `json:"errorCount"`
	CreatedBy                  string          `json:"createdBy,omitempty"`
	ApprovedBy                 string          `json:"approvedBy,omitempty"`
	ApprovedAt                 *time.Time      `json:"approvedAt,omitempty"`
	RejectionReason            string          `json:"rejectionReason,omitempty"`
	FailureReason              string          `json:"failureReason,omitempty"`
	CreatedAt                  time.Time       `json:"createdAt"`
	UpdatedAt                  time.Time       `json:"updatedAt"`
}

// Editable reports whether the run's results may be replaced.
func (r Run) Editable() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusRejected, RunStatusFailed:
		return true
	}
	return false
}

// ResultRow is the persisted, rounded result for one staff member in a run.
type ResultRow struct {
	ID          string            `json:"id"`
	RunID       string            `json:"runId"`
	StaffID     string            `json:"staffId"`
	StaffNumber string            `json:"staffNumber"`
	StaffName   string            `json:"staffName"`
	BankName    string            `json:"bankName,omitempty"`
	BankAccount string            `json:"bankAccount,omitempty"`
	Input       CompensationInput `json:"input"`
	Result      Result            `json:"result"`
	Warnings    []string          `json:"warnings"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// DeductionUsage is how much a run took from one staff deduction.
type DeductionUsage struct {
	DeductionID string
	Amount      decimal.Decimal
}

type Summary struct {
	RunID                      string          `json:"runId"`
	Status                     string          `json:"status"`
	StaffCount                 int             `json:"staffCount"`
	ErrorCount                 int             `json:"errorCount"`
	TotalGross                 decimal.Decimal `json:"totalGross"`
	TotalPAYE                  decimal.Decimal `json:"totalPaye"`
	TotalPension               decimal.Decimal `json:"totalPension"`
	TotalMaternity             decimal.Decimal `json:"totalMaternity"`
	TotalRAMA                  decimal.Decimal `json:"totalRama"`
	TotalCBHI                  decimal.Decimal `json:"totalCbhi"`
	TotalOtherDeductions       decimal.Decimal `json:"totalOtherDeductions"`
	TotalDeductions            decimal.Decimal `json:"totalDeductions"`
	TotalNet                   decimal.Decimal `json:"totalNet"`
	TotalEmployerContributions decimal.Decimal `json:"totalEmployerContributions"`
	Warnings                   map[string]int  `json:"warnings"`
}
