package staff

import (
	"time"

	"github.com/shopspring/decimal"
)

type Staff struct {
	ID             string     `json:"id"`
	CompanyID      string     `json:"companyId"`
	StaffNumber    string     `json:"staffNumber"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone"`
	NationalID     string     `json:"nationalId,omitempty"`
	BankName       string     `json:"bankName"`
	BankAccount    string     `json:"bankAccount,omitempty"`
	Department     string     `json:"department"`
	Position       string     `json:"position"`
	EmploymentType string     `json:"employmentType"`
	Status         string     `json:"status"`
	StartDate      *time.Time `json:"startDate,omitempty"`
	EndDate        *time.Time `json:"endDate,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func (s Staff) FullName() string {
	return s.FirstName + " " + s.LastName
}

type Payment struct {
	ID        string          `json:"id"`
	StaffID   string          `json:"staffId"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Deduction struct {
	ID                 string          `json:"id"`
	StaffID            string          `json:"staffId"`
	Type               string          `json:"type"`
	Description        string          `json:"description"`
	OriginalAmount     decimal.Decimal `json:"originalAmount"`
	MonthlyInstallment decimal.Decimal `json:"monthlyInstallment"`
	RemainingBalance   decimal.Decimal `json:"remainingBalance"`
	Status             string          `json:"status"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// PayrollRecord bundles what a payroll run needs for one staff member.
type PayrollRecord struct {
	Staff      Staff
	Payments   []Payment
	Deductions []Deduction
}

type Filter struct {
	Status     string
	Department string
	Search     string
}

// ImportRow is one normalized row of a staff spreadsheet.
type ImportRow struct {
	Line               int
	StaffNumber        string
	FirstName          string
	LastName           string
	Email              string
	Phone              string
	NationalID         string
	BankName           string
	BankAccount        string
	Department         string
	Position           string
	EmploymentType     string
	StartDate          *time.Time
	BasicPay           *decimal.Decimal
	TransportAllowance *decimal.Decimal
}

func (r ImportRow) Staff() Staff {
	return Staff{
		StaffNumber:    r.StaffNumber,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		Email:          r.Email,
		Phone:          r.Phone,
		NationalID:     r.NationalID,
		BankName:       r.BankName,
		BankAccount:    r.BankAccount,
		Department:     r.Department,
		Position:       r.Position,
		EmploymentType: r.EmploymentType,
		Status:         StatusActive,
		StartDate:      r.StartDate,
	}
}

type FieldIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

type RowIssue struct {
	Line   int          `json:"line"`
	Issues []FieldIssue `json:"issues"`
}

type ImportReport struct {
	Created int        `json:"created"`
	Updated int        `json:"updated"`
	Failed  []RowIssue `json:"failed"`
}
