package staff

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"hrpay/internal/platform/record"
)

var (
	staffNumberKeys = []string{"staffNumber", "staffNo", "employeeNumber", "employeeNo", "employeeId", "staffId"}
	firstNameKeys   = []string{"firstName", "givenName", "forename"}
	lastNameKeys    = []string{"lastName", "surname", "familyName"}
	fullNameKeys    = []string{"fullName", "name", "staffName", "employeeName"}
	emailKeys       = []string{"email", "emailAddress"}
	phoneKeys       = []string{"phone", "phoneNumber", "mobile", "telephone"}
	nationalIDKeys  = []string{"nationalId", "nid", "idNumber", "nationalIdNumber"}
	bankNameKeys    = []string{"bankName", "bank"}
	bankAccountKeys = []string{"bankAccount", "bankAccountNumber", "accountNumber", "account"}
	departmentKeys  = []string{"department", "dept"}
	positionKeys    = []string{"position", "jobTitle", "title", "role"}
	employmentKeys  = []string{"employmentType", "contractType", "employment"}
	startDateKeys   = []string{"startDate", "hireDate", "joinDate", "dateJoined"}
	basicPayKeys    = []string{"basicPay", "basicPayGross", "basicSalary", "salary"}
	transportKeys   = []string{"transportAllowance", "transportAllowanceGross", "transport"}
)

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2006/01/02", time.RFC3339}

var validate = validator.New()

// NormalizeRecord maps one loosely keyed spreadsheet row onto an ImportRow.
// Header case and separators do not matter: "basicPay", "basic_pay" and
// "Basic Pay" are the same column. Every problem in the row is reported.
func NormalizeRecord(line int, rec map[string]string) (ImportRow, []FieldIssue) {
	fields := record.NewFields(rec)
	get := func(keys ...string) string {
		v, _ := fields.Lookup(keys...)
		return strings.TrimSpace(v)
	}

	row := ImportRow{
		Line:           line,
		StaffNumber:    get(staffNumberKeys...),
		FirstName:      get(firstNameKeys...),
		LastName:       get(lastNameKeys...),
		Email:          strings.ToLower(get(emailKeys...)),
		Phone:          get(phoneKeys...),
		NationalID:     get(nationalIDKeys...),
		BankName:       get(bankNameKeys...),
		BankAccount:    get(bankAccountKeys...),
		Department:     get(departmentKeys...),
		Position:       get(positionKeys...),
		EmploymentType: strings.ToLower(get(employmentKeys...)),
	}
	if row.FirstName == "" && row.LastName == "" {
		if full := strings.Fields(get(fullNameKeys...)); len(full) > 0 {
			row.FirstName = full[0]
			row.LastName = strings.Join(full[1:], " ")
		}
	}

	var issues []FieldIssue
	add := func(field, reason string) {
		issues = append(issues, FieldIssue{Field: field, Reason: reason})
	}

	if row.StaffNumber == "" {
		add("staffNumber", "is required")
	}
	if row.FirstName == "" {
		add("firstName", "is required")
	}
	if row.LastName == "" {
		add("lastName", "is required")
	}
	if row.Email != "" {
		if err := validate.Var(row.Email, "email"); err != nil {
			add("email", "must be a valid email address")
		}
	}
	if row.EmploymentType != "" && !slices.Contains(EmploymentTypes, row.EmploymentType) {
		add("employmentType", "must be one of "+strings.Join(EmploymentTypes, ", "))
	}
	if raw := get(startDateKeys...); raw != "" {
		if t, ok := parseDate(raw); ok {
			row.StartDate = &t
		} else {
			add("startDate", "must be a date such as 2024-01-31")
		}
	}
	if raw := get(basicPayKeys...); raw != "" {
		if d, reason := parseAmount(raw); reason != "" {
			add("basicPay", reason)
		} else {
			row.BasicPay = &d
		}
	}
	if raw := get(transportKeys...); raw != "" {
		if d, reason := parseAmount(raw); reason != "" {
			add("transportAllowance", reason)
		} else {
			row.TransportAllowance = &d
		}
	}
	return row, issues
}

// parseAmount accepts thousands separators and an RWF prefix or suffix.
func parseAmount(raw string) (decimal.Decimal, string) {
	cleaned := strings.ToUpper(raw)
	cleaned = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(cleaned, "RWF"), "RWF"))
	cleaned = strings.NewReplacer(",", "", " ", "", "_", "").Replace(cleaned)
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, "must be a number"
	}
	if d.IsNegative() {
		return decimal.Zero, "must not be negative"
	}
	return d, ""
}

// parseDate also accepts spreadsheet serial dates, which excelize returns for
// cells formatted as numbers.
func parseDate(raw string) (time.Time, bool) {
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial >= 20000 && serial <= 80000 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t, true
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
