package tax

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultEffectiveDate is the effective date stamped on the built-in snapshot.
var DefaultEffectiveDate = time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)

// DefaultConfiguration returns the built-in Rwanda rates used whenever no
// stored configuration is available:
//
//	PAYE       0 - 60 000 @ 0%, 60 001 - 100 000 @ 10%,
//	           100 001 - 200 000 @ 20%, above 200 000 @ 30%
//	Pension    employee 6%, employer 8%
//	Maternity  employee 0.3%, employer 0.3%
//	CBHI       employee 0.5%, employer 0%
//	RAMA       employee 7.5%, employer 7.5%
func DefaultConfiguration() Configuration {
	return Configuration{
		PAYEBrackets: []Bracket{
			{Min: decimal.Zero, Max: amount(60000), Rate: decimal.Zero},
			{Min: decimal.NewFromInt(60001), Max: amount(100000), Rate: decimal.NewFromInt(10)},
			{Min: decimal.NewFromInt(100001), Max: amount(200000), Rate: decimal.NewFromInt(20)},
			{Min: decimal.NewFromInt(200001), Rate: decimal.NewFromInt(30)},
		},
		Pension:       RatePair{Employee: decimal.NewFromInt(6), Employer: decimal.NewFromInt(8)},
		Maternity:     RatePair{Employee: decimal.RequireFromString("0.3"), Employer: decimal.RequireFromString("0.3")},
		CBHI:          RatePair{Employee: decimal.RequireFromString("0.5"), Employer: decimal.Zero},
		RAMA:          RatePair{Employee: decimal.RequireFromString("7.5"), Employer: decimal.RequireFromString("7.5")},
		EffectiveDate: DefaultEffectiveDate,
	}
}

// DefaultExemptions applies every tax.
func DefaultExemptions() Exemptions {
	return Exemptions{PAYE: true, Pension: true, Maternity: true, CBHI: true, RAMA: true}
}

func amount(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}
