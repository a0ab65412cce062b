package tax

import (
	"time"

	"github.com/shopspring/decimal"
)

// RatePair holds the employee and employer share of a contribution, in percent.
type RatePair struct {
	Employee decimal.Decimal `json:"employee"`
	Employer decimal.Decimal `json:"employer"`
}

// Bracket is one PAYE band. Max is inclusive; a nil Max marks the open top band.
type Bracket struct {
	Min  decimal.Decimal  `json:"min"`
	Max  *decimal.Decimal `json:"max"`
	Rate decimal.Decimal  `json:"rate"`
}

func (b Bracket) OpenEnded() bool {
	return b.Max == nil
}

// Configuration is an immutable tax snapshot identified by its effective date.
// ID is empty for the built-in default.
type Configuration struct {
	ID            string    `json:"id,omitempty"`
	PAYEBrackets  []Bracket `json:"payeBrackets"`
	Pension       RatePair  `json:"pensionRates"`
	Maternity     RatePair  `json:"maternityRates"`
	CBHI          RatePair  `json:"cbhiRates"`
	RAMA          RatePair  `json:"ramaRates"`
	EffectiveDate time.Time `json:"effectiveDate"`
	CreatedBy     string    `json:"createdBy,omitempty"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
}

// Clone returns a deep copy so that callers can never mutate a cached snapshot.
func (c Configuration) Clone() Configuration {
	out := c
	out.PAYEBrackets = make([]Bracket, len(c.PAYEBrackets))
	for i, b := range c.PAYEBrackets {
		out.PAYEBrackets[i] = b
		if b.Max != nil {
			upper := *b.Max
			out.PAYEBrackets[i].Max = &upper
		}
	}
	return out
}

// IsDefault reports whether the snapshot is the built-in fallback.
func (c Configuration) IsDefault() bool {
	return c.ID == ""
}

// Exemptions are per-company switches. A false flag means the tax is not
// applied to that company's staff.
type Exemptions struct {
	PAYE      bool `json:"paye"`
	Pension   bool `json:"pension"`
	Maternity bool `json:"maternity"`
	CBHI      bool `json:"cbhi"`
	RAMA      bool `json:"rama"`
}
