package tax

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Validate checks the invariants the calculator relies on: brackets start at
// zero, are contiguous with inclusive upper bounds, end in exactly one open
// bracket and never lower the rate; every rate lies within 0-100; and the top
// PAYE rate plus the employee pension, maternity and RAMA rates stay below 100
// so that those shares together can never exceed gross pay.
func Validate(cfg Configuration) error {
	if len(cfg.PAYEBrackets) == 0 {
		return fmt.Errorf("%w: no PAYE brackets", ErrInvalidConfiguration)
	}
	brackets := SortedBrackets(cfg.PAYEBrackets)
	if !brackets[0].Min.IsZero() {
		return fmt.Errorf("%w: first PAYE bracket must start at 0, got %s", ErrInvalidConfiguration, brackets[0].Min)
	}
	for i, b := range brackets {
		if err := checkRate(fmt.Sprintf("PAYE bracket %d", i+1), b.Rate); err != nil {
			return err
		}
		last := i == len(brackets)-1
		if b.OpenEnded() {
			if !last {
				return fmt.Errorf("%w: only the top PAYE bracket may be open-ended", ErrInvalidConfiguration)
			}
			continue
		}
		if last {
			return fmt.Errorf("%w: top PAYE bracket must be open-ended", ErrInvalidConfiguration)
		}
		if b.Max.LessThan(b.Min) {
			return fmt.Errorf("%w: PAYE bracket %d has max %s below min %s", ErrInvalidConfiguration, i+1, b.Max, b.Min)
		}
		next := brackets[i+1]
		if !next.Min.Equal(b.Max.Add(decimal.NewFromInt(1))) {
			return fmt.Errorf("%w: PAYE brackets %d and %d are not contiguous", ErrInvalidConfiguration, i+1, i+2)
		}
		if next.Rate.LessThan(b.Rate) {
			return fmt.Errorf("%w: PAYE bracket %d lowers the rate", ErrInvalidConfiguration, i+2)
		}
	}

	pairs := []struct {
		name string
		pair RatePair
	}{
		{"pension", cfg.Pension},
		{"maternity", cfg.Maternity},
		{"CBHI", cfg.CBHI},
		{"RAMA", cfg.RAMA},
	}
	for _, p := range pairs {
		if err := checkRate(p.name+" employee", p.pair.Employee); err != nil {
			return err
		}
		if err := checkRate(p.name+" employer", p.pair.Employer); err != nil {
			return err
		}
	}

	employeeShare := brackets[len(brackets)-1].Rate.
		Add(cfg.Pension.Employee).
		Add(cfg.Maternity.Employee).
		Add(cfg.RAMA.Employee)
	if !employeeShare.LessThan(hundred) {
		return fmt.Errorf("%w: top PAYE rate plus employee pension, maternity and RAMA rates is %s, must stay below 100", ErrInvalidConfiguration, employeeShare)
	}
	return nil
}

// SortedBrackets returns a copy of brackets ordered by Min.
func SortedBrackets(brackets []Bracket) []Bracket {
	out := make([]Bracket, len(brackets))
	copy(out, brackets)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Min.LessThan(out[j].Min)
	})
	return out
}

func checkRate(name string, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return fmt.Errorf("%w: %s rate %s outside 0-100", ErrInvalidConfiguration, name, rate)
	}
	return nil
}
