package tax

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"hrpay/internal/platform/record"
)

// RawRatePair is a partially populated rate pair as stored or submitted.
type RawRatePair struct {
	Employee *decimal.Decimal
	Employer *decimal.Decimal
}

// RawBracket is a PAYE bracket whose fields may be missing.
type RawBracket struct {
	Min  *decimal.Decimal
	Max  *decimal.Decimal
	Rate *decimal.Decimal
}

// RawConfiguration is a tax configuration before defaults are applied. A nil
// field means the value was absent from the source document.
type RawConfiguration struct {
	ID            string
	PAYEBrackets  []RawBracket
	Pension       *RawRatePair
	Maternity     *RawRatePair
	CBHI          *RawRatePair
	RAMA          *RawRatePair
	EffectiveDate *time.Time
}

// RawExemptions are company exemption flags as stored; nil means unset.
type RawExemptions struct {
	PAYE      *bool `json:"paye"`
	Pension   *bool `json:"pension"`
	Maternity *bool `json:"maternity"`
	CBHI      *bool `json:"cbhi"`
	RAMA      *bool `json:"rama"`
}

var (
	bracketKeys   = []string{"payeBrackets", "brackets", "paye"}
	pensionKeys   = []string{"pensionRates", "pension"}
	maternityKeys = []string{"maternityRates", "maternity"}
	cbhiKeys      = []string{"cbhiRates", "cbhi"}
	ramaKeys      = []string{"ramaRates", "rama"}
	effectiveKeys = []string{"effectiveDate", "effectiveFrom", "effective"}
	employeeKeys  = []string{"employee", "employeeRate"}
	employerKeys  = []string{"employer", "employerRate"}
)

// DecodeRawConfiguration reads a JSON document whose keys may be camelCase,
// snake_case or spaced. Unknown keys are ignored.
func DecodeRawConfiguration(data []byte) (RawConfiguration, error) {
	var raw RawConfiguration
	fields, err := record.DecodeJSON(data)
	if err != nil {
		return raw, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	if v, ok := fields.Lookup("id"); ok && !record.IsNull(v) {
		if err := json.Unmarshal(v, &raw.ID); err != nil {
			return raw, fmt.Errorf("%w: id: %v", ErrInvalidConfiguration, err)
		}
	}
	if v, ok := fields.Lookup(bracketKeys...); ok && !record.IsNull(v) {
		var items []json.RawMessage
		if err := json.Unmarshal(v, &items); err != nil {
			return raw, fmt.Errorf("%w: brackets: %v", ErrInvalidConfiguration, err)
		}
		for i, item := range items {
			b, err := decodeBracket(item)
			if err != nil {
				return raw, fmt.Errorf("%w: bracket %d: %v", ErrInvalidConfiguration, i+1, err)
			}
			raw.PAYEBrackets = append(raw.PAYEBrackets, b)
		}
	}
	for _, target := range []struct {
		keys []string
		dst  **RawRatePair
	}{
		{pensionKeys, &raw.Pension},
		{maternityKeys, &raw.Maternity},
		{cbhiKeys, &raw.CBHI},
		{ramaKeys, &raw.RAMA},
	} {
		v, ok := fields.Lookup(target.keys...)
		if !ok || record.IsNull(v) {
			continue
		}
		pair, err := decodeRatePair(v)
		if err != nil {
			return raw, fmt.Errorf("%w: %s: %v", ErrInvalidConfiguration, target.keys[0], err)
		}
		*target.dst = &pair
	}
	if v, ok := fields.Lookup(effectiveKeys...); ok && !record.IsNull(v) {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return raw, fmt.Errorf("%w: effective date: %v", ErrInvalidConfiguration, err)
		}
		t, err := parseDate(s)
		if err != nil {
			return raw, fmt.Errorf("%w: effective date: %v", ErrInvalidConfiguration, err)
		}
		raw.EffectiveDate = &t
	}
	return raw, nil
}

// ResolveConfiguration fills every missing rate from the default snapshot and
// validates the result. Brackets are taken as a whole: when none are given the
// default brackets apply, otherwise each bracket must carry min and rate.
func ResolveConfiguration(raw RawConfiguration) (Configuration, error) {
	def := DefaultConfiguration()
	cfg := Configuration{
		ID:            raw.ID,
		Pension:       resolvePair(raw.Pension, def.Pension),
		Maternity:     resolvePair(raw.Maternity, def.Maternity),
		CBHI:          resolvePair(raw.CBHI, def.CBHI),
		RAMA:          resolvePair(raw.RAMA, def.RAMA),
		EffectiveDate: def.EffectiveDate,
	}
	if raw.EffectiveDate != nil {
		cfg.EffectiveDate = raw.EffectiveDate.UTC()
	}

	if len(raw.PAYEBrackets) == 0 {
		cfg.PAYEBrackets = def.PAYEBrackets
	} else {
		cfg.PAYEBrackets = make([]Bracket, 0, len(raw.PAYEBrackets))
		for i, rb := range raw.PAYEBrackets {
			if rb.Min == nil || rb.Rate == nil {
				return Configuration{}, fmt.Errorf("%w: PAYE bracket %d is missing min or rate", ErrInvalidConfiguration, i+1)
			}
			b := Bracket{Min: *rb.Min, Rate: *rb.Rate}
			if rb.Max != nil {
				upper := *rb.Max
				b.Max = &upper
			}
			cfg.PAYEBrackets = append(cfg.PAYEBrackets, b)
		}
		cfg.PAYEBrackets = SortedBrackets(cfg.PAYEBrackets)
	}

	if err := Validate(cfg); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

// ResolveExemptions treats every unset flag as "tax applies".
func ResolveExemptions(raw RawExemptions) Exemptions {
	return Exemptions{
		PAYE:      flag(raw.PAYE),
		Pension:   flag(raw.Pension),
		Maternity: flag(raw.Maternity),
		CBHI:      flag(raw.CBHI),
		RAMA:      flag(raw.RAMA),
	}
}

// Raw converts resolved flags back to their stored form.
func (e Exemptions) Raw() RawExemptions {
	return RawExemptions{PAYE: &e.PAYE, Pension: &e.Pension, Maternity: &e.Maternity, CBHI: &e.CBHI, RAMA: &e.RAMA}
}

func flag(v *bool) bool {
	if v == nil {
		return true
	}
	return *v
}

func resolvePair(raw *RawRatePair, def RatePair) RatePair {
	if raw == nil {
		return def
	}
	out := def
	if raw.Employee != nil {
		out.Employee = *raw.Employee
	}
	if raw.Employer != nil {
		out.Employer = *raw.Employer
	}
	return out
}

func decodeBracket(data json.RawMessage) (RawBracket, error) {
	var b RawBracket
	fields, err := record.DecodeJSON(data)
	if err != nil {
		return b, err
	}
	if b.Min, err = decimalField(fields, "min", "from", "lower"); err != nil {
		return b, err
	}
	if b.Max, err = decimalField(fields, "max", "to", "upper"); err != nil {
		return b, err
	}
	if b.Rate, err = decimalField(fields, "rate", "percentage"); err != nil {
		return b, err
	}
	return b, nil
}

func decodeRatePair(data json.RawMessage) (RawRatePair, error) {
	var p RawRatePair
	fields, err := record.DecodeJSON(data)
	if err != nil {
		return p, err
	}
	if p.Employee, err = decimalField(fields, employeeKeys...); err != nil {
		return p, err
	}
	if p.Employer, err = decimalField(fields, employerKeys...); err != nil {
		return p, err
	}
	return p, nil
}

// decimalField accepts JSON numbers and numeric strings.
func decimalField(fields record.Fields[json.RawMessage], keys ...string) (*decimal.Decimal, error) {
	v, ok := fields.Lookup(keys...)
	if !ok || record.IsNull(v) {
		return nil, nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(v); err != nil {
		return nil, fmt.Errorf("%s: %v", keys[0], err)
	}
	return &d, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
