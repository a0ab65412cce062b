package staff

const (
	StatusActive   = "active"
	StatusInactive = "inactive"

	EmploymentPermanent = "permanent"
	EmploymentContract  = "contract"
	EmploymentCasual    = "casual"

	PaymentBasicPay           = "basic_pay"
	PaymentTransportAllowance = "transport_allowance"
	PaymentHousingAllowance   = "housing_allowance"
	PaymentBonus              = "bonus"
	PaymentOtherAllowance     = "other_allowance"

	DeductionLoan    = "loan"
	DeductionAdvance = "advance"
	DeductionOther   = "other"

	DeductionStatusActive  = "active"
	DeductionStatusSettled = "settled"
)

var PaymentTypes = []string{
	PaymentBasicPay,
	PaymentTransportAllowance,
	PaymentHousingAllowance,
	PaymentBonus,
	PaymentOtherAllowance,
}

var DeductionTypes = []string{DeductionLoan, DeductionAdvance, DeductionOther}

var EmploymentTypes = []string{EmploymentPermanent, EmploymentContract, EmploymentCasual}
