package staff

import "errors"

var (
	ErrStaffNotFound      = errors.New("staff member not found")
	ErrStaffNumberTaken   = errors.New("staff number already exists")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrDeductionNotFound  = errors.New("deduction not found")
	ErrInvalidPaymentType = errors.New("invalid payment type")
	ErrInvalidDeduction   = errors.New("invalid deduction")
	ErrNegativeAmount     = errors.New("amount must not be negative")
	ErrUnsupportedImport  = errors.New("unsupported import file type")
	ErrEmptyImport        = errors.New("import file has no rows")
)
