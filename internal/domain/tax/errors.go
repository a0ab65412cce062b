package tax

import "errors"

var (
	ErrInvalidConfiguration  = errors.New("invalid tax configuration")
	ErrConfigurationNotFound = errors.New("tax configuration not found")
	ErrEffectiveDateTaken    = errors.New("a tax configuration already exists for that effective date")
)
