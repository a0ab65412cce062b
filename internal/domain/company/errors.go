package company

import "errors"

var (
	ErrCompanyNotFound = errors.New("company not found")
	ErrNameTaken       = errors.New("company name already exists")
)
