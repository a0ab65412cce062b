package company

import (
	"time"

	"hrpay/internal/domain/tax"
)

type Company struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	TIN        string         `json:"tin"`
	Address    string         `json:"address"`
	Email      string         `json:"email"`
	Phone      string         `json:"phone"`
	Exemptions tax.Exemptions `json:"exemptions"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}
