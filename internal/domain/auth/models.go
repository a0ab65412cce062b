package auth

import "time"

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

type User struct {
	ID        string     `json:"id"`
	CompanyID string     `json:"companyId,omitempty"`
	Email     string     `json:"email"`
	FullName  string     `json:"fullName"`
	Role      string     `json:"role"`
	Status    string     `json:"status"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type AuthUser struct {
	ID        string
	CompanyID string
	Role      string
	Password  string
}

type NewUser struct {
	CompanyID string
	Email     string
	FullName  string
	Role      string
	Password  string
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}
