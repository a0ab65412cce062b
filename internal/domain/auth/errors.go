package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidRole        = errors.New("invalid role")
	ErrRoleNotAllowed     = errors.New("role cannot be assigned by caller")
	ErrInvalidStatus      = errors.New("invalid user status")
	ErrSelfDisable        = errors.New("users cannot disable themselves")
)
