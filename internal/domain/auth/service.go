package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type StoreAPI interface {
	FindActiveUserByEmail(ctx context.Context, email string) (AuthUser, error)
	UpdateLastLogin(ctx context.Context, userID string) error
	GetUser(ctx context.Context, userID string) (User, error)
	CountUsers(ctx context.Context, companyID string) (int, error)
	ListUsers(ctx context.Context, companyID string, limit, offset int) ([]User, error)
	CreateUser(ctx context.Context, user NewUser, passwordHash string) (string, error)
	SetStatus(ctx context.Context, companyID, userID, status string) error
}

type Service struct {
	Store    StoreAPI
	secret   string
	tokenTTL time.Duration
	now      func() time.Time
}

func NewService(store StoreAPI, secret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &Service{Store: store, secret: secret, tokenTTL: tokenTTL, now: time.Now}
}

// Login checks the credentials and issues an access token. Unknown emails and
// wrong passwords both report ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	found, err := s.Store.FindActiveUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if err := CheckPassword(found.Password, password); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := GenerateToken(s.secret, Claims{UserID: found.ID, CompanyID: found.CompanyID, Role: found.Role}, s.tokenTTL)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.Store.UpdateLastLogin(ctx, found.ID); err != nil {
		slog.Warn("last login update failed", "err", err, "userId", found.ID)
	}
	user, err := s.Store.GetUser(ctx, found.ID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, ExpiresAt: s.now().Add(s.tokenTTL), User: user}, nil
}

func (s *Service) Me(ctx context.Context, userID string) (User, error) {
	return s.Store.GetUser(ctx, userID)
}

func (s *Service) ListUsers(ctx context.Context, companyID string, limit, offset int) ([]User, int, error) {
	total, err := s.Store.CountUsers(ctx, companyID)
	if err != nil {
		return nil, 0, err
	}
	users, err := s.Store.ListUsers(ctx, companyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// CreateUser adds a user to a company. Only system admins may create other
// system admins, and system admins are not bound to a company.
func (s *Service) CreateUser(ctx context.Context, actor UserContext, user NewUser) (string, error) {
	if !ValidRole(user.Role) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, user.Role)
	}
	if user.Role == RoleSystemAdmin {
		if !actor.IsSystemAdmin() {
			return "", ErrRoleNotAllowed
		}
		user.CompanyID = ""
	}
	hash, err := HashPassword(user.Password)
	if err != nil {
		return "", err
	}
	return s.Store.CreateUser(ctx, user, hash)
}

func (s *Service) SetStatus(ctx context.Context, actor UserContext, companyID, userID, status string) error {
	if status != UserStatusActive && status != UserStatusDisabled {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if userID == actor.UserID && status == UserStatusDisabled {
		return ErrSelfDisable
	}
	return s.Store.SetStatus(ctx, companyID, userID, status)
}
