package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"gravity.com/gravity-chat/internal/auth"
	"gravity.com/gravity-chat/internal/sso"
	"gravity.com/gravity-chat/internal/store"
)

type AuthService struct {
	store       store.Store
	tokens      *auth.TokenService
	saml        *sso.Client
	frontendURL string
	now         func() time.Time
}

func NewAuthService(s store.Store, tokens *auth.TokenService, saml *sso.Client, frontendURL string) *AuthService {
	return &AuthService{
		store:       s,
		tokens:      tokens,
		saml:        saml,
		frontendURL: frontendURL,
		now:         time.Now,
	}
}

// LoginResult is what the frontend keeps after a successful sign-in.
type LoginResult struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates a local account with role user and returns its userId.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (string, error) {
	existing, err := s.store.GetUser(ctx, in.Email)
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return "", ErrUserExists
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &store.User{
		Email:        in.Email,
		UserID:       uuid.NewString(),
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: hash,
		Role:         store.RoleUser,
		AuthType:     store.AuthTypeLocal,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.PutUser(ctx, user); err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	return user.UserID, nil
}

func (s *AuthService) loginResult(user *store.User) (*LoginResult, error) {
	token, err := s.tokens.GenerateAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &LoginResult{
		Token:  token,
		UserID: user.UserID,
		Name:   user.FullName(),
		Role:   user.EffectiveRole(),
	}, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.store.GetUser(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if user.IsSSO() {
		return nil, ErrUseSSO
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return s.loginResult(user)
}

// UserByEmail loads the account behind an access token.
func (s *AuthService) UserByEmail(ctx context.Context, email string) (*store.User, error) {
	user, err := s.store.GetUser(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ForgotPassword logs a reset link for a registered local account. It
// reports success whether or not the account exists.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.store.GetUser(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil
	}
	if user.IsSSO() {
		log.Printf("Password reset requested for SSO account %s, ignoring", email)
		return nil
	}

	token, err := s.tokens.GenerateResetToken(email)
	if err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}

	// There is no mail transport; the link goes to the server log.
	resetLink := s.frontendURL + "/reset-password?" + url.Values{"token": {token}}.Encode()
	log.Printf("Password reset link for %s: %s", email, resetLink)
	return nil
}

func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	email, err := s.tokens.ValidateResetToken(token)
	if err != nil {
		return ErrInvalidResetToken
	}
	return s.setPassword(ctx, email, newPassword, ErrInvalidResetToken)
}

func (s *AuthService) ChangePassword(ctx context.Context, email, newPassword string) error {
	return s.setPassword(ctx, email, newPassword, ErrUserNotFound)
}

func (s *AuthService) setPassword(ctx context.Context, email, newPassword string, errMissing error) error {
	user, err := s.store.GetUser(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return errMissing
	}
	if user.IsSSO() {
		return ErrPasswordManaged
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, email, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errMissing
		}
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// UpdateProfile renames the account and returns the new display name.
func (s *AuthService) UpdateProfile(ctx context.Context, email, firstName, lastName string) (string, error) {
	user, err := s.store.UpdateUserName(ctx, email, firstName, lastName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to update profile: %w", err)
	}
	return user.FullName(), nil
}

func (s *AuthService) activeIdentityProvider(ctx context.Context) (sso.IdentityProvider, error) {
	cfg, err := s.store.GetActiveSSOConfig(ctx)
	if err != nil {
		return sso.IdentityProvider{}, fmt.Errorf("failed to load SSO configuration: %w", err)
	}
	if cfg == nil || cfg.Cert == "" || cfg.EntryPoint == "" {
		return sso.IdentityProvider{}, ErrSSONotConfigured
	}
	debugf("Using SSO configuration %s (issuer %s)", cfg.ID, cfg.Issuer)
	return sso.IdentityProvider{Issuer: cfg.Issuer, EntryPoint: cfg.EntryPoint, Cert: cfg.Cert}, nil
}

// SSOLoginURL returns the IdP URL an SSO account's browser is sent to.
func (s *AuthService) SSOLoginURL(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUser(ctx, email)
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return "", ErrUserNotFound
	}
	if !user.IsSSO() {
		return "", ErrUseLocal
	}

	idp, err := s.activeIdentityProvider(ctx)
	if err != nil {
		return "", err
	}
	loginURL, err := s.saml.AuthorizeURL(idp, "")
	if err != nil {
		return "", fmt.Errorf("failed to build SSO login URL: %w", err)
	}
	return loginURL, nil
}

// CompleteSSO validates the SAMLResponse posted in r and signs the asserted
// SSO account in.
func (s *AuthService) CompleteSSO(ctx context.Context, r *http.Request) (*LoginResult, error) {
	idp, err := s.activeIdentityProvider(ctx)
	if err != nil {
		return nil, err
	}

	profile, err := s.saml.ValidatePostResponse(idp, r)
	if err != nil {
		if errors.Is(err, sso.ErrNoEmail) {
			return nil, ErrNoSAMLEmail
		}
		log.Printf("SAML response rejected: %v", err)
		return nil, ErrInvalidSAML
	}

	user, err := s.store.GetUser(ctx, profile.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if !user.IsSSO() {
		return nil, ErrSSOLocalAccount
	}
	return s.loginResult(user)
}

// SSORedirectURL is the frontend login page carrying the session fields.
func (s *AuthService) SSORedirectURL(res *LoginResult) string {
	q := url.Values{
		"token":  {res.Token},
		"userId": {res.UserID},
		"name":   {res.Name},
		"role":   {res.Role},
	}
	return s.frontendURL + "/login?" + q.Encode()
}
