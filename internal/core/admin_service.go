package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gravity.com/gravity-chat/internal/auth"
	"gravity.com/gravity-chat/internal/sso"
	"gravity.com/gravity-chat/internal/store"
)

type AdminService struct {
	store      store.Store
	httpClient *http.Client
	now        func() time.Time
}

func NewAdminService(s store.Store, metadataTimeout time.Duration) *AdminService {
	return &AdminService{
		store:      s,
		httpClient: &http.Client{Timeout: metadataTimeout},
		now:        time.Now,
	}
}

// FetchMetadata downloads IdP metadata and extracts the fields of an SSO configuration.
func (s *AdminService) FetchMetadata(ctx context.Context, metadataURL string) (*sso.Metadata, error) {
	md, err := sso.FetchMetadata(ctx, s.httpClient, metadataURL)
	if err != nil {
		if errors.Is(err, sso.ErrNoEntityDescriptor) || errors.Is(err, sso.ErrNoIDPDescriptor) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrMetadataFetch, err)
	}
	return md, nil
}

type SSOConfigInput struct {
	EntryPoint string
	Issuer     string
	Cert       string
}

// SaveSSOConfig stores a new configuration. The first one stored becomes active.
func (s *AdminService) SaveSSOConfig(ctx context.Context, in SSOConfigInput) (string, error) {
	if err := sso.ValidateCertificate(in.Cert); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCert, err)
	}

	existing, err := s.store.ListSSOConfigs(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list SSO configurations: %w", err)
	}

	cfg := &store.SSOConfig{
		ID:         uuid.NewString(),
		Issuer:     in.Issuer,
		EntryPoint: in.EntryPoint,
		Cert:       sso.NormalizeCertificate(in.Cert),
		IsActive:   len(existing) == 0,
		UpdatedAt:  s.now().UTC(),
	}
	if err := s.store.PutSSOConfig(ctx, cfg); err != nil {
		return "", fmt.Errorf("failed to save SSO configuration: %w", err)
	}
	log.Printf("Saved SSO configuration %s (issuer %s, active %t)", cfg.ID, cfg.Issuer, cfg.IsActive)
	return cfg.ID, nil
}

func (s *AdminService) ListSSOConfigs(ctx context.Context) ([]store.SSOConfig, error) {
	return s.store.ListSSOConfigs(ctx)
}

func (s *AdminService) DeleteSSOConfig(ctx context.Context, id string) error {
	return s.store.DeleteSSOConfig(ctx, id)
}

// ActivateSSOConfig makes id the only active configuration. Items are
// updated one at a time and only where the flag changes; a failure part way
// through can leave zero or two configurations active until the next call.
func (s *AdminService) ActivateSSOConfig(ctx context.Context, id string) error {
	configs, err := s.store.ListSSOConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list SSO configurations: %w", err)
	}

	found := false
	for _, cfg := range configs {
		if cfg.ID == id {
			found = true
			break
		}
	}
	if !found {
		return ErrSSOConfigNotFound
	}

	for _, cfg := range configs {
		active := cfg.ID == id
		if cfg.IsActive == active {
			continue
		}
		if err := s.store.SetSSOConfigActive(ctx, cfg.ID, active); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Deleted since the scan.
				continue
			}
			return fmt.Errorf("failed to update SSO configuration %s: %w", cfg.ID, err)
		}
	}
	return nil
}

type CreateUserInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
	AuthType  string
}

// CreateUser provisions a local or SSO account and returns its userId.
func (s *AdminService) CreateUser(ctx context.Context, in CreateUserInput) (string, error) {
	switch in.AuthType {
	case store.AuthTypeLocal, store.AuthTypeSSO:
	default:
		return "", ErrInvalidAuthType
	}
	role := in.Role
	if role == "" {
		role = store.RoleUser
	}
	if role != store.RoleUser && role != store.RoleAdmin {
		return "", ErrInvalidRole
	}
	if in.AuthType == store.AuthTypeLocal && in.Password == "" {
		return "", ErrPasswordRequired
	}

	existing, err := s.store.GetUser(ctx, in.Email)
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return "", ErrUserExists
	}

	user := &store.User{
		Email:     in.Email,
		UserID:    uuid.NewString(),
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Role:      role,
		AuthType:  in.AuthType,
		CreatedAt: s.now().UTC(),
	}
	// SSO accounts never get a password, even when one is supplied.
	if in.AuthType == store.AuthTypeLocal {
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			return "", fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = hash
	}

	if err := s.store.PutUser(ctx, user); err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	return user.UserID, nil
}

// UserSummary is a user record without its credentials.
type UserSummary struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
	AuthType  string `json:"authType"`
	UserID    string `json:"userId"`
}

func (s *AdminService) ListUsers(ctx context.Context) ([]UserSummary, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		authType := u.AuthType
		if authType == "" {
			authType = store.AuthTypeLocal
		}
		out = append(out, UserSummary{
			Email:     u.Email,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Role:      u.EffectiveRole(),
			AuthType:  authType,
			UserID:    u.UserID,
		})
	}
	return out, nil
}

// DeleteUser removes an account. Its chats are left in place.
func (s *AdminService) DeleteUser(ctx context.Context, callerEmail, email string) error {
	if callerEmail == email {
		return ErrCannotDeleteSelf
	}
	if err := s.store.DeleteUser(ctx, email); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

func (s *AdminService) PutSecret(ctx context.Context, name, value string) error {
	if err := s.store.PutSecret(ctx, &store.Secret{Name: name, Value: value, UpdatedAt: s.now().UTC()}); err != nil {
		return fmt.Errorf("failed to save secret: %w", err)
	}
	return nil
}

// ListSecrets returns secret names and timestamps; values stay in the store.
func (s *AdminService) ListSecrets(ctx context.Context) ([]store.Secret, error) {
	secrets, err := s.store.ListSecrets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	for i := range secrets {
		secrets[i].Value = ""
	}
	return secrets, nil
}

func (s *AdminService) DeleteSecret(ctx context.Context, name string) error {
	if err := s.store.DeleteSecret(ctx, name); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

// EnsureAdmin creates a local admin account unless email is already taken.
// It reports whether an account was created.
func (s *AdminService) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	_, err := s.CreateUser(ctx, CreateUserInput{
		Email:     email,
		Password:  password,
		FirstName: "Admin",
		LastName:  "User",
		Role:      store.RoleAdmin,
		AuthType:  store.AuthTypeLocal,
	})
	if errors.Is(err, ErrUserExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
