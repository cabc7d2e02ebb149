package core

import "errors"

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUseSSO             = errors.New("account must sign in with SSO")
	ErrUseLocal           = errors.New("account must sign in with a password")
	ErrSSOLocalAccount    = errors.New("SSO assertion names a local account")
	ErrPasswordManaged    = errors.New("password is managed by the identity provider")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	ErrSSONotConfigured   = errors.New("no active SSO configuration")
	ErrInvalidSAML        = errors.New("invalid SAML response")
	ErrNoSAMLEmail        = errors.New("no email in SAML response")

	ErrChatNotFound = errors.New("chat not found")

	ErrCannotDeleteSelf  = errors.New("cannot delete own account")
	ErrInvalidAuthType   = errors.New("authType must be local or sso")
	ErrInvalidRole       = errors.New("role must be user or admin")
	ErrPasswordRequired  = errors.New("password is required for local accounts")
	ErrSSOConfigNotFound = errors.New("SSO configuration not found")
	ErrInvalidMetadata   = errors.New("invalid IdP metadata")
	ErrMetadataFetch     = errors.New("failed to fetch IdP metadata")
	ErrInvalidCert       = errors.New("invalid X.509 certificate")
)
