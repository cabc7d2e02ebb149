package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"gravity.com/gravity-chat/internal/core"
	"gravity.com/gravity-chat/internal/sso"
)

// JSON writes v as a JSON response.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func message(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, map[string]string{"message": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// pathParam returns the decoded value of URL parameter key. chi matches on
// the escaped path whenever r.URL.RawPath is set, so values such as
// bob%2Bx%40example.com arrive still encoded.
func pathParam(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	value := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return value, true
	}
	decoded, err := url.PathUnescape(value)
	if err != nil {
		Error(w, http.StatusBadRequest, "Invalid "+key+" in path")
		return "", false
	}
	return decoded, true
}

type errorMapping struct {
	err     error
	status  int
	message string
}

// Checked in order; more specific errors come first.
var errorMappings = []errorMapping{
	{sso.ErrNoIDPDescriptor, http.StatusBadRequest, "Invalid Metadata XML: IDPSSODescriptor not found"},
	{sso.ErrNoEntityDescriptor, http.StatusBadRequest, "Invalid Metadata XML: EntityDescriptor not found"},
	{core.ErrInvalidMetadata, http.StatusBadRequest, "Invalid Metadata XML"},
	{core.ErrMetadataFetch, http.StatusInternalServerError, "Failed to fetch or parse metadata"},
	{core.ErrInvalidCert, http.StatusBadRequest, "Invalid X.509 certificate"},

	{core.ErrUserExists, http.StatusBadRequest, "User already exists"},
	{core.ErrInvalidCredentials, http.StatusBadRequest, "Invalid credentials"},
	{core.ErrUseSSO, http.StatusBadRequest, "Please use SSO login"},
	{core.ErrUseLocal, http.StatusBadRequest, `This account is configured for password login. Please use the "Login" tab.`},
	{core.ErrSSOLocalAccount, http.StatusBadRequest, "Please use local login"},
	{core.ErrPasswordManaged, http.StatusBadRequest, "Password is managed by your identity provider"},
	{core.ErrUserNotFound, http.StatusNotFound, "User not found"},
	{core.ErrInvalidResetToken, http.StatusBadRequest, "Invalid or expired token"},
	{core.ErrSSONotConfigured, http.StatusBadRequest, "SSO is not configured by admin"},
	{core.ErrInvalidSAML, http.StatusUnauthorized, "Invalid SAML response"},
	{core.ErrNoSAMLEmail, http.StatusBadRequest, "No email found in SAML response"},

	{core.ErrChatNotFound, http.StatusNotFound, "Chat not found"},

	{core.ErrCannotDeleteSelf, http.StatusBadRequest, "Cannot delete yourself"},
	{core.ErrInvalidAuthType, http.StatusBadRequest, "authType must be local or sso"},
	{core.ErrInvalidRole, http.StatusBadRequest, "role must be user or admin"},
	{core.ErrPasswordRequired, http.StatusBadRequest, "Password is required for local auth"},
	{core.ErrSSOConfigNotFound, http.StatusNotFound, "SSO configuration not found"},
}

// writeError maps service errors to their response; anything unknown is
// logged with op and reported as a 500.
func writeError(w http.ResponseWriter, op string, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			Error(w, m.status, m.message)
			return
		}
	}
	log.Printf("%s error: %v", op, err)
	Error(w, http.StatusInternalServerError, "Internal server error")
}
