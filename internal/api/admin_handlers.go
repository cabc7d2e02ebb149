package api

import (
	"log"
	"net/http"
	"strings"

	"gravity.com/gravity-chat/internal/core"
)

type MetadataRequest struct {
	URL string `json:"url"`
}

func (h *APIHandler) FetchMetadataHandler(w http.ResponseWriter, r *http.Request) {
	var req MetadataRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		Error(w, http.StatusBadRequest, "Metadata URL is required")
		return
	}

	md, err := h.admin.FetchMetadata(r.Context(), req.URL)
	if err != nil {
		writeError(w, "Fetch metadata", err)
		return
	}
	JSON(w, http.StatusOK, md)
}

type SSOConfigRequest struct {
	EntryPoint string `json:"entryPoint"`
	Issuer     string `json:"issuer"`
	Cert       string `json:"cert"`
}

func (h *APIHandler) SaveSSOConfigHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	var req SSOConfigRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.EntryPoint == "" || req.Issuer == "" || req.Cert == "" {
		Error(w, http.StatusBadRequest, "entryPoint, issuer and cert are required")
		return
	}

	id, err := h.admin.SaveSSOConfig(r.Context(), core.SSOConfigInput{
		EntryPoint: req.EntryPoint,
		Issuer:     req.Issuer,
		Cert:       req.Cert,
	})
	if err != nil {
		writeError(w, "Save SSO config", err)
		return
	}
	log.Printf("ADMIN_SUCCESS: %s saved SSO configuration %s", claims.Email, id)
	JSON(w, http.StatusOK, map[string]string{"message": "SSO configuration saved", "id": id})
}

func (h *APIHandler) ListSSOConfigsHandler(w http.ResponseWriter, r *http.Request) {
	configs, err := h.admin.ListSSOConfigs(r.Context())
	if err != nil {
		writeError(w, "List SSO configs", err)
		return
	}
	JSON(w, http.StatusOK, configs)
}

func (h *APIHandler) DeleteSSOConfigHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.admin.DeleteSSOConfig(r.Context(), id); err != nil {
		writeError(w, "Delete SSO config", err)
		return
	}
	log.Printf("ADMIN_SUCCESS: %s deleted SSO configuration %s", claims.Email, id)
	message(w, http.StatusOK, "SSO configuration deleted")
}

func (h *APIHandler) ActivateSSOConfigHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.admin.ActivateSSOConfig(r.Context(), id); err != nil {
		writeError(w, "Activate SSO config", err)
		return
	}
	log.Printf("ADMIN_SUCCESS: %s activated SSO configuration %s", claims.Email, id)
	message(w, http.StatusOK, "SSO configuration activated")
}

type CreateUserRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
	AuthType  string `json:"authType"`
}

func (h *APIHandler) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	var req CreateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.FirstName == "" || req.LastName == "" || req.AuthType == "" {
		Error(w, http.StatusBadRequest, "email, firstName, lastName and authType are required")
		return
	}

	userID, err := h.admin.CreateUser(r.Context(), core.CreateUserInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
		AuthType:  req.AuthType,
	})
	if err != nil {
		writeError(w, "Create user", err)
		return
	}
	log.Printf("ADMIN_SUCCESS: %s created %s user %s", claims.Email, req.AuthType, req.Email)
	JSON(w, http.StatusCreated, map[string]string{"message": "User created successfully", "userId": userID})
}

func (h *APIHandler) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := h.admin.ListUsers(r.Context())
	if err != nil {
		writeError(w, "List users", err)
		return
	}
	JSON(w, http.StatusOK, users)
}

func (h *APIHandler) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	email, ok := pathParam(w, r, "email")
	if !ok {
		return
	}

	if err := h.admin.DeleteUser(r.Context(), claims.Email, email); err != nil {
		writeError(w, "Delete user", err)
		return
	}
	log.Printf("ADMIN_SUCCESS: %s deleted user %s", claims.Email, email)
	message(w, http.StatusOK, "User deleted successfully")
}

type SecretRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (h *APIHandler) PutSecretHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	var req SecretRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Value == "" {
		Error(w, http.StatusBadRequest, "name and value are required")
		return
	}

	if err := h.admin.PutSecret(r.Context(), req.Name, req.Value); err != nil {
		writeError(w, "Save secret", err)
		return
	}
	log.Printf("ADMIN_SUCCESS: %s saved secret %s", claims.Email, req.Name)
	message(w, http.StatusOK, "Secret saved")
}

func (h *APIHandler) ListSecretsHandler(w http.ResponseWriter, r *http.Request) {
	secrets, err := h.admin.ListSecrets(r.Context())
	if err != nil {
		writeError(w, "List secrets", err)
		return
	}
	JSON(w, http.StatusOK, secrets)
}

func (h *APIHandler) DeleteSecretHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	name, ok := pathParam(w, r, "name")
	if !ok {
		return
	}

	if err := h.admin.DeleteSecret(r.Context(), name); err != nil {
		writeError(w, "Delete secret", err)
		return
	}
	log.Printf("ADMIN_SUCCESS: %s deleted secret %s", claims.Email, name)
	message(w, http.StatusOK, "Secret deleted")
}
