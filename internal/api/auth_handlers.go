package api

import (
	"net/http"
	"strings"

	"gravity.com/gravity-chat/internal/core"
)

const forgotPasswordMessage = "If your email is registered, you will receive a reset link."

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" || req.FirstName == "" || req.LastName == "" {
		Error(w, http.StatusBadRequest, "All fields are required")
		return
	}

	userID, err := h.auth.Register(r.Context(), core.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeError(w, "Register", err)
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"message": "User registered successfully", "userId": userID})
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		Error(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, "Login", err)
		return
	}
	JSON(w, http.StatusOK, res)
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *APIHandler) ForgotPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		Error(w, http.StatusBadRequest, "Email is required")
		return
	}

	if err := h.auth.ForgotPassword(r.Context(), req.Email); err != nil {
		writeError(w, "Forgot password", err)
		return
	}
	message(w, http.StatusOK, forgotPasswordMessage)
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (h *APIHandler) ResetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		Error(w, http.StatusBadRequest, "Token and new password are required")
		return
	}

	if err := h.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeError(w, "Reset password", err)
		return
	}
	message(w, http.StatusOK, "Password reset successfully")
}

type UpdateProfileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (h *APIHandler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	var req UpdateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FirstName == "" || req.LastName == "" {
		Error(w, http.StatusBadRequest, "First name and last name are required")
		return
	}

	name, err := h.auth.UpdateProfile(r.Context(), claims.Email, req.FirstName, req.LastName)
	if err != nil {
		writeError(w, "Update profile", err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "Profile updated successfully", "name": name})
}

type ChangePasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

func (h *APIHandler) ChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	var req ChangePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.NewPassword == "" {
		Error(w, http.StatusBadRequest, "New password is required")
		return
	}

	if err := h.auth.ChangePassword(r.Context(), claims.Email, req.NewPassword); err != nil {
		writeError(w, "Change password", err)
		return
	}
	message(w, http.StatusOK, "Password changed successfully")
}
