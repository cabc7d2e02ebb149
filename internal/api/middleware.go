package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"gravity.com/gravity-chat/internal/auth"
	"gravity.com/gravity-chat/internal/core"
	"gravity.com/gravity-chat/internal/store"
)

type contextKey string

const claimsKey contextKey = "claims"

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			Error(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			Error(w, http.StatusUnauthorized, "Authorization header must be a Bearer token")
			return
		}

		claims, err := h.tokens.ValidateAccessToken(tokenString)
		if err != nil {
			Error(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminMiddleware checks the caller's stored role, not the role claim.
func (h *APIHandler) AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r)
		if claims == nil {
			Error(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		user, err := h.auth.UserByEmail(r.Context(), claims.Email)
		if err != nil && !errors.Is(err, core.ErrUserNotFound) {
			log.Printf("ADMIN_ERROR: Unable to verify admin status for %s: %v", claims.Email, err)
			Error(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		if user == nil || user.Role != store.RoleAdmin {
			log.Printf("ADMIN_DENIED: Non-admin user %s attempted to access admin resource %s (IP: %s)",
				claims.Email, r.URL.Path, r.RemoteAddr)
			Error(w, http.StatusForbidden, "Access denied. Admin only.")
			return
		}

		log.Printf("ADMIN_AUTHORIZED: Admin user %s accessing %s %s (IP: %s)",
			claims.Email, r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
