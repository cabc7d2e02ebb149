package api

import (
	"net/http"
	"strings"
)

type SSOLoginRequest struct {
	Email string `json:"email"`
}

func (h *APIHandler) SSOLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req SSOLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		Error(w, http.StatusBadRequest, "Email is required for SSO login")
		return
	}

	ssoURL, err := h.auth.SSOLoginURL(r.Context(), req.Email)
	if err != nil {
		writeError(w, "SSO login", err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"ssoUrl": ssoURL})
}

// SSOCallbackHandler is the assertion consumer service. The IdP's form post
// lands here and the browser is sent on to the frontend login page.
func (h *APIHandler) SSOCallbackHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.auth.CompleteSSO(r.Context(), r)
	if err != nil {
		writeError(w, "SSO callback", err)
		return
	}
	http.Redirect(w, r, h.auth.SSORedirectURL(res), http.StatusFound)
}
