package api

import (
	"gravity.com/gravity-chat/internal/auth"
	"gravity.com/gravity-chat/internal/core"
)

type APIHandler struct {
	auth   *core.AuthService
	chats  *core.ChatService
	admin  *core.AdminService
	tokens *auth.TokenService
}

func NewAPIHandler(as *core.AuthService, cs *core.ChatService, ads *core.AdminService, tokens *auth.TokenService) *APIHandler {
	return &APIHandler{
		auth:   as,
		chats:  cs,
		admin:  ads,
		tokens: tokens,
	}
}
