package api

import (
	"net/http"
	"strings"
)

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	chats, err := h.chats.ListChats(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, "List chats", err)
		return
	}
	JSON(w, http.StatusOK, chats)
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	chat, err := h.chats.CreateChat(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, "Create chat", err)
		return
	}
	JSON(w, http.StatusCreated, chat)
}

func (h *APIHandler) GetChatMessagesHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	chatID, ok := pathParam(w, r, "chatId")
	if !ok {
		return
	}

	msgs, err := h.chats.GetMessages(r.Context(), claims.UserID, chatID)
	if err != nil {
		writeError(w, "Get chat messages", err)
		return
	}
	JSON(w, http.StatusOK, msgs)
}

type PostMessageRequest struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	chatID, ok := pathParam(w, r, "chatId")
	if !ok {
		return
	}

	var req PostMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		Error(w, http.StatusBadRequest, "Content is required")
		return
	}

	exchange, err := h.chats.PostMessage(r.Context(), claims.UserID, chatID, req.Content, req.Model)
	if err != nil {
		writeError(w, "Post message", err)
		return
	}
	JSON(w, http.StatusOK, exchange)
}

type RenameChatRequest struct {
	Title string `json:"title"`
}

func (h *APIHandler) RenameChatHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	chatID, ok := pathParam(w, r, "chatId")
	if !ok {
		return
	}

	var req RenameChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		Error(w, http.StatusBadRequest, "Title is required")
		return
	}

	chat, err := h.chats.RenameChat(r.Context(), claims.UserID, chatID, req.Title)
	if err != nil {
		writeError(w, "Rename chat", err)
		return
	}
	JSON(w, http.StatusOK, chat)
}
