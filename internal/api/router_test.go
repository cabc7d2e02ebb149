package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"gravity.com/gravity-chat/internal/auth"
	"gravity.com/gravity-chat/internal/core"
	"gravity.com/gravity-chat/internal/sso"
	"gravity.com/gravity-chat/internal/store"
	"gravity.com/gravity-chat/internal/testutil"
)

type stubLLM struct {
	reply string
}

func (s *stubLLM) GenerateResponse(ctx context.Context, history []core.PromptMessage, userMessage, model string) (string, error) {
	return s.reply, nil
}

type testServer struct {
	handler http.Handler
	store   *store.SQLiteStore
	tokens  *auth.TokenService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := testutil.SetupStore(t)
	tokens := auth.NewTokenService("test-secret", time.Hour, 15*time.Minute)
	samlClient, err := sso.NewClient("gravity-chat", "http://localhost:3000/auth/sso/callback", "")
	if err != nil {
		t.Fatalf("sso.NewClient: %v", err)
	}

	h := NewAPIHandler(
		core.NewAuthService(s, tokens, samlClient, "http://localhost:4200"),
		core.NewChatService(s, &stubLLM{reply: "Hello from the model"}, "llama3", 10),
		core.NewAdminService(s, 5*time.Second),
		tokens,
	)
	return &testServer{
		handler: NewRouter(h, RouterOptions{AllowedOrigins: []string{"http://localhost:4200"}}),
		store:   s,
		tokens:  tokens,
	}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) tokenFor(t *testing.T, user *store.User) string {
	t.Helper()
	token, err := ts.tokens.GenerateAccessToken(user)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	return token
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func assertError(t *testing.T, rr *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, status, rr.Body.String())
	}
	if got := decode[map[string]string](t, rr)["error"]; got != msg {
		t.Errorf("error = %q, want %q", got, msg)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decode[map[string]string](t, rr)
	if body["status"] != "ok" {
		t.Errorf("unexpected health body %v", body)
	}
	if _, err := time.Parse(store.TimeLayout, body["timestamp"]); err != nil {
		t.Errorf("timestamp %q is not millisecond ISO-8601: %v", body["timestamp"], err)
	}
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "ann@example.com", "password": "pw"})
	assertError(t, rr, http.StatusBadRequest, "All fields are required")

	rr = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "   ", "password": "pw"})
	assertError(t, rr, http.StatusBadRequest, "Email and password are required")

	reg := map[string]string{"email": "ann@example.com", "password": "pw", "firstName": "Ann", "lastName": "Lee"}
	rr = ts.do(t, http.MethodPost, "/auth/register", "", reg)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d (%s)", rr.Code, rr.Body.String())
	}
	if decode[map[string]string](t, rr)["userId"] == "" {
		t.Error("register returned no userId")
	}

	rr = ts.do(t, http.MethodPost, "/auth/register", "", reg)
	assertError(t, rr, http.StatusBadRequest, "User already exists")

	rr = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ann@example.com", "password": "wrong"})
	assertError(t, rr, http.StatusBadRequest, "Invalid credentials")

	rr = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ann@example.com", "password": "pw"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d (%s)", rr.Code, rr.Body.String())
	}
	login := decode[core.LoginResult](t, rr)
	if login.Token == "" || login.Name != "Ann Lee" || login.Role != store.RoleUser {
		t.Fatalf("unexpected login %+v", login)
	}

	rr = ts.do(t, http.MethodPut, "/auth/profile", login.Token, map[string]string{"firstName": "Anna", "lastName": "Lee"})
	if rr.Code != http.StatusOK || decode[map[string]string](t, rr)["name"] != "Anna Lee" {
		t.Errorf("profile update: %d %s", rr.Code, rr.Body.String())
	}

	rr = ts.do(t, http.MethodPut, "/auth/change-password", login.Token, map[string]string{"newPassword": "pw2"})
	if rr.Code != http.StatusOK {
		t.Fatalf("change password status = %d", rr.Code)
	}
	rr = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ann@example.com", "password": "pw2"})
	if rr.Code != http.StatusOK {
		t.Errorf("login with new password: %d", rr.Code)
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	ts := newTestServer(t)
	testutil.SeedUser(t, ts.store, "bob@example.com", "old", store.RoleUser)

	rr := ts.do(t, http.MethodPost, "/auth/forgot-password", "", map[string]string{"email": " \t "})
	assertError(t, rr, http.StatusBadRequest, "Email is required")

	for _, email := range []string{"bob@example.com", "ghost@example.com"} {
		rr := ts.do(t, http.MethodPost, "/auth/forgot-password", "", map[string]string{"email": email})
		if rr.Code != http.StatusOK || decode[map[string]string](t, rr)["message"] != forgotPasswordMessage {
			t.Errorf("forgot-password %s: %d %s", email, rr.Code, rr.Body.String())
		}
	}

	rr = ts.do(t, http.MethodPost, "/auth/reset-password", "", map[string]string{"token": "garbage", "newPassword": "new"})
	assertError(t, rr, http.StatusBadRequest, "Invalid or expired token")

	resetToken, err := ts.tokens.GenerateResetToken("bob@example.com")
	if err != nil {
		t.Fatalf("GenerateResetToken: %v", err)
	}
	rr = ts.do(t, http.MethodPut, "/auth/profile", resetToken, map[string]string{"firstName": "B", "lastName": "C"})
	assertError(t, rr, http.StatusUnauthorized, "Invalid or expired token")

	rr = ts.do(t, http.MethodPost, "/auth/reset-password", "", map[string]string{"token": resetToken, "newPassword": "new"})
	if rr.Code != http.StatusOK {
		t.Fatalf("reset status = %d (%s)", rr.Code, rr.Body.String())
	}
	rr = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "bob@example.com", "password": "new"})
	if rr.Code != http.StatusOK {
		t.Errorf("login after reset: %d", rr.Code)
	}
}

func TestSSOLoginErrors(t *testing.T) {
	ts := newTestServer(t)
	testutil.SeedUser(t, ts.store, "local@example.com", "pw", store.RoleUser)
	testutil.SeedUser(t, ts.store, "sso@example.com", "", store.RoleUser)

	rr := ts.do(t, http.MethodPost, "/auth/sso/login", "", map[string]string{})
	assertError(t, rr, http.StatusBadRequest, "Email is required for SSO login")

	rr = ts.do(t, http.MethodPost, "/auth/sso/login", "", map[string]string{"email": "  "})
	assertError(t, rr, http.StatusBadRequest, "Email is required for SSO login")

	rr = ts.do(t, http.MethodPost, "/auth/sso/login", "", map[string]string{"email": "nobody@example.com"})
	assertError(t, rr, http.StatusNotFound, "User not found")

	rr = ts.do(t, http.MethodPost, "/auth/sso/login", "", map[string]string{"email": "local@example.com"})
	assertError(t, rr, http.StatusBadRequest, `This account is configured for password login. Please use the "Login" tab.`)

	rr = ts.do(t, http.MethodPost, "/auth/sso/login", "", map[string]string{"email": "sso@example.com"})
	assertError(t, rr, http.StatusBadRequest, "SSO is not configured by admin")

	rr = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "sso@example.com", "password": "x"})
	assertError(t, rr, http.StatusBadRequest, "Please use SSO login")
}

func TestSSOCallback(t *testing.T) {
	ts := newTestServer(t)
	idp := testutil.NewIdP(t)
	ts.store.PutSSOConfig(context.Background(), &store.SSOConfig{ID: "cfg-1", Issuer: idp.Issuer, EntryPoint: idp.EntryPoint, Cert: idp.Cert, IsActive: true, UpdatedAt: time.Now()})
	testutil.SeedUser(t, ts.store, "ann@example.com", "", store.RoleAdmin)
	testutil.SeedUser(t, ts.store, "local@example.com", "pw", store.RoleUser)

	const acsURL = "http://localhost:3000/auth/sso/callback"
	callback := func(email string) *httptest.ResponseRecorder {
		t.Helper()
		resp := idp.Response(t, testutil.Assertion{Audience: "gravity-chat", ACSURL: acsURL, RequestID: "id-sp-initiated-123", NameID: email})
		rr := httptest.NewRecorder()
		ts.handler.ServeHTTP(rr, testutil.CallbackRequest(acsURL, resp))
		return rr
	}

	rr := callback("ann@example.com")
	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302 (body %s)", rr.Code, rr.Body.String())
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	if loc.Host != "localhost:4200" || loc.Path != "/login" {
		t.Errorf("unexpected redirect %s", loc)
	}
	q := loc.Query()
	if q.Get("userId") != "id-ann@example.com" || q.Get("name") != "Test User" || q.Get("role") != store.RoleAdmin {
		t.Errorf("unexpected redirect query %v", q)
	}
	claims, err := ts.tokens.ValidateAccessToken(q.Get("token"))
	if err != nil {
		t.Fatalf("redirect token: %v", err)
	}
	if claims.Email != "ann@example.com" || claims.Role != store.RoleAdmin {
		t.Errorf("unexpected token claims %+v", claims)
	}

	assertError(t, callback("nobody@example.com"), http.StatusNotFound, "User not found")
	assertError(t, callback("local@example.com"), http.StatusBadRequest, "Please use local login")
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing header", "", "Authorization header is required"},
		{"not bearer", "Basic abc", "Authorization header must be a Bearer token"},
		{"bad token", "Bearer nope", "Invalid or expired token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/chats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			ts.handler.ServeHTTP(rr, req)
			assertError(t, rr, http.StatusUnauthorized, tt.want)
		})
	}
}

func TestChatFlow(t *testing.T) {
	ts := newTestServer(t)
	ann := ts.tokenFor(t, testutil.SeedUser(t, ts.store, "ann@example.com", "pw", store.RoleUser))
	bob := ts.tokenFor(t, testutil.SeedUser(t, ts.store, "bob@example.com", "pw", store.RoleUser))

	rr := ts.do(t, http.MethodPost, "/chats", ann, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create chat status = %d", rr.Code)
	}
	chat := decode[store.ChatSession](t, rr)
	if chat.Title != store.DefaultChatTitle || chat.ChatID == "" {
		t.Fatalf("unexpected chat %+v", chat)
	}

	rr = ts.do(t, http.MethodPost, "/chats/"+chat.ChatID+"/message", ann, map[string]string{"content": "  "})
	assertError(t, rr, http.StatusBadRequest, "Content is required")

	rr = ts.do(t, http.MethodPost, "/chats/"+chat.ChatID+"/message", ann, map[string]string{"content": "What is the tallest mountain on Earth?"})
	if rr.Code != http.StatusOK {
		t.Fatalf("post message status = %d (%s)", rr.Code, rr.Body.String())
	}
	exchange := decode[core.MessageExchange](t, rr)
	if exchange.AssistantMessage.Content != "Hello from the model" {
		t.Errorf("assistant content = %q", exchange.AssistantMessage.Content)
	}
	if d := exchange.AssistantMessage.Timestamp.Sub(exchange.UserMessage.Timestamp); d != 100*time.Millisecond {
		t.Errorf("assistant offset = %v, want 100ms", d)
	}

	rr = ts.do(t, http.MethodGet, "/chats/"+chat.ChatID, ann, nil)
	msgs := decode[[]store.ChatMessage](t, rr)
	if len(msgs) != 2 || msgs[0].Role != store.SenderUser || msgs[1].Role != store.SenderAssistant {
		t.Fatalf("unexpected messages %+v", msgs)
	}

	rr = ts.do(t, http.MethodGet, "/chats", ann, nil)
	chats := decode[[]store.ChatSession](t, rr)
	if len(chats) != 1 || chats[0].Title != "What is the tallest mountain o..." {
		t.Errorf("unexpected chats %+v", chats)
	}

	rr = ts.do(t, http.MethodPut, "/chats/"+chat.ChatID, ann, map[string]string{"title": ""})
	assertError(t, rr, http.StatusBadRequest, "Title is required")

	rr = ts.do(t, http.MethodPut, "/chats/"+chat.ChatID, ann, map[string]string{"title": "Mountains"})
	if rr.Code != http.StatusOK || decode[store.ChatSession](t, rr).Title != "Mountains" {
		t.Errorf("rename: %d %s", rr.Code, rr.Body.String())
	}

	// Another user's chat is invisible.
	assertError(t, ts.do(t, http.MethodGet, "/chats/"+chat.ChatID, bob, nil), http.StatusNotFound, "Chat not found")
	assertError(t, ts.do(t, http.MethodPut, "/chats/"+chat.ChatID, bob, map[string]string{"title": "x"}), http.StatusNotFound, "Chat not found")
	assertError(t, ts.do(t, http.MethodPost, "/chats/"+chat.ChatID+"/message", bob, map[string]string{"content": "hi"}), http.StatusNotFound, "Chat not found")

	rr = ts.do(t, http.MethodGet, "/chats", bob, nil)
	if got := decode[[]store.ChatSession](t, rr); len(got) != 0 {
		t.Errorf("bob sees %d chats", len(got))
	}
}

func TestAdminGate(t *testing.T) {
	ts := newTestServer(t)
	user := ts.tokenFor(t, testutil.SeedUser(t, ts.store, "user@example.com", "pw", store.RoleUser))

	assertError(t, ts.do(t, http.MethodGet, "/admin/users", user, nil), http.StatusForbidden, "Access denied. Admin only.")

	// A role claim alone is not enough.
	forged := ts.tokenFor(t, &store.User{Email: "user@example.com", UserID: "id-user@example.com", Role: store.RoleAdmin})
	assertError(t, ts.do(t, http.MethodGet, "/admin/users", forged, nil), http.StatusForbidden, "Access denied. Admin only.")
}

func TestAdminUsers(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.tokenFor(t, testutil.SeedUser(t, ts.store, "admin@example.com", "pw", store.RoleAdmin))

	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantError  string
	}{
		{"missing fields", map[string]string{"email": "x@example.com"}, http.StatusBadRequest, "email, firstName, lastName and authType are required"},
		{"bad auth type", map[string]string{"email": "x@example.com", "firstName": "X", "lastName": "Y", "authType": "ldap"}, http.StatusBadRequest, "authType must be local or sso"},
		{"local without password", map[string]string{"email": "x@example.com", "firstName": "X", "lastName": "Y", "authType": "local"}, http.StatusBadRequest, "Password is required for local auth"},
		{"existing user", map[string]string{"email": "admin@example.com", "firstName": "X", "lastName": "Y", "authType": "sso"}, http.StatusBadRequest, "User already exists"},
		{"sso user", map[string]string{"email": "sso@example.com", "firstName": "S", "lastName": "O", "authType": "sso"}, http.StatusCreated, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, "/admin/users", admin, tt.body)
			if tt.wantError != "" {
				assertError(t, rr, tt.wantStatus, tt.wantError)
				return
			}
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
		})
	}

	rr := ts.do(t, http.MethodGet, "/admin/users", admin, nil)
	users := decode[[]core.UserSummary](t, rr)
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
	if strings.Contains(rr.Body.String(), "password") {
		t.Errorf("user list leaks password fields: %s", rr.Body.String())
	}

	assertError(t, ts.do(t, http.MethodDelete, "/admin/users/admin@example.com", admin, nil), http.StatusBadRequest, "Cannot delete yourself")
	assertError(t, ts.do(t, http.MethodDelete, "/admin/users/admin%40example.com", admin, nil), http.StatusBadRequest, "Cannot delete yourself")

	testutil.SeedUser(t, ts.store, "bob+x@example.com", "pw", store.RoleUser)
	rr = ts.do(t, http.MethodDelete, "/admin/users/bob%2Bx%40example.com", admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("encoded delete status = %d (%s)", rr.Code, rr.Body.String())
	}
	if u, _ := ts.store.GetUser(context.Background(), "bob+x@example.com"); u != nil {
		t.Error("bob+x@example.com still present after encoded delete")
	}

	rr = ts.do(t, http.MethodDelete, "/admin/users/sso@example.com", admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if u, _ := ts.store.GetUser(context.Background(), "sso@example.com"); u != nil {
		t.Error("user still present after delete")
	}
}

func TestAdminSecrets(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.tokenFor(t, testutil.SeedUser(t, ts.store, "admin@example.com", "pw", store.RoleAdmin))

	assertError(t, ts.do(t, http.MethodPost, "/admin/secrets", admin, map[string]string{"name": "OPENAI_KEY"}), http.StatusBadRequest, "name and value are required")

	rr := ts.do(t, http.MethodPost, "/admin/secrets", admin, map[string]string{"name": "OPENAI_KEY", "value": "sk-123"})
	if rr.Code != http.StatusOK {
		t.Fatalf("put secret status = %d", rr.Code)
	}

	rr = ts.do(t, http.MethodGet, "/admin/secrets", admin, nil)
	if strings.Contains(rr.Body.String(), "sk-123") {
		t.Fatalf("secret value returned: %s", rr.Body.String())
	}
	secrets := decode[[]store.Secret](t, rr)
	if len(secrets) != 1 || secrets[0].Name != "OPENAI_KEY" {
		t.Errorf("unexpected secrets %+v", secrets)
	}

	rr = ts.do(t, http.MethodDelete, "/admin/secrets/OPENAI_KEY", admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete secret status = %d", rr.Code)
	}
	if got := decode[[]store.Secret](t, ts.do(t, http.MethodGet, "/admin/secrets", admin, nil)); len(got) != 0 {
		t.Errorf("secrets after delete = %+v", got)
	}

	ts.do(t, http.MethodPost, "/admin/secrets", admin, map[string]string{"name": "team/llm key", "value": "v"})
	rr = ts.do(t, http.MethodDelete, "/admin/secrets/team%2Fllm%20key", admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("encoded delete status = %d (%s)", rr.Code, rr.Body.String())
	}
	if got := decode[[]store.Secret](t, ts.do(t, http.MethodGet, "/admin/secrets", admin, nil)); len(got) != 0 {
		t.Errorf("secrets after encoded delete = %+v", got)
	}
}

func TestAdminSSOConfig(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.tokenFor(t, testutil.SeedUser(t, ts.store, "admin@example.com", "pw", store.RoleAdmin))

	rr := ts.do(t, http.MethodPost, "/admin/sso-metadata", admin, map[string]string{})
	assertError(t, rr, http.StatusBadRequest, "Metadata URL is required")

	rr = ts.do(t, http.MethodPost, "/admin/sso-config", admin, map[string]string{"entryPoint": "http://idp/sso", "issuer": "idp", "cert": "bm90IGEgY2VydA=="})
	assertError(t, rr, http.StatusBadRequest, "Invalid X.509 certificate")

	assertError(t, ts.do(t, http.MethodPost, "/admin/sso-config/missing/activate", admin, nil), http.StatusNotFound, "SSO configuration not found")

	rr = ts.do(t, http.MethodGet, "/admin/sso-config", admin, nil)
	if got := decode[[]store.SSOConfig](t, rr); len(got) != 0 {
		t.Errorf("configs = %+v, want none", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:4200" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q", got)
	}
}
