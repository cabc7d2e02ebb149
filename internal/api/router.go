package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"gravity.com/gravity-chat/internal/store"
)

type RouterOptions struct {
	AllowedOrigins []string
	// Frontend, when set, wraps the router so browser navigations reach the SPA.
	Frontend func(http.Handler) http.Handler
}

func NewRouter(apiHandler *APIHandler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if opts.Frontend != nil {
		r.Use(opts.Frontend)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(store.TimeLayout),
		})
	})

	r.Route("/auth", func(r chi.Router) {
		// Public routes
		r.Post("/register", apiHandler.RegisterHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Post("/forgot-password", apiHandler.ForgotPasswordHandler)
		r.Post("/reset-password", apiHandler.ResetPasswordHandler)
		r.Post("/sso/login", apiHandler.SSOLoginHandler)
		r.Post("/sso/callback", apiHandler.SSOCallbackHandler)

		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)
			r.Put("/profile", apiHandler.UpdateProfileHandler)
			r.Put("/change-password", apiHandler.ChangePasswordHandler)
		})
	})

	r.Route("/chats", func(r chi.Router) {
		r.Use(apiHandler.JWTAuthMiddleware)

		r.Get("/", apiHandler.ListChatsHandler)
		r.Post("/", apiHandler.CreateChatHandler)
		r.Get("/{chatId}", apiHandler.GetChatMessagesHandler)
		r.Put("/{chatId}", apiHandler.RenameChatHandler)
		r.Post("/{chatId}/message", apiHandler.PostMessageHandler)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(apiHandler.JWTAuthMiddleware)
		r.Use(apiHandler.AdminMiddleware)

		// SSO configuration
		r.Post("/sso-metadata", apiHandler.FetchMetadataHandler)
		r.Post("/sso-config", apiHandler.SaveSSOConfigHandler)
		r.Get("/sso-config", apiHandler.ListSSOConfigsHandler)
		r.Delete("/sso-config/{id}", apiHandler.DeleteSSOConfigHandler)
		r.Post("/sso-config/{id}/activate", apiHandler.ActivateSSOConfigHandler)

		// Users
		r.Post("/users", apiHandler.CreateUserHandler)
		r.Get("/users", apiHandler.ListUsersHandler)
		r.Delete("/users/{email}", apiHandler.DeleteUserHandler)

		// Secrets
		r.Post("/secrets", apiHandler.PutSecretHandler)
		r.Get("/secrets", apiHandler.ListSecretsHandler)
		r.Delete("/secrets/{name}", apiHandler.DeleteSecretHandler)
	})

	return r
}
