package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gravity.com/gravity-chat/internal/api"
	"gravity.com/gravity-chat/internal/auth"
	"gravity.com/gravity-chat/internal/config"
	"gravity.com/gravity-chat/internal/core"
	"gravity.com/gravity-chat/internal/sso"
	"gravity.com/gravity-chat/internal/store"
	"gravity.com/gravity-chat/internal/web"
)

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		s, err := store.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := store.NewDynamoStore(ctx, store.DynamoOptions{
			Region:   cfg.AWSRegion,
			Endpoint: cfg.DynamoDBEndpoint,
			Tables:   cfg.Tables(),
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func main() {
	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.Debug() {
		core.SetVerbose(true)
		log.Println("Service starting in DEBUG mode")
	}

	initDBFlag := flag.Bool("init-db", false, "Create all tables and exit")
	seedAdminFlag := flag.Bool("seed-admin", false, "Create the ADMIN_EMAIL account if absent and exit")
	flag.Parse()

	ctx := context.Background()

	// Initialize database store
	dbStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", cfg.StoreBackend, err)
	}
	defer dbStore.Close()

	if *initDBFlag {
		log.Printf("Creating %s tables...", cfg.StoreBackend)
		if err := dbStore.CreateTables(ctx); err != nil {
			log.Fatalf("Table creation failed: %v", err)
		}
		log.Println("Tables ready. Exiting.")
		return
	}

	adminService := core.NewAdminService(dbStore, cfg.MetadataFetchTimeout)

	if *seedAdminFlag {
		created, err := adminService.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			log.Fatalf("Admin seeding failed: %v", err)
		}
		if created {
			log.Printf("Admin user %s created. Exiting.", cfg.AdminEmail)
		} else {
			log.Printf("Admin user %s already exists. Exiting.", cfg.AdminEmail)
		}
		return
	}

	// Initialize LLM client
	var llm core.LLM
	switch cfg.LLMProvider {
	case config.LLMProviderGemini:
		gemini, err := core.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatalf("Failed to initialize Gemini client: %v", err)
		}
		defer gemini.Close()
		llm = gemini
	default:
		llm = core.NewMCPClient(cfg.MCPHost, cfg.LLMTimeout)
	}

	samlClient, err := sso.NewClient(cfg.SAMLEntityID, cfg.SAMLCallbackURL, cfg.SAMLEntryPointRewrite)
	if err != nil {
		log.Fatalf("Failed to initialize SAML client: %v", err)
	}

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTTTL, cfg.ResetTokenTTL)
	authService := core.NewAuthService(dbStore, tokens, samlClient, cfg.FrontendBaseURL())
	chatService := core.NewChatService(dbStore, llm, cfg.DefaultModel, cfg.LLMHistoryLimit)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(authService, chatService, adminService, tokens)
	opts := api.RouterOptions{AllowedOrigins: cfg.AllowedOrigins()}
	if cfg.StaticDir != "" {
		log.Printf("Serving frontend from %s", cfg.StaticDir)
		opts.Frontend = web.Middleware(cfg.StaticDir)
	}
	router := api.NewRouter(apiHandler, opts)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLMTimeout + 30*time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s (store: %s, llm: %s). Press Ctrl+C to quit.",
			serverAddr, cfg.StoreBackend, cfg.LLMProvider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}
