package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"crmbridge/internal/auth"
	"crmbridge/internal/config"
	"crmbridge/internal/crm"
	"crmbridge/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Application holds all the major components of the service.
type Application struct {
	Config        *config.Config
	Logger        *log.Logger
	DB            *sql.DB
	Storage       *storage.SQLiteStorage
	Auth          *auth.Client
	Gateway       *crm.Gateway
	HttpServer    *http.Server
	MetricsServer *http.Server
}

// New creates and initializes a new Application instance.
func New(cfg *config.Config) (*Application, error) {
	logger := log.New(os.Stdout, "crmbridge: ", log.LstdFlags)

	// Setup: Database
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := storage.NewSQLiteStorage(db)
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Setup: OAuth client and refresher
	endpoints := auth.Endpoints{
		ClientID:     cfg.CRM.ClientID,
		ClientSecret: cfg.CRM.ClientSecret,
		RedirectURL:  cfg.CRM.RedirectURL,
		AuthURL:      cfg.CRM.AuthURL,
		TokenURL:     cfg.CRM.TokenURL,
		Scopes:       cfg.CRM.Scopes,
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}
	verifiers := auth.NewInMemoryVerifierStore()
	oauthClient := auth.NewClient(endpoints, store, verifiers, logger)
	refresher := auth.NewRefresher(endpoints, store, httpClient)

	// Setup: API gateway
	gateway := crm.NewGateway(store, refresher, httpClient, cfg.CRM.APIVersion, logger)

	// Setup: metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		DB:            db,
		Storage:       store,
		Auth:          oauthClient,
		Gateway:       gateway,
		MetricsServer: metricsServer,
	}

	// Setup: main HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("/", app.handleDashboard)
	mux.HandleFunc("/auth", app.handleAuth)
	mux.HandleFunc("/auth/callback", app.handleAuthCallback)
	mux.HandleFunc("/disconnect", app.handleDisconnect)
	mux.HandleFunc("/api/query", app.handleQuery)
	mux.HandleFunc("/api/describe/", app.handleDescribe)

	app.HttpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: app.logRequests(mux),
	}

	return app, nil
}

// Start begins the application's services.
func (a *Application) Start(ctx context.Context) error {
	a.Logger.Println("Starting application services...")

	go func() {
		a.Logger.Printf("Starting metrics server on %s", a.MetricsServer.Addr)
		if err := a.MetricsServer.ListenAndServe(); err != http.ErrServerClosed {
			a.Logger.Fatalf("Metrics server ListenAndServe: %v", err)
		}
	}()

	go func() {
		a.Logger.Printf("Starting HTTP server on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != http.ErrServerClosed {
			a.Logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the application's services.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.Println("Stopping application services...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := a.HttpServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Printf("HTTP server shutdown error: %v", err)
	}

	if err := a.MetricsServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Printf("Metrics server shutdown error: %v", err)
	}

	if err := a.DB.Close(); err != nil {
		a.Logger.Printf("Error closing database: %v", err)
	}

	a.Logger.Println("Application stopped gracefully.")
	return nil
}
