package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/finara-hq/be-expenses/internal/client"
	"github.com/finara-hq/be-expenses/internal/config"
	"github.com/finara-hq/be-expenses/internal/database"
	"github.com/finara-hq/be-expenses/internal/handler"
	"github.com/finara-hq/be-expenses/internal/middleware"
	"github.com/finara-hq/be-expenses/internal/repository"
	"github.com/finara-hq/be-expenses/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := newLogger(cfg)

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Expenses Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		DSN:      cfg.Database.DSN(),
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	companiesRepo := repository.NewCompaniesRepository(db)
	usersRepo := repository.NewUsersRepository(db)
	rulesRepo := repository.NewApprovalRulesRepository(db)
	expenseRepo := repository.NewExpenseRepository(db)
	approvalsRepo := repository.NewExpenseApprovalsRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Initialize NATS notification publisher. An empty URL runs the service
	// without event publishing.
	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsConn.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS_URL not set; notification publishing disabled")
	}
	notifier := client.NewNotificationPublisher(natsConn, log)

	// Initialize exchange-rate client
	currencyClient := client.NewCurrencyClient(cfg.Currency.APIBase, cfg.Currency.Timeout, log)

	// Initialize services
	approvalService := service.NewApprovalService(rulesRepo, approvalsRepo, usersRepo, auditRepo, notifier, log)
	expenseService := service.NewExpenseService(expenseRepo, companiesRepo, approvalService, currencyClient, auditRepo, notifier, log)
	userService := service.NewUserService(usersRepo, companiesRepo, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(expenseService, approvalService, userService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Expense routes
	mux.HandleFunc("/api/v1/expenses", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListExpenses(w, r)
		case http.MethodPost:
			httpHandler.CreateExpense(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/expenses/get", httpHandler.GetExpense)
	mux.HandleFunc("/api/v1/expenses/submit", httpHandler.SubmitExpense)
	mux.HandleFunc("/api/v1/expenses/cancel", httpHandler.CancelExpense)
	mux.HandleFunc("/api/v1/expenses/delete", httpHandler.DeleteExpense)
	mux.HandleFunc("/api/v1/expenses/approvals", httpHandler.GetExpenseApprovals)
	mux.HandleFunc("/api/v1/expenses/audit", httpHandler.GetExpenseAudit)

	// Approval routes
	mux.HandleFunc("/api/v1/approvals/pending", httpHandler.GetPendingApprovals)
	mux.HandleFunc("/api/v1/approvals/action", httpHandler.ProcessApprovalAction)

	// Approval rule routes
	mux.HandleFunc("/api/v1/rules", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListRules(w, r)
		case http.MethodPost:
			httpHandler.CreateRule(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/rules/get", httpHandler.GetRule)
	mux.HandleFunc("/api/v1/rules/update", httpHandler.UpdateRule)
	mux.HandleFunc("/api/v1/rules/delete", httpHandler.DeleteRule)

	// Company and user routes
	mux.HandleFunc("/api/v1/companies", httpHandler.CreateCompany)
	mux.HandleFunc("/api/v1/users", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListUsers(w, r)
		case http.MethodPost:
			httpHandler.CreateUser(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/users/assign-manager", httpHandler.AssignManager)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log)(h)
	h = middleware.Recovery(&log)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// newLogger builds the service logger. Development gets console output,
// everything else structured JSON.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Service.Environment == "development" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stderr)
	}

	return log.Level(level).With().
		Timestamp().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Logger()
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
