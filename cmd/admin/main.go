package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sunshine-walker-93/edge_config_admin/internal/config"
	"github.com/sunshine-walker-93/edge_config_admin/internal/handler"
	"github.com/sunshine-walker-93/edge_config_admin/internal/kv"
	"github.com/sunshine-walker-93/edge_config_admin/internal/middleware"
	"github.com/sunshine-walker-93/edge_config_admin/internal/rule"
)

func main() {
	// Load .env if present; real environment variables take precedence
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load .env: %v", err)
	}

	// Get HTTP listen address
	listenAddr := getEnv("ADMIN_HTTP_LISTEN", ":8081")

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Open the key/value backend
	backendKind := getEnv("ADMIN_STORE", "memory")
	backend, err := openBackend(backendKind, logger)
	if err != nil {
		logger.Fatal("failed to open store backend", zap.String("store", backendKind), zap.Error(err))
	}
	defer backend.Close()
	logger.Info("store backend ready", zap.String("store", backendKind))

	// Optional seed plan for empty namespaces
	var seedRules []rule.Rule
	if path := os.Getenv("ADMIN_SEED_RULES"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Fatal("failed to read seed rules", zap.String("path", path), zap.Error(err))
		}
		seedRules, err = rule.DecodeYAML(data)
		if err != nil {
			logger.Fatal("failed to parse seed rules", zap.String("path", path), zap.Error(err))
		}
		if problems := rule.Validate(seedRules); len(problems) > 0 {
			logger.Fatal("invalid seed rules", zap.String("path", path), zap.Stringer("first_problem", problems[0]))
		}
		logger.Info("loaded seed rules", zap.String("path", path), zap.Int("rules", len(seedRules)))
	}

	// One version store actor per namespace
	stores := config.NewRegistry(backend, config.Options{Logger: logger, SeedRules: seedRules})
	defer stores.Close()

	// Build router
	r := chi.NewRouter()

	// Register middlewares
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(corsConfig()))

	// Register API routes
	r.Route("/api/v1", func(r chi.Router) {
		handler.Mount(r, stores, logger)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheus metrics
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Create HTTP server
	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Info("edge config admin listening", zap.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down edge config admin...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
}

// openBackend opens the key/value store selected by ADMIN_STORE.
func openBackend(kind string, logger *zap.Logger) (kv.Store, error) {
	switch kind {
	case "memory":
		return kv.NewMemoryStore(), nil

	case "mysql":
		dsn := os.Getenv("ADMIN_DB_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("ADMIN_DB_DSN environment variable is required")
		}
		return kv.NewMySQLStore(dsn)

	case "sqlite":
		return kv.NewSQLiteStore(getEnv("ADMIN_SQLITE_PATH", "edge_config.db"))

	case "badger":
		return kv.NewBadgerStore(kv.BadgerConfig{
			Path:       getEnv("ADMIN_BADGER_PATH", "data/badger"),
			SyncWrites: getEnv("ADMIN_BADGER_SYNC_WRITES", "true") == "true",
			Logger:     logger,
		})

	case "redis":
		db, err := strconv.Atoi(getEnv("ADMIN_REDIS_DB", "0"))
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_REDIS_DB: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return kv.NewRedisStore(ctx, getEnv("ADMIN_REDIS_ADDR", "localhost:6379"), os.Getenv("ADMIN_REDIS_PASSWORD"), db)

	case "consul":
		return kv.NewConsulStore(getEnv("ADMIN_CONSUL_ADDR", "127.0.0.1:8500"), getEnv("ADMIN_CONSUL_PREFIX", "edge-config/"))
	}
	return nil, fmt.Errorf("unknown ADMIN_STORE %q (memory, mysql, sqlite, badger, redis, consul)", kind)
}

func corsConfig() middleware.CORSConfig {
	cfg := middleware.DefaultCORSConfig()
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = middleware.ParseOrigins(v)
	}
	cfg.AllowedMethods = getEnv("CORS_ALLOWED_METHODS", cfg.AllowedMethods)
	cfg.AllowedHeaders = getEnv("CORS_ALLOWED_HEADERS", cfg.AllowedHeaders)
	cfg.AllowCredentials = getEnv("CORS_ALLOW_CREDENTIALS", "true") == "true"
	return cfg
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
