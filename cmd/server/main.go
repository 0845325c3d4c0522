package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/quotaguard/api"
	"github.com/yourusername/quotaguard/audit"
	"github.com/yourusername/quotaguard/core"
	"github.com/yourusername/quotaguard/metrics"
	"github.com/yourusername/quotaguard/middleware"
	"github.com/yourusername/quotaguard/pkg/quotaguard"
	"github.com/yourusername/quotaguard/store"
)

// main is the composition root: every dependency is constructed here
// and passed down explicitly. No package-level singletons.
func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("failed to create logger:", err)
	}
	defer logger.Sync()

	config := loadConfig(logger)

	// Bucket store: Redis when configured, in-memory otherwise.
	var bucketStore store.BucketStore
	if config.Redis.Addr != "" {
		redisStore, err := store.NewRedisStore(store.RedisConfig{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.String("addr", config.Redis.Addr), zap.Error(err))
		}
		defer redisStore.Close()
		logger.Info("using redis bucket store", zap.String("addr", config.Redis.Addr))
		bucketStore = redisStore
	} else {
		logger.Warn("using in-memory bucket store, limits are per-process only")
		bucketStore = store.NewMemoryStore()
	}

	limiter, err := quotaguard.New(
		quotaguard.WithStore(bucketStore),
		quotaguard.WithPolicies(config.Policies),
		quotaguard.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("failed to create limiter", zap.Error(err))
	}

	auditStore, err := audit.OpenSQLiteStore(config.Audit.Path)
	if err != nil {
		logger.Fatal("failed to open audit store", zap.String("path", config.Audit.Path), zap.Error(err))
	}
	defer auditStore.Close()

	detector := audit.NewDetector(auditStore, limiter.Registry(), logger)
	recorder := audit.NewRecorder(auditStore, detector, logger)
	admissionMetrics := metrics.NewMetrics()

	admission := middleware.NewAdmission(middleware.Config{
		Limiter:       limiter,
		Recorder:      recorder,
		Metrics:       admissionMetrics,
		Logger:        logger,
		Identity:      middleware.HeaderIdentity("X-User-ID", config.AnonymousID),
		ExcludedPaths: config.ExcludedPaths,
		ActionRoutes:  config.ActionRoutes,
	})

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// Protected application surface. Real deployments mount their own
	// handlers here; the echo handler makes the server usable for
	// smoke testing the admission path end to end.
	mux.Handle("/api/", admission.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"path":   r.URL.Path,
			"method": r.Method,
		})
	})))

	// Operator surface.
	operator := api.NewHandler(limiter, auditStore, logger)
	operator.Register(mux)
	mux.Handle("/metrics", api.NewMetricsHandler(admissionMetrics))

	addr := ":" + getEnv("PORT", "8080")
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("quotaguard server listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// loadConfig reads the YAML config file when CONFIG_FILE is set,
// otherwise starts from defaults overlaid with REDIS_* and AUDIT_DB
// environment variables.
func loadConfig(logger *zap.Logger) *quotaguard.Config {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		config, err := quotaguard.LoadConfigFromFile(path)
		if err != nil {
			logger.Fatal("invalid config file", zap.String("path", path), zap.Error(err))
		}
		logger.Info("loaded config", zap.String("path", path))
		return config
	}

	config := quotaguard.NewConfig()
	config.Redis.Addr = getEnv("REDIS_ADDR", "")
	config.Redis.Password = getEnv("REDIS_PASSWORD", "")
	config.Audit.Path = getEnv("AUDIT_DB", config.Audit.Path)
	config.ActionRoutes = map[string]core.Action{
		"/api/v1/chat":       core.ActionChatCompletion,
		"/api/v1/embeddings": core.ActionEmbeddingGeneration,
		"/api/v1/search":     core.ActionSearch,
		"/api/v1/validate":   core.ActionCodeValidation,
		"/api/v1/bulk":       core.ActionBulkCreate,
	}
	return config
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
