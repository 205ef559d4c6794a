// server is the goodwill HTTP API: donation listings, requests and the
// delivery lifecycle behind bearer-token auth.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jredh-dev/goodwill/config"
	"github.com/jredh-dev/goodwill/internal/auth"
	"github.com/jredh-dev/goodwill/internal/database"
	"github.com/jredh-dev/goodwill/internal/evidence"
	"github.com/jredh-dev/goodwill/internal/lifecycle"
	"github.com/jredh-dev/goodwill/internal/lock"
	"github.com/jredh-dev/goodwill/internal/logging"
	"github.com/jredh-dev/goodwill/internal/token"
	"github.com/jredh-dev/goodwill/internal/tracing"
	"github.com/jredh-dev/goodwill/internal/web"
	"github.com/jredh-dev/goodwill/internal/web/handlers"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	seedDemo := flag.Bool("seed-demo", false, "Create demo donor/recipient/admin users and log tokens for them")
	flag.Parse()

	if *showVersion {
		fmt.Printf("goodwill-server %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", buildDate)
		os.Exit(0)
	}

	cfg := config.Load()
	logger := logging.Must(cfg.Server.Env)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if cfg.JWT.SigningKey == "" {
		if cfg.IsProduction() {
			logger.Fatal("JWT_SIGNING_KEY must be set in production")
		}
		key, err := token.GenerateSigningKey()
		if err != nil {
			logger.Fatal("generate signing key", zap.Error(err))
		}
		logger.Warn("JWT_SIGNING_KEY is empty, using an ephemeral key; tokens will not survive a restart")
		cfg.JWT.SigningKey = key
	}

	db, err := database.Open(cfg.DB.Path)
	if err != nil {
		logger.Fatal("initialize database", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: "goodwill-server",
		Version:     version,
	})
	if err != nil {
		logger.Fatal("initialize tracing", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("flush traces", zap.Error(err))
		}
	}()

	locker, closeLocker := newLocker(cfg, logger)
	defer closeLocker()

	store, closeStore, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("initialize evidence store", zap.Error(err))
	}
	defer closeStore()

	engine := lifecycle.New(db, locker, evidence.NewCapture(store, logger.Named("evidence")), logger.Named("lifecycle"), lifecycle.Policy{
		RequireDeliveryEvidence: cfg.Lifecycle.RequireDeliveryEvidence,
		MaxPhotos:               cfg.Lifecycle.MaxDonationPhotos,
		OperationTimeout:        cfg.Lifecycle.OperationTimeout,
	})

	tokens := token.New(cfg.JWT.SigningKey, cfg.JWT.Issuer)
	guard := auth.NewGuard(tokens, db)

	if *seedDemo {
		if err := seedDemoUsers(ctx, db, tokens, cfg.JWT.MaxAge, logger); err != nil {
			logger.Error("seed demo users", zap.Error(err))
		}
	}

	srv := web.New(logger.Named("http"), cfg.Server.AllowedOrigins)
	srv.Router.Handle("/metrics", promhttp.Handler())

	if store.Backend() == "local" {
		fileServer := http.FileServer(http.Dir(cfg.Evidence.UploadDir))
		prefix := cfg.Evidence.PublicBaseURL + "/"
		srv.Router.Handle(prefix+"*", http.StripPrefix(prefix, fileServer))
	}

	h := handlers.New(db, engine, guard, logger.Named("handlers"))
	h.Routes(srv.Router)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("goodwill server configured",
		zap.String("env", cfg.Server.Env),
		zap.String("evidence_backend", store.Backend()),
		zap.Bool("redis_lock", cfg.Redis.Addr != ""),
		zap.Bool("tracing", cfg.Tracing.Endpoint != ""),
	)
	if err := srv.Run(runCtx, ":"+cfg.Server.Port); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// newLocker returns a Redis locker when REDIS_ADDR is set and an in-process
// one otherwise. The in-process locker is only correct for a single server.
func newLocker(cfg *config.Config, logger *zap.Logger) (lock.Locker, func()) {
	if cfg.Redis.Addr == "" {
		return lock.NewLocal(cfg.Lifecycle.LockWait), func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("connect to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	locker := lock.NewRedis(rdb, cfg.Lifecycle.LockTTL, cfg.Lifecycle.LockWait, logger.Named("lock"))
	return locker, func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("close redis", zap.Error(err))
		}
	}
}

func newBlobStore(ctx context.Context, cfg *config.Config) (evidence.BlobStore, func(), error) {
	switch cfg.Evidence.Backend {
	case "gcs":
		if cfg.Evidence.GCSBucket == "" {
			return nil, nil, errors.New("GCS_BUCKET is required for the gcs backend")
		}
		s, err := evidence.NewGCSStore(ctx, cfg.Evidence.GCSBucket, cfg.Evidence.CredentialsPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "local", "":
		if err := os.MkdirAll(cfg.Evidence.UploadDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create upload dir: %w", err)
		}
		return evidence.NewLocalStore(cfg.Evidence.UploadDir, cfg.Evidence.PublicBaseURL), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown EVIDENCE_BACKEND %q", cfg.Evidence.Backend)
	}
}
