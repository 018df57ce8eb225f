package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/capgov/internal/actor"
	"github.com/xela07ax/capgov/internal/audit"
	"github.com/xela07ax/capgov/internal/console/handler"
	"github.com/xela07ax/capgov/internal/console/server"
	"github.com/xela07ax/capgov/internal/domain"
	"github.com/xela07ax/capgov/internal/engine"
	"github.com/xela07ax/capgov/internal/infra"
	"github.com/xela07ax/capgov/internal/infra/auth"
	"github.com/xela07ax/capgov/internal/intake"
	"github.com/xela07ax/capgov/internal/pilot"
	"github.com/xela07ax/capgov/internal/quota"
	"github.com/xela07ax/capgov/internal/repository/memory"
	"github.com/xela07ax/capgov/internal/repository/postgres"
)

// stores is the storage surface the runtime needs, satisfied by both the
// postgres and memory backends.
type stores interface {
	engine.ProposalStore
	engine.PolicyStore
	actor.DelegationSource
	audit.EventStore
}

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage backend.
	var (
		store   stores
		cleanup func()
	)
	switch cfg.Storage.Driver {
	case "memory":
		store = memory.New()
		logger.Warn("running on the in-memory store, nothing survives a restart")
	case "postgres":
		pg, err := postgres.New(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			logger.Fatal("postgres init", zap.Error(err))
		}
		pingCtx, cancel := context.WithTimeout(appCtx, 5*time.Second)
		if err := pg.Ping(pingCtx); err != nil {
			cancel()
			logger.Fatal("postgres unreachable", zap.Error(err))
		}
		cancel()
		store = pg
		cleanup = pg.Close
	default:
		logger.Fatal("unknown storage driver", zap.String("driver", cfg.Storage.Driver))
	}
	if cleanup != nil {
		defer cleanup()
	}

	// Redis is optional: without it quotas fall back to per-process memory
	// and policy updates are not broadcast to peers.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(appCtx).Err(); err != nil {
			logger.Fatal("redis unreachable", zap.Error(err))
		}
	}

	// Audit pipeline.
	recorder := audit.NewRecorder(store, logger, audit.RecorderOptions{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
	})
	recorder.Start()
	defer recorder.Stop()

	signingKey, err := auditSigningKey(cfg.Audit.SigningKey)
	if err != nil {
		logger.Fatal("audit signing key", zap.Error(err))
	}
	exporter := audit.NewExporter(store, signingKey)

	// Metrics registry shared by the engine and the HTTP surface.
	registry := prometheus.NewRegistry()
	metrics := engine.NewMetrics(registry)

	// Control plane.
	policyMgr := engine.NewPolicyManager(store, recorder, rdb, logger, cfg.Governance.MinRationaleLen, metrics)
	if err := policyMgr.Init(appCtx, cfg.Governance.KillSwitchDefault); err != nil {
		logger.Fatal("policy init", zap.Error(err))
	}
	go policyMgr.StartListener(appCtx)

	// Quotas: Redis-backed when available so all instances share windows.
	var limiter quota.Limiter
	if rdb != nil {
		limiter = quota.NewRedisLimiter(rdb, logger)
	} else {
		limiter = quota.NewMemoryLimiter()
	}
	quotaMgr := quota.NewManager(limiter, recorder, logger, cfg.Governance.MinRationaleLen)

	// Intake screen.
	rules, err := intake.LoadRules(cfg.Intake.RulesPath)
	if err != nil {
		logger.Fatal("intake rules", zap.Error(err))
	}
	classifier := intake.NewClassifier(rules, store, recorder, logger)
	overrides := intake.NewOverrides(recorder, logger, cfg.Governance.MinRationaleLen)

	// Pilot write executor. Without a base URL the in-process mock serves
	// development and the memory driver.
	var noteSvc pilot.NoteService
	if cfg.Pilot.BaseURL != "" {
		noteSvc = pilot.NewReliableService(pilot.NewHTTPClient(cfg.Pilot.BaseURL, logger), cfg.Pilot)
	} else {
		logger.Warn("pilot.base_url not set, using the in-process note service")
		noteSvc = pilot.NewMockNoteService()
	}
	executor := pilot.NewNoteExecutor(noteSvc, logger)

	// Lifecycle engine.
	runtime := engine.NewRuntime(engine.Options{
		Capabilities:    domain.NewCapabilitySet(engine.DefaultCapabilities()),
		Proposals:       store,
		Resolver:        actor.NewResolver(store, recorder, logger),
		Classifier:      classifier,
		Limiter:         limiter,
		QuotaConfig:     cfg.Quota,
		Policy:          policyMgr,
		Pilot:           executor,
		Sink:            recorder,
		Logger:          logger,
		Metrics:         metrics,
		MinRationaleLen: cfg.Governance.MinRationaleLen,
	})

	// Auth perimeter.
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	api := server.New(
		logger,
		validator,
		registry,
		handler.NewProposalHandler(runtime),
		handler.NewPolicyHandler(policyMgr),
		handler.NewQuotaHandler(quotaMgr),
		handler.NewAuditHandler(store, exporter),
		handler.NewIntakeHandler(store, overrides),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("governance runtime listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-appCtx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
}

// auditSigningKey decodes a hex ed25519 seed. Nil input means unsigned
// export bundles.
func auditSigningKey(raw []byte) (ed25519.PrivateKey, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode hex seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
