package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"payportal/internal/config"
	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/adapter"
	"payportal/internal/domain/ports/repository"
	"payportal/internal/domain/protocol"
	"payportal/internal/infra/api"
	"payportal/internal/infra/chain"
	"payportal/internal/infra/db/memory"
	pg "payportal/internal/infra/db/postgres"
	"payportal/internal/infra/logging"
	"payportal/internal/infra/metrics"
	red "payportal/internal/infra/redis"
	"payportal/internal/infra/sched"
	"payportal/internal/infra/webhook"
	"payportal/internal/infra/worker"
	"payportal/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

const lockTTL = 30 * time.Second

type stores struct {
	links    repository.PaymentLinkRepository
	payments repository.PaymentRepository
	subs     repository.SubscriptionRepository
	txm      repository.TransactionManager
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("payportal stopped")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	logger.Info().Str("version", version).Str("commit", commit).Bool("dev", cfg.Runtime.Dev).Msg("starting payportal")

	// ---- Storage ----
	var st stores
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pg.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		go pg.ReportPoolStats(ctx, pool, 15*time.Second)
		st = stores{
			links:    pg.NewPaymentLinkRepo(pool),
			payments: pg.NewPaymentRepo(pool),
			subs:     pg.NewSubscriptionRepo(pool),
			txm:      pg.NewTxManager(pool),
		}
	default:
		logger.Warn().Msg("using in-memory storage; records are lost on restart")
		mem := memory.NewStore()
		st = stores{
			links:    mem.Links(),
			payments: mem.Payments(),
			subs:     mem.Subscriptions(),
			txm:      memory.TxManager{},
		}
	}

	// ---- Redis (optional) ----
	var (
		locker  adapter.Locker = memory.NewKeyedLocker()
		limiter api.Limiter
	)
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		st.links = pg.NewLinkRepoCacheDecorator(st.links, rc, cfg.Redis.TTL, logger)
		locker = red.NewLocker(rc, lockTTL, logger)
		limiter = red.NewRateLimiter(rc)
	} else if cfg.Server.ConfirmLimit > 0 {
		logger.Warn().Msg("server.confirm_limit needs redis; confirm rate limiting disabled")
	}

	// ---- Chains ----
	policies := make([]usecase.ChainPolicy, 0, len(cfg.Chains))
	for _, cc := range cfg.Chains {
		v, closeFn, err := chain.Open(ctx, cc, logger)
		if err != nil {
			return fmt.Errorf("chain %d: %w", cc.ChainID, err)
		}
		defer closeFn()
		policies = append(policies, usecase.ChainPolicy{
			ChainID:       cc.ChainID,
			Name:          cc.Name,
			Confirmations: cc.Confirmations,
			Verifier:      v,
		})
		logger.Info().Int64("chain_id", cc.ChainID).Str("type", cc.Type).Uint64("confirmations", cc.Confirmations).Msg("chain ready")
	}

	// ---- Webhooks ----
	pool := worker.NewPool(cfg.Webhooks.Workers, 0, logger)
	pool.Start(ctx)
	defer pool.Stop()
	var events adapter.EventPublisher = adapter.NopPublisher{}
	if len(cfg.Webhooks.Endpoints) > 0 {
		events = webhook.NewDispatcher(webhookEndpoints(cfg.Webhooks.Endpoints), pool, webhook.Options{
			MaxAttempts: cfg.Webhooks.MaxAttempts,
			Timeout:     cfg.Webhooks.Timeout,
		}, logger)
	}

	// ---- Use cases ----
	verifyUC := usecase.NewVerificationUseCase(st.payments, policies, cfg.Verification.Timeout, logger)
	linkUC := usecase.NewLinkUseCase(st.links, st.payments, verifyUC, locker, events, protocol.Options{
		BaseURL:         cfg.Server.BaseURL,
		BasePath:        cfg.Server.BasePath,
		TimeoutSeconds:  cfg.Server.PaymentTimeout,
		SignatureSecret: cfg.Server.SignatureSecret,
	}, logger)
	billingUC := usecase.NewBillingUseCase(st.links, st.payments, st.subs, st.txm, verifyUC, locker, events, cfg.Billing.BatchSize, logger)

	// ---- Billing sweep ----
	bw := sched.NewBillingWorker(cfg.Billing.SweepInterval, billingUC, billingUC, logger)
	go func() { _ = bw.Run(ctx) }()

	// ---- HTTP ----
	var auth *api.AuthManager
	if cfg.Admin.APIKey != "" {
		secret := cfg.Admin.SessionSecret
		if secret == "" {
			secret = cfg.Admin.APIKey
		}
		auth = api.NewAuthManager(secret, !cfg.Runtime.Dev, cfg.Admin.SessionTTL)
	} else {
		logger.Warn().Msg("admin.api_key not set; admin routes are disabled")
	}
	srv := api.NewServer(linkUC, billingUC, api.Options{
		BasePath:       cfg.Server.BasePath,
		APIKey:         cfg.Admin.APIKey,
		Auth:           auth,
		Limiter:        limiter,
		ConfirmLimit:   cfg.Server.ConfirmLimit,
		RequestTimeout: cfg.Server.RequestTimeout,
		Dev:            cfg.Runtime.Dev,
	}, logger)
	return srv.Run(ctx, fmt.Sprintf(":%d", cfg.Server.Port))
}

func webhookEndpoints(in []config.WebhookEndpoint) []webhook.Endpoint {
	out := make([]webhook.Endpoint, 0, len(in))
	for _, ep := range in {
		events := make([]model.EventType, 0, len(ep.Events))
		for _, e := range ep.Events {
			events = append(events, model.EventType(e))
		}
		out = append(out, webhook.Endpoint{URL: ep.URL, Secret: ep.Secret, Events: events})
	}
	return out
}
