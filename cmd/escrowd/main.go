package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"AgentEscrow/internal/api"
	"AgentEscrow/internal/auth"
	"AgentEscrow/internal/config"
	"AgentEscrow/internal/escrow"
	"AgentEscrow/internal/inbox"
	"AgentEscrow/internal/ledger"
	"AgentEscrow/internal/observability/alerting"
	"AgentEscrow/internal/web3"
	"AgentEscrow/internal/web3/provider"
	"AgentEscrow/internal/webhook"
	"AgentEscrow/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("escrowd: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logger.Level,
		Format:      cfg.Logger.Format,
		OutputPaths: cfg.Logger.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logger.Audit.Enabled,
			Path:       cfg.Logger.Audit.Path,
			MaxSizeMB:  cfg.Logger.Audit.MaxSizeMB,
			MaxBackups: cfg.Logger.Audit.MaxBackups,
			MaxAgeDays: cfg.Logger.Audit.MaxAgeDays,
			Compress:   cfg.Logger.Audit.Compress,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("escrowd")

	defs, err := web3.LoadChainDefinitions(cfg.Web3.ChainsFile)
	if err != nil {
		return err
	}
	networks, err := web3.NewNetworks(defs)
	if err != nil {
		return err
	}

	chains, err := provider.NewRegistry(ctx, networks, provider.Options{
		DefaultChain: cfg.Web3.DefaultChain,
		Enabled:      cfg.Web3.Enabled,
	})
	if err != nil {
		return err
	}
	defer chains.Close()

	endpoints, err := chains.Default()
	if err != nil {
		return err
	}

	ledgerClient, err := ledger.NewClient(ledger.Config{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	signers, err := loadSigners(ctx, cfg, networks, endpoints)
	if err != nil {
		return err
	}

	var coordinator *escrow.Coordinator
	if endpoints.Network.HasEscrow() {
		coordinator, err = escrow.NewCoordinator(escrow.Options{
			Network:     endpoints.Network,
			Ledger:      ledgerClient,
			Reader:      escrow.NewChainReader(endpoints.Chain, endpoints.Network.Escrow),
			Signer:      signers.primary,
			OwnerSigner: signers.owner,
			CallTimeout: time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
	} else {
		lg.Warn("no escrow contract on the default chain, escrow API disabled", slog.String("chain", endpoints.Network.Name))
	}

	alerts := alerting.NewFanout(alerting.LogNotifier{}, httpNotifier(cfg.Alerting.WebhookURL))

	store, err := newDeliveryStore(ctx, cfg.Inbox.Store)
	if err != nil {
		return err
	}
	queue, err := newDeliveryQueue(ctx, cfg.Inbox.Queue)
	if err != nil {
		_ = store.Close()
		return err
	}
	deliveries := inbox.NewService(store, queue, cfg.Inbox.MaxRetries)
	defer func() {
		if err := deliveries.Close(); err != nil {
			lg.Error("close delivery inbox failed", slog.Any("error", err))
		}
	}()

	executor := inbox.RecordOnly()
	if cfg.Webhook.AutoConfirm {
		if coordinator == nil || !coordinator.HasSigner() {
			return errors.New("auto_confirm requires an escrow contract and a signing identity")
		}
		executor = inbox.AutoConfirm(coordinator, cfg.Webhook.AllowUnverified)
	}
	processor := inbox.NewProcessor(executor, store, queue, queue,
		inbox.WithWorkerCount(cfg.Inbox.Workers),
		inbox.WithProcessorLogger(logger.Named("inbox")),
		inbox.WithAlertDispatcher(alerts),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("delivery processor stopped unexpectedly", slog.Any("error", err))
		}
	}()

	listener, err := webhook.NewListener(deliveries, webhook.ListenerOptions{
		Secret: cfg.Webhook.Secret,
		Limit:  rate.Limit(cfg.Webhook.RateLimit),
		Burst:  cfg.Webhook.Burst,
		Alerts: alerts,
	})
	if err != nil {
		return err
	}

	var authService *auth.Service
	if cfg.Admin.JWTSecret != "" {
		authService, err = auth.NewService(auth.Config{
			Secret:   cfg.Admin.JWTSecret,
			Issuer:   cfg.Admin.Issuer,
			TokenTTL: time.Duration(cfg.Admin.TokenTTLMins) * time.Minute,
		})
		if err != nil {
			return err
		}
	} else {
		lg.Warn("no admin secret configured, admin API disabled")
	}

	opts := api.Options{
		Addr:          cfg.Server.Address,
		WebhookPath:   cfg.Webhook.Path,
		Webhook:       listener,
		Deliveries:    deliveries,
		Auth:          authService,
		EnableMetrics: cfg.Metrics.Enabled,
	}
	if coordinator != nil {
		opts.Escrows = coordinator
	}
	server := api.NewServer(opts)

	lg.Info("escrowd started",
		slog.String("address", cfg.Server.Address),
		slog.String("chain", endpoints.Network.Name),
		slog.Bool("webhook_verified", listener.Verified()),
		slog.Bool("auto_confirm", cfg.Webhook.AutoConfirm),
		slog.Bool("signer", signers.primary != nil),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	lg.Info("escrowd stopped")
	return nil
}

func httpNotifier(url string) alerting.Notifier {
	if url == "" {
		return nil
	}
	return &alerting.HTTPNotifier{URL: url}
}
