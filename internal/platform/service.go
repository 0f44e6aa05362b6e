package platform

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/vdi-broker/vdi-broker/internal/access"
	"github.com/vdi-broker/vdi-broker/internal/broker"
	"github.com/vdi-broker/vdi-broker/internal/pool"
	"github.com/vdi-broker/vdi-broker/internal/provisioning"
	"github.com/vdi-broker/vdi-broker/internal/readiness"
	"github.com/vdi-broker/vdi-broker/internal/secrets"
	"github.com/vdi-broker/vdi-broker/internal/session"
	"github.com/vdi-broker/vdi-broker/internal/tickets"
	"github.com/vdi-broker/vdi-broker/internal/transport"
	"github.com/vdi-broker/vdi-broker/pkg/bus"
	"github.com/vdi-broker/vdi-broker/pkg/config"
	"github.com/vdi-broker/vdi-broker/pkg/httpserver"
	"github.com/vdi-broker/vdi-broker/pkg/logging"
	"github.com/vdi-broker/vdi-broker/pkg/observability"
	"github.com/vdi-broker/vdi-broker/pkg/storage"
)

// RunBroker wires shared dependencies and serves the connection protocol.
func RunBroker() error {
	cfg, err := config.Load("broker")
	if err != nil {
		return err
	}

	logger := logging.New(cfg.AppName, cfg.ServiceName, cfg.Env)
	logger.Info().Msg("loading shared dependencies")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTEL, err := observability.InitOTEL(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	db, err := storage.NewPostgres(cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := storage.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	natsConn, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		return err
	}
	defer natsConn.Close()

	registry, err := transport.LoadRegistry(cfg.TransportsFile)
	if err != nil {
		return err
	}

	repo := broker.NewPostgresRepository(db)
	cipher := secrets.NewCipher()
	negotiator := transport.NewNegotiator(
		readiness.NewRedisCache(redisClient),
		transport.NewTCPProber(cfg.ProbeTimeout),
		cipher,
		cfg.ReadinessTTL,
		logger,
	)
	resolver := broker.NewResolver(repo, registry, negotiator, newBackend(cfg), access.NewPostgresProvider(db), logger)
	auth := access.NewAuthenticator(cfg.TokenSecret, cfg.TokenTTL)
	svc := broker.NewService(repo, resolver, negotiator, registry,
		tickets.NewRedisBroker(redisClient), cipher, session.NewRedisStore(redisClient),
		auth, natsConn, logger, broker.Options{
			PublicHost: cfg.PublicHost,
			TicketTTL:  cfg.TicketTTL,
			SessionTTL: cfg.TokenTTL,
		})

	router := httpserver.NewRouter(cfg.ServiceName)
	broker.NewHandler(svc, logger).Register(router)

	var handler http.Handler = router
	if cfg.Env == "production" {
		handler = httpserver.RedirectToHTTPS(router, "/healthz", "/readyz", "/metrics")
	}
	return httpserver.Run(ctx, logger, cfg.HTTPPort, handler, cfg.ShutdownTimeout)
}

// RunPoolWorker wires the reconciler that promotes provisioning instances
// once the backend reports them up.
func RunPoolWorker() error {
	cfg, err := config.Load("poolworker")
	if err != nil {
		return err
	}

	logger := logging.New(cfg.AppName, cfg.ServiceName, cfg.Env)
	logger.Info().Msg("loading shared dependencies")

	db, err := storage.NewPostgres(cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	natsConn, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		return err
	}
	defer natsConn.Close()

	worker := pool.NewWorker(broker.NewPostgresRepository(db), newBackend(cfg), natsConn, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go worker.Run(ctx, cfg.PoolReconcileInterval)

	router := httpserver.NewRouter(cfg.ServiceName)
	return httpserver.Run(ctx, logger, cfg.HTTPPort, router, cfg.ShutdownTimeout)
}

// newBackend binds the real provisioning client when configured and falls
// back to the in-process fake for local development.
func newBackend(cfg config.Config) provisioning.Backend {
	if cfg.ProvisioningURL != "" {
		return provisioning.NewClient(cfg.ProvisioningURL, cfg.ProvisioningUser, cfg.ProvisioningPassword)
	}
	fake := provisioning.NewFake()
	fake.ReadyImmediately = true
	return fake
}
