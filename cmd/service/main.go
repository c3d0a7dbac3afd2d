package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/dropDatabas3/doorman/internal/broker"
	"github.com/dropDatabas3/doorman/internal/cache"
	"github.com/dropDatabas3/doorman/internal/config"
	"github.com/dropDatabas3/doorman/internal/credstore"
	httprouter "github.com/dropDatabas3/doorman/internal/http/router"
	"github.com/dropDatabas3/doorman/internal/idp"
	"github.com/dropDatabas3/doorman/internal/metrics"
	"github.com/dropDatabas3/doorman/internal/observability/logger"
	"github.com/dropDatabas3/doorman/internal/orchestrator"
	"github.com/dropDatabas3/doorman/internal/provider"
	"github.com/dropDatabas3/doorman/internal/resolver"
	svcrouter "github.com/dropDatabas3/doorman/internal/router"
	"github.com/dropDatabas3/doorman/internal/sessionreg"
)

func main() {
	// .env primero: los overrides de env pisan el YAML.
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", os.Getenv("DOORMAN_CONFIG"), "ruta del config YAML")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		// Logger todavía no inicializado.
		panic("config: " + err.Error())
	}

	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "doorman"})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := metrics.Register(nil); err != nil {
		log.Fatal("metrics", zap.Error(err))
	}

	// Cache compartido: JWKS/discovery del IdP y probe del broker.
	sharedCache := cache.New(cache.Config{
		Driver:     cfg.Cache.Kind,
		RedisAddr:  cfg.Cache.Redis.Addr,
		RedisDB:    cfg.Cache.Redis.DB,
		Prefix:     cfg.Cache.Redis.Prefix,
		DefaultTTL: cfg.CacheDefaultTTL(),
	})

	creds, err := newCredStore(cfg)
	if err != nil {
		log.Fatal("credential store", zap.Error(err))
	}
	sessions, err := newSessionRegistry(ctx, cfg)
	if err != nil {
		log.Fatal("session registry", zap.Error(err))
	}

	brokerClient := broker.New(cfg.Broker.BaseURL, cfg.BrokerTimeout(), sharedCache, cfg.BrokerProbeTTL())

	var oidc *idp.OIDC
	if cfg.IdP.Issuer != "" {
		oidc = idp.New(cfg.IdP.Issuer, cfg.IdP.ClientID, cfg.IdP.RedirectURL, cfg.IdP.Scopes, sharedCache)
	}

	factory := provider.NewFactory(brokerClient, oidc)
	res := resolver.New(creds, sessions, brokerClient, factory)
	orch := orchestrator.New(creds, sessions, res, factory, brokerClient, orchestrator.Options{
		ActivationTimeout: cfg.ActivationTimeout(),
		CommitOnTimeout:   cfg.CommitOnTimeout(),
		PendingTTL:        cfg.PendingTTL(),
	})
	sr := svcrouter.New(orch, factory.Federated(), cfg.Directory.BaseURL, cfg.DirectoryTimeout())

	// Rehidratación: restaurar la sesión persistida o disparar la
	// autenticación no interactiva que corresponda.
	if r, err := orch.Resume(ctx); err != nil {
		log.Warn("resume", zap.Error(err))
	} else {
		log.Info("resumed", zap.String("mode", string(r.Mode)))
	}

	handler := httprouter.New(httprouter.Deps{Orchestrator: orch, ServiceRouter: sr})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
}

func newCredStore(cfg *config.Config) (credstore.Store, error) {
	switch cfg.Storage.CredentialDriver {
	case "memory":
		return credstore.NewMemory(), nil
	default:
		return credstore.NewFS(cfg.Storage.FSRoot)
	}
}

func newSessionRegistry(ctx context.Context, cfg *config.Config) (sessionreg.Registry, error) {
	switch cfg.Storage.SessionDriver {
	case "memory":
		return sessionreg.NewMemory(), nil
	case "redis":
		return sessionreg.NewRedis(cfg.Storage.Redis.Addr, cfg.Storage.Redis.DB, cfg.Storage.Redis.Prefix), nil
	case "postgres":
		return sessionreg.NewPG(ctx, cfg.Storage.Postgres.DSN)
	default:
		return sessionreg.NewFS(cfg.Storage.FSRoot)
	}
}
