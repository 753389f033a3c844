// Command server runs the subscription reconciliation API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/subsync/internal/db/migrations"
	"github.com/dmitrymomot/subsync/modules/billing"
	"github.com/dmitrymomot/subsync/pkg/clientip"
	"github.com/dmitrymomot/subsync/pkg/config"
	"github.com/dmitrymomot/subsync/pkg/email"
	"github.com/dmitrymomot/subsync/pkg/environment"
	"github.com/dmitrymomot/subsync/pkg/httpserver"
	"github.com/dmitrymomot/subsync/pkg/jwt"
	"github.com/dmitrymomot/subsync/pkg/logger"
	"github.com/dmitrymomot/subsync/pkg/pg"
	"github.com/dmitrymomot/subsync/pkg/redis"
	"github.com/dmitrymomot/subsync/pkg/requestid"
	"github.com/dmitrymomot/subsync/pkg/subscription"
)

type appConfig struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"` // postgres or memory
	EmailDevDir string `env:"EMAIL_DEV_DIR" envDefault:"./tmp/emails"`
	TrustProxy  bool   `env:"TRUST_PROXY" envDefault:"false"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("server exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var app appConfig
	config.MustLoad(&app)
	env := environment.Parse(app.Env)

	var logCfg logger.Config
	config.MustLoad(&logCfg)
	logOpts, err := logger.FromConfig(logCfg)
	if err != nil {
		return err
	}
	log := logger.New(append(logOpts, logger.WithContextExtractors(
		requestid.LoggerExtractor(),
		environment.LoggerExtractor(),
		clientip.LoggerExtractor(),
	))...)
	slog.SetDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := subscription.NewMetrics(reg)

	var probes []httpserver.Probe

	store, probe, closeStore, err := openStore(ctx, app, log)
	if err != nil {
		return err
	}
	defer closeStore()
	if probe != nil {
		probes = append(probes, *probe)
	}

	var checkoutCfg subscription.CheckoutConfig
	config.MustLoad(&checkoutCfg)

	var redisCfg redis.Config
	config.MustLoad(&redisCfg)

	var cache subscription.CheckoutCache = subscription.NewMemoryCheckoutCache(checkoutCfg.CacheTTL)
	if redisCfg.Enabled() {
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer client.Close()
		cache = subscription.NewRedisCheckoutCache(client, checkoutCfg.CacheTTL)
		probes = append(probes, httpserver.Probe{Name: "redis", Check: redis.Healthcheck(client)})
	}

	var (
		subCfg    subscription.Config
		stripeCfg subscription.StripeConfig
		paddleCfg subscription.PaddleConfig
	)
	config.MustLoad(&subCfg)
	switch strings.ToLower(subCfg.Provider) {
	case "paddle":
		config.MustLoad(&paddleCfg)
	default:
		config.MustLoad(&stripeCfg)
	}
	provider, catalog, err := subscription.NewProvider(subCfg, stripeCfg, paddleCfg)
	if err != nil {
		return err
	}

	sender, err := newSender(app, env)
	if err != nil {
		return err
	}

	svc := subscription.NewService(store, catalog, provider,
		subscription.WithLogger(log),
		subscription.WithMetrics(metrics),
		subscription.WithCheckoutInitiator(subscription.NewCheckoutInitiator(provider, catalog, checkoutCfg,
			subscription.WithCheckoutCache(cache),
			subscription.WithCheckoutLogger(log),
			subscription.WithCheckoutMetrics(metrics),
		)),
		subscription.WithVerifier(subscription.NewVerifier(store,
			subscription.WithVerifyPolicy(subCfg.VerifyAttempts, subCfg.VerifyDelay),
			subscription.WithVerifierLogger(log),
			subscription.WithVerifierMetrics(metrics),
		)),
		subscription.WithNotifier(subscription.NewNotifier(sender,
			subscription.WithNotifyTimeout(subCfg.NotifyTimeout),
			subscription.WithNotifierLogger(log),
			subscription.WithNotifierMetrics(metrics),
		)),
	)

	var jwtCfg jwt.Config
	config.MustLoad(&jwtCfg)
	sessions, err := jwt.New(jwtCfg)
	if err != nil {
		return err
	}

	var httpCfg httpserver.Config
	config.MustLoad(&httpCfg)

	r := chi.NewRouter()
	r.Use(requestid.Middleware, clientip.Middleware(app.TrustProxy), environment.Middleware(env))
	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(log, httpCfg.ProbeTimeout, probes...))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Mount("/", billing.Router(billing.RouterOptions{
		Handlers: billing.NewHandlers(svc, log),
		Sessions: sessions,
	}))

	log.InfoContext(ctx, "starting subsync",
		logger.Provider(provider.Name()),
		slog.String("store", app.StoreDriver),
		slog.Bool("redis", redisCfg.Enabled()),
	)
	return httpserver.New(httpCfg, log).Run(ctx, r)
}

// openStore returns the configured Store, its readiness probe (nil for the
// memory store) and its cleanup.
func openStore(ctx context.Context, app appConfig, log *slog.Logger) (subscription.Store, *httpserver.Probe, func(), error) {
	switch app.StoreDriver {
	case "memory":
		log.WarnContext(ctx, "using in-memory subscription store; state is lost on restart")
		return subscription.NewMemoryStore(), nil, func() {}, nil
	case "postgres", "":
	default:
		return nil, nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", app.StoreDriver)
	}

	var pgCfg pg.Config
	config.MustLoad(&pgCfg)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if !pgCfg.SkipMigrations {
		if err := pg.Migrate(ctx, pool, pgCfg, log, migrations.FS); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
	}
	probe := &httpserver.Probe{Name: "postgres", Check: pg.Healthcheck(pool)}
	return subscription.NewPostgresStore(pool, pgCfg.QueryTimeout), probe, pool.Close, nil
}

// newSender delivers through Postmark when a server token is configured and
// writes emails to disk otherwise. Production refuses to run without Postmark.
func newSender(app appConfig, env environment.Environment) (email.Sender, error) {
	var cfg email.Config
	config.MustLoad(&cfg)

	if cfg.PostmarkServerToken != "" {
		s, err := email.NewPostmarkSender(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	if env.IsProduction() {
		return nil, errors.New("POSTMARK_SERVER_TOKEN is required in production")
	}
	return email.NewDevSender(app.EmailDevDir), nil
}
