// Command assetcache runs the offline asset cache as a forward proxy.
//
//	assetcache -config assetcache.yaml
//
// Without -config the built-in defaults apply: listen on :8080, keep the
// cache in memory, no control endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/exaado/assetcache/auth"
	"github.com/exaado/assetcache/cache"
	"github.com/exaado/assetcache/cache/boltstore"
	"github.com/exaado/assetcache/config"
	"github.com/exaado/assetcache/health"
	"github.com/exaado/assetcache/observe"
	"github.com/exaado/assetcache/resilience"
	"github.com/exaado/assetcache/server"
	"github.com/exaado/assetcache/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "assetcache: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) (err error) {
	fs := flag.NewFlagSet("assetcache", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	obs, err := observe.NewObserver(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("observer: %w", err)
	}
	log := obs.Logger()

	a, err := build(ctx, cfg, obs)
	if err != nil {
		return errors.Join(err, obs.Shutdown(context.WithoutCancel(ctx)))
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           a.handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "listening", observe.F("addr", cfg.Server.Listen), observe.F("store", cfg.Store.Path))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down")
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	return errors.Join(
		err,
		httpServer.Shutdown(shutdownCtx),
		a.close(),
		obs.Shutdown(shutdownCtx),
	)
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// app is the wired cache process minus its listener.
type app struct {
	worker  *worker.Worker
	handler http.Handler
	closers []func() error
}

func (a *app) close() error {
	var errs []error
	if a.worker != nil {
		errs = append(errs, a.worker.Close())
	}
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// build opens the store, starts the worker and assembles the HTTP handler.
func build(ctx context.Context, cfg config.Config, obs observe.Observer) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			err = errors.Join(err, a.close())
		}
	}()

	log := obs.Logger()
	metrics, err := observe.NewMetrics(obs.Meter())
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	tracer := observe.NewTracer(obs.Tracer())
	network := observe.NewMiddleware(tracer, metrics, log).WrapTransport(http.DefaultTransport)

	set, err := openStoreSet(cfg.Store)
	if err != nil {
		return nil, err
	}
	if c, ok := set.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	a.worker, err = worker.New(set,
		worker.WithNext(network),
		worker.WithLogger(log),
		worker.WithWaitForSkip(cfg.Cache.WaitForSkip),
		worker.WithTransportOptions(
			cache.WithMetrics(metrics),
			cache.WithTracer(tracer),
			cache.WithWriteLimiter(resilience.NewBulkhead(resilience.BulkheadConfig{
				MaxConcurrent: cfg.Cache.WriteConcurrency,
			})),
			cache.WithMarkResponses(cfg.Cache.MarkResponses),
		),
	)
	if err != nil {
		return nil, err
	}
	if err := a.worker.Start(ctx); err != nil {
		return nil, err
	}

	agg := health.NewAggregator()
	agg.Register(health.NewStoreChecker(health.StoreCheckerConfig{
		Store:    a.worker.Store,
		Active:   func() bool { return a.worker.State() == worker.StateActive },
		MaxItems: cache.MaxItems,
	}))

	opts := []server.Option{
		server.WithHealth(agg),
		server.WithLogger(log),
	}
	if authn := buildAuthenticator(cfg.Auth); authn != nil {
		opts = append(opts, server.WithAuth(authn, auth.NewRoleAuthorizer()))
	} else {
		log.Warn(ctx, "no control credentials configured, control endpoints disabled")
	}
	if cfg.Observe.Metrics.Enabled && cfg.Observe.Metrics.Exporter == "prometheus" {
		opts = append(opts, server.WithHandler("GET "+cfg.Server.MetricsPath, promhttp.Handler()))
	}

	a.handler, err = server.New(a.worker, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func openStoreSet(cfg config.StoreConfig) (cache.StoreSet, error) {
	if cfg.Path == "" {
		return cache.NewMemoryStoreSet(), nil
	}
	return boltstore.Open(cfg.Path, &boltstore.Options{Timeout: cfg.OpenTimeout})
}

// buildAuthenticator returns nil when no control credential is configured.
func buildAuthenticator(cfg config.AuthConfig) auth.Authenticator {
	if !cfg.ControlEnabled() {
		return nil
	}

	var authns []auth.Authenticator
	if len(cfg.APIKeys) > 0 {
		authns = append(authns, auth.NewAPIKeyAuthenticator(cfg.APIKeyHeader, cfg.APIKeys...))
	}
	if cfg.JWT.Enabled() {
		var keys auth.KeyProvider
		if cfg.JWT.Secret != "" {
			keys = auth.NewStaticKeyProvider([]byte(cfg.JWT.Secret))
		} else {
			keys = auth.NewJWKSKeyProvider(auth.JWKSConfig{URL: cfg.JWT.JWKSURL})
		}
		authns = append(authns, auth.NewJWTAuthenticator(auth.JWTConfig{
			Issuer:     cfg.JWT.Issuer,
			Audience:   cfg.JWT.Audience,
			RolesClaim: cfg.JWT.RolesClaim,
			Leeway:     cfg.JWT.Leeway,
		}, keys))
	}
	return auth.NewCompositeAuthenticator(authns...)
}
