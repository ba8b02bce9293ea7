package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"tollgate.dev/internal/auth"
	"tollgate.dev/internal/config"
	"tollgate.dev/internal/httpapi"
	"tollgate.dev/internal/obs"
	"tollgate.dev/internal/store/memory"
	"tollgate.dev/internal/store/pg"
	"tollgate.dev/internal/store/redisledger"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "Path to YAML config (defaults to $TOLLGATE_CONFIG)")
		addr       = pflag.String("addr", "", "Listen address, overrides http.addr")
	)
	pflag.Parse()

	if err := run(*configPath, *addr); err != nil {
		obs.Logger().Error("tollgate-api failed", "error", err)
		os.Exit(1)
	}
}

type backends struct {
	rbac    auth.RBACStore
	ledger  auth.LedgerStore
	checks  map[string]httpapi.Pinger
	closers []func() error
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

func openBackends(cfg *config.Config) (*backends, error) {
	b := &backends{checks: make(map[string]httpapi.Pinger)}

	var pgStore *pg.Store
	if cfg.Store.Driver == "postgres" || cfg.Ledger.Driver == "postgres" {
		s, err := pg.Open(cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		pgStore = s
		b.checks["postgres"] = s
		b.closers = append(b.closers, s.Close)
	}

	var mem *memory.Store
	memStore := func() *memory.Store {
		if mem == nil {
			mem = memory.New()
			b.checks["memory"] = mem
		}
		return mem
	}

	switch cfg.Store.Driver {
	case "postgres":
		b.rbac = pgStore
	default:
		b.rbac = memStore()
	}

	switch cfg.Ledger.Driver {
	case "postgres":
		b.ledger = pgStore
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Ledger.Redis.Addr,
			Password: cfg.Ledger.Redis.Password,
			DB:       cfg.Ledger.Redis.DB,
		})
		rs := redisledger.New(rdb, cfg.Ledger.Redis.Prefix)
		b.ledger = rs
		b.checks["redis"] = rs
		b.closers = append(b.closers, rdb.Close)
	default:
		b.ledger = memStore()
	}
	return b, nil
}

func run(configPath, addr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTP.Addr = addr
	}
	if err := obs.SetLevel(cfg.Log.Level); err != nil {
		return err
	}
	logger := obs.Logger()
	obs.Init()
	obs.InitBuildInfo(version, commit)

	b, err := openBackends(cfg)
	if err != nil {
		return err
	}
	defer b.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	if cfg.Seed.Enabled {
		res, err := auth.Seed(ctx, b.rbac, hasher, auth.SeedConfig{
			AdminUsername: cfg.Seed.AdminUsername,
			AdminEmail:    cfg.Seed.AdminEmail,
			AdminPassword: cfg.Seed.AdminPassword,
		}, logger)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		logger.Info("seed complete", "permissions", res.Permissions, "roles", res.Roles, "grants", res.Grants, "admin", res.Admin)
	}

	codec, err := auth.NewCodec([]byte(cfg.Auth.Secret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
	)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(b.rbac, b.ledger, codec,
		auth.WithHasher(hasher),
		auth.WithDefaultRole(cfg.Auth.DefaultRole),
		auth.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	rbac, err := auth.NewRBACService(b.rbac, hasher)
	if err != nil {
		return err
	}
	api, err := httpapi.New(svc, rbac,
		httpapi.WithVersion(version),
		httpapi.WithReadyProbe(httpapi.ReadyProbe{Checks: b.checks}),
		httpapi.WithRateLimit(cfg.HTTP.RateLimit.Burst, cfg.HTTP.RateLimit.PerSecond),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	)
	if err != nil {
		return err
	}

	go sweepLoop(ctx, svc.Ledger(), cfg.Ledger.SweepInterval, logger)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting tollgate-api", "version", version, "addr", srv.Addr,
			"store", cfg.Store.Driver, "ledger", cfg.Ledger.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}

// sweepLoop reclaims ledger records whose tokens expired on their own.
func sweepLoop(ctx context.Context, ledger *auth.Ledger, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := ledger.Sweep(ctx)
			if err != nil {
				logger.Warn("ledger sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("ledger sweep", "deleted", n)
			}
		}
	}
}
