package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"tollgate.dev/internal/auth"
	"tollgate.dev/internal/migrate"
	"tollgate.dev/internal/obs"
	"tollgate.dev/internal/store/pg"
)

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func main() {
	var (
		dsn           = pflag.String("dsn", os.Getenv("TOLLGATE_STORE_DSN"), "PostgreSQL DSN")
		table         = pflag.String("table", "schema_migrations", "Migration bookkeeping table")
		adminUsername = pflag.String("admin-username", envOr("TOLLGATE_SEED_ADMIN_USERNAME", "admin"), "Admin account created by seed (empty skips it)")
		adminEmail    = pflag.String("admin-email", envOr("TOLLGATE_SEED_ADMIN_EMAIL", "admin@example.com"), "Admin email used by seed")
		bcryptCost    = pflag.Int("bcrypt-cost", 10, "bcrypt cost for the seeded admin password")
	)
	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [flags] up|down|status|seed")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	logger := obs.Logger()
	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	if *dsn == "" {
		fail("missing DSN: provide via --dsn or TOLLGATE_STORE_DSN")
	}
	if pflag.NArg() == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		fail("open db", "error", err)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), nil, migrate.WithMigrationsTable(*table))

	switch cmd := pflag.Arg(0); cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		if err != nil {
			fail("migrate up", "error", err)
		}
		for _, name := range applied {
			fmt.Println("applied", name)
		}
	case "down":
		name, err := mgr.Down(ctx)
		if err != nil {
			fail("migrate down", "error", err)
		}
		fmt.Println("rolled back", name)
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			fail("migrate status", "error", err)
		}
		for _, item := range history {
			fmt.Println(item)
		}
		pending, err := mgr.Pending(ctx)
		if err != nil {
			fail("migrate status", "error", err)
		}
		for _, item := range pending {
			fmt.Println("pending", item)
		}
	case "seed":
		password := os.Getenv("TOLLGATE_SEED_ADMIN_PASSWORD")
		if password == "" && *adminUsername != "" {
			logger.Warn("TOLLGATE_SEED_ADMIN_PASSWORD not set, skipping admin account")
			*adminUsername = ""
		}
		res, err := auth.Seed(ctx, store, auth.NewBcryptHasher(*bcryptCost), auth.SeedConfig{
			AdminUsername: *adminUsername,
			AdminEmail:    *adminEmail,
			AdminPassword: password,
		}, logger)
		if err != nil {
			fail("seed", "error", err)
		}
		fmt.Printf("seeded %d permissions, %d roles, %d grants, admin created: %v\n",
			res.Permissions, res.Roles, res.Grants, res.Admin)
	default:
		fail("unknown command", "command", cmd)
	}
}
