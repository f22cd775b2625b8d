package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/demo"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "STOREFRONT_POSTGRES_DSN"
)

type direction string

const (
	directionUp     direction = "up"
	directionDown   direction = "down"
	directionStatus direction = "status"
)

type config struct {
	direction direction
	steps     int
	dsn       string
	seedDemo  bool
	timeout   time.Duration
}

// migrator: то, что CLI нужно от *postgres.Store.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
}

type productUpserter interface {
	Upsert(ctx context.Context, product domain.Product) error
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, cfg.dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	if err := run(ctx, cfg, store, postgres.NewCatalog(store), os.Stdout); err != nil {
		fail("%v", err)
	}
}

// parseConfig разбирает флаги; DSN берётся из окружения, если флаг пуст.
// Направление проверяется до подключения к базе.
func parseConfig(fs *flag.FlagSet, args []string, lookup func(string) (string, bool)) (config, error) {
	var (
		cfg config
		raw string
	)
	fs.StringVar(&raw, "direction", string(directionUp), "migration direction: up|down|status")
	fs.IntVar(&cfg.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&cfg.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	fs.BoolVar(&cfg.seedDemo, "seed-demo", false, "upsert the demo catalog after migrating up")
	fs.DurationVar(&cfg.timeout, "timeout", defaultTimeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	switch d := direction(strings.ToLower(strings.TrimSpace(raw))); d {
	case directionUp, directionDown, directionStatus:
		cfg.direction = d
	default:
		return config{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", raw)
	}
	if cfg.steps < 0 {
		return config{}, errors.New("steps must be non-negative")
	}
	if cfg.seedDemo && cfg.direction != directionUp {
		return config{}, errors.New("-seed-demo is only allowed with -direction=up")
	}
	if cfg.timeout <= 0 {
		cfg.timeout = defaultTimeout
	}

	cfg.dsn = strings.TrimSpace(cfg.dsn)
	if cfg.dsn == "" {
		if value, ok := lookup(envPostgresDSN); ok {
			cfg.dsn = strings.TrimSpace(value)
		}
	}
	if cfg.dsn == "" {
		return config{}, fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config, m migrator, catalog productUpserter, w io.Writer) error {
	prefix := "migration status"
	switch cfg.direction {
	case directionUp:
		if err := m.MigrateUp(ctx, cfg.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		prefix = "migrate up ok"
	case directionDown:
		if err := m.MigrateDown(ctx, max(cfg.steps, 1)); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		prefix = "migrate down ok"
	}

	state, err := m.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, _ = fmt.Fprintln(w, formatState(prefix, state))

	if !cfg.seedDemo {
		return nil
	}
	products := demo.Products()
	for _, product := range products {
		if err := catalog.Upsert(ctx, product); err != nil {
			return fmt.Errorf("seed product %s: %w", product.ID, err)
		}
	}
	_, _ = fmt.Fprintf(w, "demo catalog seeded: products=%d\n", len(products))
	return nil
}

func formatState(prefix string, state postgres.MigrationState) string {
	return fmt.Sprintf("%s: version=%d applied=%d pending=%d", prefix, state.Version, state.Applied, state.Pending())
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
