package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"finlink/internal/domain/institution"
	"finlink/internal/infrastructure/nametier"
	"finlink/internal/infrastructure/openfinance"
	"finlink/internal/models"
	"finlink/internal/shared/config"
	"finlink/internal/shared/logger"
)

const usage = `finlink admin - maintenance commands for the institution name cache

Usage:
  admin <command> [options]

Commands:
  migrate        Create the institutions table and its notify trigger (postgres backend)
  institutions   List every name stored in the shared cache tier
  resolve        Look up institution ids and store the names in the shared tier

Examples:
  # Prefill the shared tier before a rollout
  admin resolve --ids=ins_1,ins_3,ins_109508

  # Inspect the Redis tier
  INSTITUTION_CACHE=redis admin institutions
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	_ = godotenv.Load()

	var err error
	switch command := os.Args[1]; command {
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "institutions":
		err = runInstitutions(os.Args[2:])
	case "resolve":
		err = runResolve(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup(timeout time.Duration) (context.Context, context.CancelFunc, *config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: "console", Service: "finlink-admin"})
	if err != nil {
		return nil, nil, nil, zerolog.Nop(), err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return ctx, cancel, cfg, log, nil
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	timeout := fs.Duration("timeout", 30*time.Second, "Timeout for the operation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel, cfg, log, err := setup(*timeout)
	if err != nil {
		return err
	}
	defer cancel()

	if cfg.Cache.Backend != config.CachePostgres {
		return fmt.Errorf("migrate needs INSTITUTION_CACHE=postgres, got %q", cfg.Cache.Backend)
	}
	// Open runs the schema statements for the postgres backend.
	tier, err := nametier.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer tier.Close()

	log.Info().Msg("institutions schema is up to date")
	return nil
}

func runInstitutions(args []string) error {
	fs := flag.NewFlagSet("institutions", flag.ExitOnError)
	timeout := fs.Duration("timeout", 30*time.Second, "Timeout for the operation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel, cfg, _, err := setup(*timeout)
	if err != nil {
		return err
	}
	defer cancel()

	tier, err := nametier.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer tier.Close()

	names, err := tier.All(ctx)
	if err != nil {
		return err
	}
	printInstitutions(tier.Backend, names)
	return nil
}

func runResolve(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	ids := fs.String("ids", "", "Institution ids to resolve (comma-separated)")
	timeout := fs.Duration("timeout", 5*time.Minute, "Timeout for the operation")
	fs.Usage = func() {
		fmt.Println("Usage: admin resolve --ids=<id,id,...> [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	summaries := summariesFor(*ids)
	if len(summaries) == 0 {
		fs.Usage()
		return fmt.Errorf("no institution ids given")
	}

	ctx, cancel, cfg, log, err := setup(*timeout)
	if err != nil {
		return err
	}
	defer cancel()

	tier, err := nametier.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer tier.Close()

	cache := institution.NewLayeredCache(tier.Cache, log)
	resolver := institution.NewResolver(
		openfinance.NewClient(cfg.Upstream.ProviderURL, cfg.Upstream.Timeout),
		cache,
		institution.WithLookupTimeout(cfg.Engine.LookupTimeout),
		institution.WithLogger(log),
	)

	start := time.Now()
	names, err := resolver.Resolve(ctx, summaries)
	if err != nil {
		return err
	}
	log.Info().Int("resolved", len(names)).Int("requested", len(summaries)).Dur("elapsed", time.Since(start)).Msg("resolve finished")

	printInstitutions(tier.Backend, names)
	for _, s := range summaries {
		if _, ok := names[s.InstitutionID]; !ok {
			fmt.Printf("  %-24s (unresolved)\n", s.InstitutionID)
		}
	}
	return nil
}

// summariesFor turns an id list into catalog entries the resolver accepts.
func summariesFor(list string) []models.AccountSummary {
	var out []models.AccountSummary
	for _, id := range strings.Split(list, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, models.AccountSummary{ID: id, LinkItemID: id, InstitutionID: id})
		}
	}
	return out
}

func printInstitutions(backend string, names map[string]string) {
	ids := make([]string, 0, len(names))
	for id := range names {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("\n=== %s tier: %d institution(s) ===\n", backend, len(ids))
	for _, id := range ids {
		fmt.Printf("  %-24s %s\n", id, names[id])
	}
}
