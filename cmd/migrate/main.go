package main

import (
	"MetLev/internal/amm"
	"MetLev/internal/config"
	"MetLev/internal/core"
	"MetLev/internal/persistence"
	"MetLev/internal/projection"
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sort"

	_ "github.com/lib/pq"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|status|rebuild-projections>")
		fmt.Println("  up                  - apply all pending migrations")
		fmt.Println("  down                - roll back the last migration")
		fmt.Println("  status              - list migrations and whether each is applied")
		fmt.Println("  rebuild-projections - rebuild the read models from the event log (service stopped)")
		fmt.Println()
		fmt.Println("Environment (also read from .env):")
		fmt.Println("  METLEV_POSTGRES_DSN    - Postgres connection string")
		fmt.Println("  METLEV_MIGRATIONS_DIR  - migrations directory (default: embedded schema)")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatalf("FATAL: open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db)
	if cfg.MigrationsDir != "" {
		migrator = persistence.NewDirMigrator(db, cfg.MigrationsDir)
	}

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			log.Fatalf("FATAL: migrate up: %v", err)
		}
		log.Println("INFO: all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatalf("FATAL: migrate down: %v", err)
		}
		log.Println("INFO: last migration rolled back")

	case "status":
		status, err := migrator.Status(ctx)
		if err != nil {
			log.Fatalf("FATAL: migrate status: %v", err)
		}
		files := make([]string, 0, len(status))
		for f := range status {
			files = append(files, f)
		}
		sort.Strings(files)
		for _, f := range files {
			mark := "pending"
			if status[f] {
				mark = "applied"
			}
			fmt.Printf("%-8s %s\n", mark, f)
		}

	case "rebuild-projections":
		coreCfg := core.DefaultConfig()
		coreCfg.LRUCapacity = cfg.IdempotencyLRUCapacity
		coreCfg.Policy = cfg.Policy
		err := projection.Rebuild(ctx, db, func(out chan<- core.CoreOutput) *core.DeterministicCore {
			return core.NewDeterministicCore(coreCfg, amm.NewSimulator(cfg.AMM), nil, out, nil, nil, nil)
		})
		if err != nil {
			log.Fatalf("FATAL: rebuild projections: %v", err)
		}
		log.Println("INFO: read models rebuilt")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down', 'status' or 'rebuild-projections')\n", os.Args[1])
		os.Exit(1)
	}
}
