package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/leafsii/lp-points/internal/config"
	"github.com/leafsii/lp-points/internal/snapshot"
)

var (
	flags = flag.NewFlagSet("migrate", flag.ExitOnError)
	dir   = flags.String("dir", "", "directory with migration files (defaults to the embedded snapshot migrations)")
	dsn   = flags.String("dsn", "", "postgres DSN (defaults to PTS_POSTGRES_DSN)")
)

func main() {
	flags.Parse(os.Args[1:])
	args := flags.Args()

	if len(args) < 1 {
		log.Fatal("Usage: migrate [-dir DIR] [-dsn DSN] COMMAND\n\nCommands:\n  up\n  down\n  status\n  version")
	}

	if *dsn == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		*dsn = cfg.Storage.PostgresDSN
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := snapshot.OpenPostgres(ctx, *dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	migrations := *dir
	if migrations == "" {
		goose.SetBaseFS(snapshot.Migrations)
		migrations = snapshot.MigrationsDir
	}

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("Failed to set dialect: %v", err)
	}

	command := args[0]
	switch command {
	case "up":
		if err := goose.Up(db, migrations); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
	case "down":
		if err := goose.Down(db, migrations); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
	case "status":
		if err := goose.Status(db, migrations); err != nil {
			log.Fatalf("Migration status failed: %v", err)
		}
	case "version":
		if err := goose.Version(db, migrations); err != nil {
			log.Fatalf("Migration version failed: %v", err)
		}
	default:
		log.Fatalf("Unknown command: %s", command)
	}
}
