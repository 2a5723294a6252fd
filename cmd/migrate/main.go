package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"repairpos/backend/internal/config"
	"repairpos/backend/internal/logger"
	pgstore "repairpos/backend/internal/store/postgres"
)

type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
}

var errUsage = errors.New("usage")

func main() {
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{Level: *logLevel, Format: "console", Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		log.Fatal("failed to ping database", zap.Error(err))
	}

	m, err := pgstore.NewMigrator(db, log)
	if err != nil {
		_ = db.Close()
		log.Fatal("failed to create migrator", zap.Error(err))
	}
	defer func() { _ = m.Close() }()

	if err := run(m, args, log); err != nil {
		if errors.Is(err, errUsage) {
			printUsage()
		}
		log.Error("migration command failed", zap.String("command", args[0]), zap.Error(err))
		os.Exit(1)
	}
}

func run(m migrator, args []string, log *zap.Logger) error {
	switch args[0] {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "step":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		return m.Steps(n)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		log.Info("current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	case "force":
		version, err := intArg(args)
		if err != nil {
			return err
		}
		log.Warn("forcing migration version", zap.Int("version", version))
		return m.Force(version)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func intArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%w: %s needs a number", errUsage, args[0])
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("%w: invalid number %q", errUsage, args[1])
	}
	return n, nil
}

func printUsage() {
	fmt.Println(`Repair shop database migrations

Usage:
  migrate [-log-level level] <command> [argument]

Commands:
  up                Apply all pending migrations
  down              Roll back all migrations
  step <n>          Apply n migrations (negative rolls back)
  version           Show current migration version
  force <version>   Force set migration version

Environment:
  DATABASE_URL`)
}
