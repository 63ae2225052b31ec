// Command migrator applies the embedded PostgreSQL migrations for the
// postgres record store.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/dontpanicw/ProductImages/internal/adapter/repository/postgres"
	"github.com/dontpanicw/ProductImages/pkg/migrations"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	_ = godotenv.Load()

	dsn := pflag.String("dsn", os.Getenv("MASTER_DSN"), "PostgreSQL connection string")
	pflag.Parse()

	if *dsn == "" {
		slog.Error("dsn is required, pass --dsn or set MASTER_DSN")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := postgres.Open(ctx, *dsn)
	if err != nil {
		slog.Error("failed to connect to PostgreSQL", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := migrations.Migrate(db); err != nil {
		slog.Error("failed to apply migrations", "err", err)
		os.Exit(1)
	}
	slog.Info("migrations applied")
}
