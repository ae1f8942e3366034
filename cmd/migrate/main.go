package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go-pos-ledger/internal/config"
	"go-pos-ledger/internal/database"
	"go-pos-ledger/internal/logger"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	cmd := flag.String("cmd", "up", "migration command: up|up-by-one|down|redo|reset|status|version")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":    cfg.App.Env,
		"driver": cfg.DB.Driver,
		"cmd":    *cmd,
	})

	cfg.DB.AutoMigrate = false
	db, err := database.Open(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer db.Close()

	if err := database.Migrate(ctx, db, *cmd, flag.Args()...); err != nil {
		logg.Error(ctx, "migration failed", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logg.Info(ctx, "migration finished")
}

func requireResource(ctx context.Context, logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "failed to load "+name, err)
	os.Exit(1)
}
