package database

import (
	"context"
	"embed"
	"fmt"
	"path"

	"go-pos-ledger/internal/config"

	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate runs a goose command ("up", "down", "status", ...) against the
// embedded migrations for the client's dialect. SQLite has no versioned
// migrations and is synced with AutoMigrate instead.
func Migrate(ctx context.Context, c *Client, command string, args ...string) error {
	if c == nil {
		return fmt.Errorf("db client is required")
	}
	if c.driver == config.DriverSQLite {
		if command != "up" {
			return fmt.Errorf("sqlite only supports %q", "up")
		}
		return AutoMigrate(ctx, c.conn)
	}

	sqlDB, err := c.conn.DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(c.driver); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	dir := path.Join("migrations", c.driver)
	if err := goose.RunContext(ctx, command, sqlDB, dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}
