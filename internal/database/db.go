package database

import (
	"context"
	"database/sql"
	"fmt"
	stdlog "log"
	"time"

	"go-pos-ledger/internal/config"
	"go-pos-ledger/internal/logger"
	"go-pos-ledger/internal/models"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Client wraps the shared GORM connection.
type Client struct {
	conn   *gorm.DB
	driver string
}

// Open connects with the configured driver, waiting for the database to come up.
func Open(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	dialector, err := dialectorFor(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	attempts := cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	var conn *gorm.DB
	for i := 0; i < attempts; i++ {
		conn, err = gorm.Open(dialector, gormConfigFor(cfg, logg))
		if err == nil {
			break
		}
		logg.Warn(ctx, fmt.Sprintf("database not ready, retrying (%d/%d)", i+1, attempts), err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.ConnectBackoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("opening db connection after %d attempts: %w", attempts, err)
	}

	client := &Client{conn: conn, driver: cfg.Driver}
	if err := client.applyPoolSettings(cfg); err != nil {
		return nil, err
	}
	logg.Info(ctx, "database connection established")

	if cfg.AutoMigrate {
		if err := AutoMigrate(ctx, conn); err != nil {
			return nil, err
		}
		logg.Info(ctx, "database schema synced")
	}
	return client, nil
}

// OpenSQLite opens a migrated SQLite database. Used by the dev profile and tests.
func OpenSQLite(dsn string) (*Client, error) {
	conn, err := gorm.Open(sqlite.Open(dsn), gormConfig(gormlogger.Silent))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	client := &Client{conn: conn, driver: config.DriverSQLite}
	if err := client.applyPoolSettings(config.DBConfig{}); err != nil {
		return nil, err
	}
	if err := AutoMigrate(context.Background(), conn); err != nil {
		return nil, err
	}
	return client, nil
}

// MemoryDSN names a private in-memory SQLite database with foreign keys on.
func MemoryDSN(name string) string {
	return fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_foreign_keys=1", name, uuid.NewString())
}

func AutoMigrate(ctx context.Context, conn *gorm.DB) error {
	if err := conn.WithContext(ctx).AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto-migrating schema: %w", err)
	}
	return nil
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case config.DriverMySQL:
		return mysql.Open(dsn), nil
	case config.DriverPostgres:
		return postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true}), nil
	case config.DriverSQLite:
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

// gormConfigFor routes SQL logging through zerolog when LogSQL is set.
func gormConfigFor(cfg config.DBConfig, logg *logger.Logger) *gorm.Config {
	if !cfg.LogSQL || logg == nil {
		return gormConfig(gormlogger.Silent)
	}
	gc := gormConfig(gormlogger.Info)
	gc.Logger = gormlogger.New(stdlog.New(logg.Zerolog(), "", 0), gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Info,
		IgnoreRecordNotFoundError: true,
	})
	return gc
}

func gormConfig(level gormlogger.LogLevel) *gorm.Config {
	return &gorm.Config{
		Logger:         gormlogger.Default.LogMode(level),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (c *Client) applyPoolSettings(cfg config.DBConfig) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return fmt.Errorf("getting sql db handle: %w", err)
	}
	if c.driver == config.DriverSQLite {
		// SQLite allows one writer; a single pooled connection serializes
		// transactions instead of failing them with SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
		return nil
	}
	applyLimits(sqlDB, cfg)
	return nil
}

func applyLimits(sqlDB *sql.DB, cfg config.DBConfig) {
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// DB returns the underlying GORM connection.
func (c *Client) DB() *gorm.DB {
	return c.conn
}

func (c *Client) Driver() string {
	return c.driver
}

// WithContext returns a session bound to ctx.
func (c *Client) WithContext(ctx context.Context) *gorm.DB {
	return c.conn.WithContext(ctx)
}

// WithTx runs fn inside one transaction: commit when fn returns nil,
// rollback when it returns an error or panics.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := c.conn.WithContext(ctx).Begin()
	if tx.Error != nil {
		return Classify(tx.Error, "begin transaction")
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return Classify(err, "transaction")
	}

	if err := tx.Commit().Error; err != nil {
		return Classify(err, "commit transaction")
	}
	return nil
}

// Ping verifies the datasource is reachable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
