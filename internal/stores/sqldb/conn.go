package sqldb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"poolwatch/internal/config"

	alog "gitlab.com/nevasik7/alerting/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

type DB struct {
	Gorm    *gorm.DB
	Dialect string
}

// Open connects to postgres when a DSN is configured, otherwise to the embedded sqlite file
func Open(ctx context.Context, log alog.Logger, cfg *config.DatabaseConfig) (*DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config cannot be nil")
	}

	gormCfg := &gorm.Config{
		Logger: glog.New(printfWriter{log: log}, glog.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  glog.Error,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
	}

	var (
		dialector gorm.Dialector
		dialect   string
	)

	if cfg.DSN != "" {
		dialector = postgres.Open(cfg.DSN)
		dialect = DialectPostgres
	} else {
		dir := filepath.Dir(cfg.SQLitePath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dialector = sqlite.Open(cfg.SQLitePath + "?_busy_timeout=5000&_journal_mode=WAL")
		dialect = DialectSQLite
	}

	gdb, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed open %s database, error=%w", dialect, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed get sql.DB, error=%w", err)
	}

	switch dialect {
	case DialectSQLite:
		// single writer, concurrent batches queue on the connection instead of failing with SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	default:
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err = sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed ping %s database, error=%w", dialect, err)
	}

	db := &DB{Gorm: gdb, Dialect: dialect}

	// a fresh embedded file has no schema, so sqlite always migrates
	if cfg.RunMigrations || dialect == DialectSQLite {
		if err = db.Migrate(ctx); err != nil {
			return nil, err
		}
		log.Infof("Successfully applied %s schema migrations", dialect)
	}

	return db, nil
}

func (d *DB) Migrate(ctx context.Context) error {
	if err := d.Gorm.WithContext(ctx).AutoMigrate(
		&v2PairRow{},
		&v3PoolRow{},
		&v2SwapRow{},
		&v3SwapRow{},
		&postedActivityRow{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.Gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (d *DB) Close() error {
	sqlDB, err := d.Gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// routes gorm's own log lines into the service logger
type printfWriter struct {
	log alog.Logger
}

func (w printfWriter) Printf(format string, args ...interface{}) {
	w.log.Warnf(format, args...)
}
