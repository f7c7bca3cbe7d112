package cache

import (
	"fmt"
	"log/slog"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Driver names accepted in the service configuration.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Options describes how to open the store.
type Options struct {
	Driver   string // DriverMySQL or DriverSQLite
	Database string // database name (mysql) or file path (sqlite)
	Host     string // mysql only
	Username string // mysql only
	Password string // mysql only

	// ConfigWiki is the ID of the configuration wiki. The store guarantees
	// it and the platform-global "www" wiki are always present.
	ConfigWiki string
}

// Store is the relational cache behind the notification pipeline. All
// mutation flows through its methods; multi-row mutations run inside
// explicit transactions.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	name   string
	opts   Options

	// now supplies the wall clock, overridable in tests. It seeds the
	// base watermark for users seen for the first time.
	now func() int64
}

// Open connects to the configured database. The schema is not touched;
// call ApplyMigrations before using the store.
func Open(opts Options, logger *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case DriverMySQL:
		dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&charset=utf8mb4",
			opts.Username, opts.Password, opts.Host, opts.Database)
		dialector = mysql.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(opts.Database)
	default:
		return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if opts.Driver == DriverSQLite {
		db.Exec("PRAGMA foreign_keys=ON;")
		db.Exec("PRAGMA busy_timeout=5000;")
	}

	logger.Info("Database opened", "driver", opts.Driver, "database", opts.Database)

	return &Store{
		db:     db,
		logger: logger,
		name:   opts.Database,
		opts:   opts,
		now:    func() int64 { return time.Now().Unix() },
	}, nil
}

// SetClock overrides the store's wall clock. Tests use this to pin the
// base watermark assigned to newly seen users.
func (s *Store) SetClock(now func() int64) { s.now = now }

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
