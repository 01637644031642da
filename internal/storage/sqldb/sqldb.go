package sqldb

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/goodtune/dwelltime/internal/config"
	"github.com/goodtune/dwelltime/internal/storage"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Store implements the storage.Store interface using gorm.
type Store struct {
	db        *gorm.DB
	durations *durationStore
	apiKeys   *apiKeyStore
}

// Open connects to the database named by cfg.DSN and migrates the schema.
func Open(cfg config.StorageConfig, logger zerolog.Logger) (*Store, error) {
	dial, isSQLite := getDialector(cfg.DSN)
	if isSQLite {
		if err := ensureSQLiteDir(cfg.DSN); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger:         newLogger(logger, config.Duration(cfg.SlowThreshold, 200*time.Millisecond)),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if isSQLite {
		// A single connection serialises writers and keeps in-memory
		// databases alive for the lifetime of the store.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(config.Duration(cfg.ConnMaxLifetime, time.Hour))
	}

	store := New(db)
	if err := store.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return store, nil
}

// New wraps an existing gorm handle without migrating it.
func New(db *gorm.DB) *Store {
	locking := db.Dialector.Name() != "sqlite"
	return &Store{
		db:        db,
		durations: &durationStore{db: db, locking: locking},
		apiKeys:   &apiKeyStore{db: db},
	}
}

// Migrate creates or updates tables and indexes.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&personDuration{}, &detail{}, &apiKey{}); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Durations returns the duration store.
func (s *Store) Durations() storage.DurationStore { return s.durations }

// APIKeys returns the API key store.
func (s *Store) APIKeys() storage.APIKeyStore { return s.apiKeys }

// getDialector returns the dialector for dsn and whether it is sqlite.
func getDialector(dsn string) (gorm.Dialector, bool) {
	switch {
	case strings.HasPrefix(dsn, "postgres"):
		return postgres.New(postgres.Config{
			DriverName: "pgx",
			DSN:        dsn,
		}), false
	case strings.HasPrefix(dsn, "mysql://"):
		return mysql.Open(strings.TrimPrefix(dsn, "mysql://")), false
	default:
		return sqlite.Open(dsn), true
	}
}

// ensureSQLiteDir creates the parent directory of a plain sqlite file path.
func ensureSQLiteDir(dsn string) error {
	if strings.HasPrefix(dsn, "file:") || strings.HasPrefix(dsn, ":memory:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return storage.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return storage.ErrConflict
	default:
		return err
	}
}

// isUniqueViolation catches drivers that do not implement gorm's error
// translator.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
