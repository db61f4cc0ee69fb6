package db

import (
	"fmt"
	"strings"

	gsqlite "github.com/glebarez/sqlite"
	"github.com/smallbiznis/fintrack/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Supported DATABASE_TYPE values. "sqlite" is the pure-Go driver; "sqlite3"
// links against the cgo driver for deployments that already ship libsqlite.
const (
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
	TypeSQLite   = "sqlite"
	TypeSQLite3  = "sqlite3"
)

func Dialect(cfg config.Config) (gorm.Dialector, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	switch normalizeType(cfg.DBType) {
	case TypePostgres:
		return postgres.New(postgres.Config{DSN: dsn}), nil
	case TypeMySQL:
		return mysql.New(mysql.Config{DSN: dsn, DefaultStringSize: 255}), nil
	case TypeSQLite:
		return gsqlite.Open(dsn), nil
	default:
		return sqlite.Open(dsn), nil
	}
}

// DSN renders the connection string for the configured database type.
func DSN(cfg config.Config) (string, error) {
	switch normalizeType(cfg.DBType) {
	case TypePostgres:
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost, cfg.DBUser, quotePG(cfg.DBPassword), cfg.DBName, cfg.DBPort, cfg.DBSSLMode,
		), nil
	case TypeMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName,
		), nil
	case TypeSQLite, TypeSQLite3:
		path := strings.TrimSpace(cfg.DBPath)
		if path == "" {
			path = "fintrack.db"
		}
		if strings.Contains(path, "?") {
			return path, nil
		}
		// foreign keys are off per connection in sqlite unless asked for
		if normalizeType(cfg.DBType) == TypeSQLite3 {
			return path + "?_foreign_keys=1", nil
		}
		return path + "?_pragma=foreign_keys(1)", nil
	default:
		return "", fmt.Errorf("unsupported database type %q", cfg.DBType)
	}
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "postgresql" || t == "pg" {
		return TypePostgres
	}
	return t
}

// quotePG quotes a libpq keyword value when it is empty or holds spaces or quotes.
func quotePG(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
