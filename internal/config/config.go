package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// DefaultTimeZone is the zone the collector ran in. Calendar fields are
// always computed in a named zone, never the host's.
const DefaultTimeZone = "America/New_York"

type Config struct {
	DBDriver    string // postgres | sqlite | mysql
	DatabaseURL string
	DataDir     string
	Location    *time.Location

	ProgressEvery int

	MetricsAddr    string
	PushgatewayURL string

	NATSURL           string
	NATSSubjectPrefix string

	StagingBucket    string
	StagingPrefix    string
	StagingEndpoint  string
	StagingRegion    string
	StagingAnonymous bool
	StagingDest      string

	ListenAddr  string
	CORSOrigins []string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.DBDriver = strings.ToLower(getenvDefault("DB_DRIVER", "postgres"))
	switch cfg.DBDriver {
	case "postgres", "postgresql", "pgx":
		cfg.DBDriver = "postgres"
		dsn, err := postgresDSN()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
	case "sqlite", "sqlite3":
		cfg.DBDriver = "sqlite"
		cfg.DatabaseURL = getenvDefault("SQLITE_DATABASE", "google_maps.db")
	case "mysql", "mariadb":
		cfg.DBDriver = "mysql"
		cfg.DatabaseURL = mysqlDSN()
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER: %q", cfg.DBDriver)
	}

	cfg.DataDir = getenvDefault("DATA_DIR", "data")

	if v := os.Getenv("PROGRESS_EVERY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid PROGRESS_EVERY: %q", v)
		}
		cfg.ProgressEvery = n
	} else {
		cfg.ProgressEvery = 50
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.PushgatewayURL = os.Getenv("PUSHGATEWAY_URL")

	// Empty NATS_URL disables event publishing.
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "transit")

	cfg.StagingBucket = getenvDefault("STAGING_BUCKET", "g-maps")
	cfg.StagingPrefix = getenvDefault("STAGING_PREFIX", "data")
	cfg.StagingEndpoint = os.Getenv("STAGING_ENDPOINT")
	cfg.StagingRegion = getenvDefault("STAGING_REGION", "us-east-1")
	cfg.StagingDest = getenvDefault("STAGING_DEST", ".")
	cfg.StagingAnonymous = os.Getenv("AWS_ACCESS_KEY_ID") == "" && os.Getenv("AWS_PROFILE") == ""
	if v := os.Getenv("STAGING_ANONYMOUS"); v != "" {
		cfg.StagingAnonymous = parseBool(v)
	}

	cfg.ListenAddr = getenvDefault("LISTEN_ADDR", ":8081")
	for _, o := range strings.Split(getenvDefault("CORS_ORIGINS", "*"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	// Time zone
	loc, err := time.LoadLocation(getenvDefault("TZ", DefaultTimeZone))
	if err != nil {
		return nil, fmt.Errorf("invalid TZ: %v", err)
	}
	cfg.Location = loc

	return cfg, nil
}

// postgresDSN prefers DATABASE_URL / PG_DSN, else builds from PG* vars.
func postgresDSN() (string, error) {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn, nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "google_user")
	pass := os.Getenv("PGPASSWORD")
	db := getenvDefault("PGDATABASE", "google_maps")
	if strings.TrimSpace(db) == "" {
		return "", errors.New("PGDATABASE or DATABASE_URL must be set")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func mysqlDSN() string {
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		return dsn
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4",
		getenvDefault("MYSQL_USER", "google_user"),
		os.Getenv("MYSQL_PASSWORD"),
		getenvDefault("MYSQL_HOST", "127.0.0.1"),
		getenvDefault("MYSQL_PORT", "3306"),
		getenvDefault("MYSQL_DATABASE", "google_maps"),
	)
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
