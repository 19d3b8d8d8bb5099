package database

import (
	"fmt"
	"strings"

	"github.com/hypetrain/hypetrain/internal/config"
)

// BuildDatabaseURL returns the connection string for the configured database.
//
// DATABASE_URL wins when set. Otherwise INSTANCE_CONNECTION_NAME selects the
// Cloud SQL unix socket mounted at /cloudsql/<instance>, which requires DB_USER
// and DB_NAME. An empty DB_PASSWORD is allowed for IAM authentication.
func BuildDatabaseURL(cfg config.DatabaseConfig) (string, error) {
	if cfg.URL != "" {
		return cfg.URL, nil
	}

	if cfg.InstanceConnectionName == "" {
		return "", fmt.Errorf("neither DATABASE_URL nor INSTANCE_CONNECTION_NAME is set")
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", fmt.Errorf("DB_USER and DB_NAME must be set when using INSTANCE_CONNECTION_NAME")
	}

	socketPath := "/cloudsql/" + cfg.InstanceConnectionName
	if cfg.Password != "" {
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=disable",
			socketPath, cfg.User, cfg.Password, cfg.Name), nil
	}
	return fmt.Sprintf("host=%s user=%s dbname=%s sslmode=disable",
		socketPath, cfg.User, cfg.Name), nil
}

// ConnectionSummary describes the configured connection without secrets, for logging.
func ConnectionSummary(cfg config.DatabaseConfig) map[string]string {
	summary := map[string]string{"driver": cfg.Driver}

	switch {
	case cfg.Driver == config.DriverMemory:
		summary["connection_type"] = "memory"
	case cfg.URL != "":
		summary["connection_type"] = "direct"
		summary["database_url"] = redactPassword(cfg.URL)
	case cfg.InstanceConnectionName != "":
		summary["connection_type"] = "cloud_sql"
		summary["instance"] = cfg.InstanceConnectionName
		summary["user"] = cfg.User
		summary["database"] = cfg.Name
	default:
		summary["connection_type"] = "none"
	}

	return summary
}

func redactPassword(connStr string) string {
	if !strings.HasPrefix(connStr, "postgresql://") && !strings.HasPrefix(connStr, "postgres://") {
		return connStr
	}

	at := strings.LastIndex(connStr, "@")
	if at < 0 {
		return connStr
	}

	schemeEnd := strings.Index(connStr, "://") + len("://")
	userinfo := connStr[schemeEnd:at]
	colon := strings.Index(userinfo, ":")
	if colon < 0 {
		return connStr
	}

	return connStr[:schemeEnd] + userinfo[:colon] + ":***" + connStr[at:]
}
