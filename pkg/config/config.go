package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/crm-reconciler/pkg/sql"
)

// DefaultPath is the configuration file read when no --config flag is given.
const DefaultPath = "config.yaml"

// Config holds all configuration for crm-reconciler.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration (serve command only)
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional role lookup cache)
	Redis RedisConfig `yaml:"redis"`

	// Identity provider integration
	Identity IdentityConfig `yaml:"identity"`

	// Role assignment configuration
	Roles RolesConfig `yaml:"roles"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"postgres"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"postgres"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"5"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis connection configuration.
// An empty Host disables the role cache.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// IdentityConfig describes the identity provider's user table and the
// primitives row-level security policies are written against.
type IdentityConfig struct {
	// Schema and Table name the provider-owned identity table.
	Schema string `yaml:"schema" env:"IDENTITY_SCHEMA" env-default:"auth"`
	Table  string `yaml:"table" env:"IDENTITY_TABLE" env-default:"users"`

	// UIDFunction is the SQL expression returning the current caller's identity id.
	UIDFunction string `yaml:"uid_function" env:"IDENTITY_UID_FUNCTION" env-default:"auth.uid()"`

	// AppRole is the database role application traffic runs as.
	// Table privileges are granted to it and identity-scoped connections SET ROLE to it.
	AppRole string `yaml:"app_role" env:"IDENTITY_APP_ROLE" env-default:"authenticated"`

	// Bootstrap applies the embedded identity migrations (local mode and tests).
	Bootstrap bool `yaml:"bootstrap" env:"IDENTITY_BOOTSTRAP" env-default:"false"`

	// InstallTrigger installs the identity-creation trigger on the identity table.
	// Disable when the provider invokes the on-identity-created handler itself.
	InstallTrigger bool `yaml:"install_trigger" env:"IDENTITY_INSTALL_TRIGGER" env-default:"true"`
}

// RolesConfig holds role assignment settings.
type RolesConfig struct {
	// AdminEmails is the allow-list of addresses granted the admin role on identity creation.
	AdminEmails []string `yaml:"admin_emails" env:"ADMIN_EMAILS" env-separator:","`

	// CacheTTLSeconds controls how long looked-up roles stay in Redis.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" env:"ROLE_CACHE_TTL_SECONDS" env-default:"60"`
}

// CacheTTL returns the role cache TTL as a duration.
func (c *RolesConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Load reads configuration from the YAML file at path with environment variable overrides.
// A missing file is not an error: configuration then comes from the environment alone.
// The version parameter is injected at build time and set on the returned Config.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if path == "" {
		path = DefaultPath
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	c.Auth.JWKSEndpoints = parseJWKSEndpoints(c.Auth.JWKSEndpointsStr)
	c.Roles.AdminEmails = NormalizeEmails(c.Roles.AdminEmails)
	return nil
}

// validate rejects configurations the reconciler cannot render safely.
func (c *Config) validate() error {
	if c.Identity.Schema == "" || c.Identity.Table == "" {
		return fmt.Errorf("identity schema and table must be set")
	}
	// uid_function is rendered verbatim into every row-level security policy.
	if err := sql.ValidateExpression(c.Identity.UIDFunction); err != nil {
		return fmt.Errorf("identity uid_function: %w", err)
	}
	if c.Roles.CacheTTLSeconds < 0 {
		return fmt.Errorf("roles cache_ttl_seconds must not be negative")
	}
	return nil
}

// NormalizeEmails trims, lower-cases, de-duplicates and sorts an e-mail list.
func NormalizeEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	pairs := strings.Split(value, ",")
	for _, pair := range pairs {
		parts := strings.Split(pair, "=")
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// URL returns the connection settings in postgres:// form (used by golang-migrate).
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// IdentityTable returns the schema-qualified identity table name.
func (c *IdentityConfig) IdentityTable() string {
	return c.Schema + "." + c.Table
}
