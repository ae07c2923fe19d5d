package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// writeConfig writes yamlContent to a temp config.yaml and returns its path.
func writeConfig(t *testing.T, yamlContent string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// clearEnv unsets variables a developer shell might carry into the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PGHOST", "PGPORT", "PGUSER", "PGDATABASE", "PORT", "ENVIRONMENT",
		"ADMIN_EMAILS", "IDENTITY_SCHEMA", "IDENTITY_TABLE", "IDENTITY_APP_ROLE",
		"REDIS_HOST", "JWKS_ENDPOINTS", "ROLE_CACHE_TTL_SECONDS", "IDENTITY_UID_FUNCTION",
	} {
		if v, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, v) })
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
port: "3480"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "crm"
  database: "crm"
roles:
  admin_emails:
    - "Owner@Example.com"
`)

	t.Setenv("PORT", "4480")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load(path, "test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "4480" {
		t.Errorf("expected Port=4480 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
	if !reflect.DeepEqual(cfg.Roles.AdminEmails, []string{"owner@example.com"}) {
		t.Errorf("expected normalized admin e-mails from yaml, got %v", cfg.Roles.AdminEmails)
	}
}

func TestLoad_MissingConfigFileFallsBackToEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PGHOST", "env-host")
	t.Setenv("ADMIN_EMAILS", " b@example.com,A@example.com,,b@example.com ")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "dev")
	if err != nil {
		t.Fatalf("Load() should tolerate a missing file, got: %v", err)
	}

	if cfg.Database.Host != "env-host" {
		t.Errorf("expected Database.Host=env-host, got %s", cfg.Database.Host)
	}
	want := []string{"a@example.com", "b@example.com"}
	if !reflect.DeepEqual(cfg.Roles.AdminEmails, want) {
		t.Errorf("expected admin e-mails %v, got %v", want, cfg.Roles.AdminEmails)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, "env: local\n"), "dev")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Identity.Schema != "auth" || cfg.Identity.Table != "users" {
		t.Errorf("expected identity table auth.users, got %s", cfg.Identity.IdentityTable())
	}
	if cfg.Identity.UIDFunction != "auth.uid()" {
		t.Errorf("expected uid function auth.uid(), got %s", cfg.Identity.UIDFunction)
	}
	if cfg.Identity.AppRole != "authenticated" {
		t.Errorf("expected app role authenticated, got %s", cfg.Identity.AppRole)
	}
	if !cfg.Identity.InstallTrigger {
		t.Error("expected install_trigger to default to true")
	}
	if cfg.Identity.Bootstrap {
		t.Error("expected bootstrap to default to false")
	}
	if cfg.Roles.CacheTTLSeconds != 60 {
		t.Errorf("expected cache TTL 60, got %d", cfg.Roles.CacheTTLSeconds)
	}
	if cfg.Redis.Host != "" {
		t.Errorf("expected redis disabled by default, got host %q", cfg.Redis.Host)
	}
}

func TestLoad_NegativeCacheTTLRejected(t *testing.T) {
	clearEnv(t)

	_, err := Load(writeConfig(t, "roles:\n  cache_ttl_seconds: -1\n"), "dev")
	if err == nil {
		t.Fatal("expected error for negative cache TTL")
	}
}

func TestLoad_EmptyIdentityTableRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("IDENTITY_TABLE", "")

	_, err := Load(writeConfig(t, "identity:\n  table: \"\"\n"), "dev")
	if err == nil {
		t.Fatal("expected error for empty identity table")
	}
}

func TestLoad_UIDFunctionMustBeSingleExpression(t *testing.T) {
	clearEnv(t)
	t.Setenv("IDENTITY_UID_FUNCTION", "auth.uid(); DROP TABLE leads")

	_, err := Load(writeConfig(t, "env: test\n"), "dev")
	if err == nil {
		t.Fatal("expected error for a uid_function carrying a second statement")
	}
}

func TestParseJWKSEndpoints(t *testing.T) {
	got := parseJWKSEndpoints("https://a.example.com=https://a.example.com/jwks.json, https://b.example.com = https://b.example.com/jwks.json,broken")

	want := map[string]string{
		"https://a.example.com": "https://a.example.com/jwks.json",
		"https://b.example.com": "https://b.example.com/jwks.json",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseJWKSEndpoints() = %v, want %v", got, want)
	}

	if len(parseJWKSEndpoints("")) != 0 {
		t.Error("expected empty map for empty input")
	}
}

func TestNormalizeEmails(t *testing.T) {
	got := NormalizeEmails([]string{"  Zed@Example.com", "", "amy@example.com", "ZED@example.com"})
	want := []string{"amy@example.com", "zed@example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeEmails() = %v, want %v", got, want)
	}
}

func TestDatabaseConfig_URL(t *testing.T) {
	db := DatabaseConfig{Host: "h", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "disable"}

	if got := db.URL(); got != "postgres://u:p@h:5433/d?sslmode=disable" {
		t.Errorf("unexpected URL: %s", got)
	}
}
