package config

import (
	"testing"
)

func assertStringEqual(t *testing.T, name, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", name, got, want)
	}
}

func assertIntEqual(t *testing.T, name string, want, got int) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %d, want %d", name, got, want)
	}
}

func TestSetDefaults(t *testing.T) {
	t.Helper()

	cfg := &Config{}
	setDefaults(cfg)

	assertStringEqual(t, "service.name", defaultServiceName, cfg.Service.Name)
	assertStringEqual(t, "service.version", defaultVersion, cfg.Service.Version)
	assertIntEqual(t, "service.port", defaultServicePort, cfg.Service.Port)
	assertStringEqual(t, "service.public_base_url", defaultBaseURL, cfg.Service.PublicBaseURL)
	assertIntEqual(t, "service.token_bytes", defaultTokenBytes, cfg.Service.TokenBytes)
	assertIntEqual(t, "service.max_batch_size", defaultMaxBatchSize, cfg.Service.MaxBatchSize)
	assertIntEqual(t, "service.page_size", defaultPageSize, cfg.Service.PageSize)

	assertStringEqual(t, "database.host", defaultDBHost, cfg.Database.Host)
	assertIntEqual(t, "database.port", defaultDBPort, cfg.Database.Port)
	assertStringEqual(t, "database.user", defaultDBUser, cfg.Database.User)
	assertStringEqual(t, "database.database", defaultDBName, cfg.Database.Database)
	assertStringEqual(t, "database.sslmode", defaultDBSSLMode, cfg.Database.SSLMode)

	assertIntEqual(t, "rate_limit.max_requests_per_minute",
		defaultMaxRequestsPerMinute, cfg.RateLimit.MaxRequestsPerMinute)
	assertIntEqual(t, "rate_limit.window_seconds",
		defaultWindowSeconds, cfg.RateLimit.WindowSeconds)

	assertStringEqual(t, "logging.level", defaultLoggingLevel, cfg.Logging.Level)
	assertStringEqual(t, "logging.format", defaultLoggingFmt, cfg.Logging.Format)
}

func TestValidate_MissingJWTSecret(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for missing jwt_secret")
	}

	vErr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if vErr.Field != "service.jwt_secret" {
		t.Errorf("error field: got %q, want %q", vErr.Field, "service.jwt_secret")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Service.JWTSecret = "secret"
	cfg.Service.Port = 99999

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for invalid port")
	}
}

func TestDSN(t *testing.T) {
	db := &DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "links",
		Password: "pw",
		Database: "link_registry",
		SSLMode:  "require",
	}

	want := "host=db.internal port=5433 user=links password=pw dbname=link_registry sslmode=require"
	if got := db.DSN(); got != want {
		t.Errorf("DSN: got %q, want %q", got, want)
	}

	wantURL := "postgres://links:pw@db.internal:5433/link_registry?sslmode=require"
	if got := db.URL(); got != wantURL {
		t.Errorf("URL: got %q, want %q", got, wantURL)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LINK_REGISTRY_PORT", "9000")
	t.Setenv("POSTGRES_LINK_REGISTRY_HOST", "pg.test")

	cfg := &Config{}
	setDefaults(cfg)
	applyEnvOverrides(cfg)

	assertIntEqual(t, "service.port", 9000, cfg.Service.Port)
	assertStringEqual(t, "database.host", "pg.test", cfg.Database.Host)
}
