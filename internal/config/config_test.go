package config

import (
	"testing"
	"time"
)

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "production", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "chat", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret", JWTIssuer: "chat", JWTAudience: "chat"},
		WS:    WSConfig{AllowedOrigins: []string{"https://app.example.com"}},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "chat", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode default disable, got %q", c.DB.SSLMode)
	}
	if c.Call.PendingTimeout != 45*time.Second {
		t.Fatalf("expected pending timeout default 45s, got %v", c.Call.PendingTimeout)
	}
	if c.Call.MaxCallAge != time.Hour {
		t.Fatalf("expected max call age default 1h, got %v", c.Call.MaxCallAge)
	}
	if len(c.WS.AllowedOrigins) != 1 || c.WS.AllowedOrigins[0] != "*" {
		t.Fatalf("expected wildcard origin default, got %v", c.WS.AllowedOrigins)
	}
}

func TestValidate_ProductionRejectsWildcardOrigin(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "production", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "chat", SSLMode: "require"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret", JWTIssuer: "chat", JWTAudience: "chat"},
		WS:    WSConfig{AllowedOrigins: []string{"*"}},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for wildcard origin in production")
	}
}

func TestValidate_MaxAgeMustExceedPendingTimeout(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "chat"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Call:  CallConfig{PendingTimeout: 2 * time.Hour, MaxCallAge: time.Hour},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when CALL_MAX_AGE <= CALL_PENDING_TIMEOUT")
	}
}
