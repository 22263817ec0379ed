package config

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestParseDefaults(t *testing.T) {
	t.Setenv("ORGAUTH_JWT_SECRET", testSecret)

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected http addr %q", cfg.HTTPAddr)
	}
	if cfg.AccessTokenTTL != 60*time.Minute {
		t.Fatalf("unexpected access ttl %v", cfg.AccessTokenTTL)
	}
	if cfg.InviteTTL != 72*time.Hour {
		t.Fatalf("unexpected invite ttl %v", cfg.InviteTTL)
	}
	if cfg.JWTIssuer != "orgauth" {
		t.Fatalf("unexpected issuer %q", cfg.JWTIssuer)
	}
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("ORGAUTH_JWT_SECRET", testSecret)
	t.Setenv("ORGAUTH_ACCESS_TOKEN_TTL", "15m")
	t.Setenv("ORGAUTH_REDIS_ADDR", "localhost:6379")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl %v", cfg.AccessTokenTTL)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected redis addr %q", cfg.RedisAddr)
	}
}

func TestParseCORSOrigins(t *testing.T) {
	t.Setenv("ORGAUTH_JWT_SECRET", testSecret)
	t.Setenv("ORGAUTH_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
}

func TestParseRejectsHalfDevOperator(t *testing.T) {
	t.Setenv("ORGAUTH_JWT_SECRET", testSecret)
	t.Setenv("ORGAUTH_DEV_OPERATOR_EMAIL", "ops@example.com")

	if _, err := Parse(); err == nil {
		t.Fatal("expected error when only the operator email is set")
	}
}

func TestParseRejectsShortSecret(t *testing.T) {
	t.Setenv("ORGAUTH_JWT_SECRET", "short")

	_, err := Parse()
	if err == nil || !strings.Contains(err.Error(), "ORGAUTH_JWT_SECRET") {
		t.Fatalf("expected secret validation error, got %v", err)
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	t.Setenv("ORGAUTH_JWT_SECRET", testSecret)
	t.Setenv("ORGAUTH_INVITE_TTL", "soon")

	if _, err := Parse(); err == nil {
		t.Fatal("expected parse error for invalid duration")
	}
}
