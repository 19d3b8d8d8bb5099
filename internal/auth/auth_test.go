package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hypetrain/hypetrain/internal/config"
)

func TestConfigFromHashesPlainPassword(t *testing.T) {
	cfg, err := ConfigFrom(config.AuthConfig{JWTSecret: "s", AdminPassword: "hunter2", TokenDuration: time.Hour})
	if err != nil {
		t.Fatalf("ConfigFrom: %v", err)
	}
	if cfg.PasswordHash == "hunter2" || !CheckPassword("hunter2", cfg.PasswordHash) {
		t.Fatal("expected a bcrypt hash of the password")
	}

	again, err := ConfigFrom(config.AuthConfig{JWTSecret: "s", AdminPassword: cfg.PasswordHash})
	if err != nil {
		t.Fatalf("ConfigFrom: %v", err)
	}
	if again.PasswordHash != cfg.PasswordHash {
		t.Error("an existing bcrypt hash should be used as is")
	}
}

func TestConfigFromRejectsWeakSecret(t *testing.T) {
	for _, secret := range []string{"", InsecureJWTSecret} {
		_, err := ConfigFrom(config.AuthConfig{JWTSecret: secret, AdminPassword: "hunter2"})
		if !errors.Is(err, ErrWeakSecret) {
			t.Errorf("secret %q: expected ErrWeakSecret, got %v", secret, err)
		}
	}

	cfg, err := ConfigFrom(config.AuthConfig{JWTSecret: InsecureJWTSecret})
	if err != nil {
		t.Fatalf("ConfigFrom without password: %v", err)
	}
	if cfg.Enabled() || cfg.JWTSecret != "" {
		t.Errorf("expected disabled config without a signing secret, got %+v", cfg)
	}
}

func TestLogin(t *testing.T) {
	cfg, err := ConfigFrom(config.AuthConfig{JWTSecret: "secret", AdminPassword: "hunter2", TokenDuration: time.Hour})
	if err != nil {
		t.Fatalf("ConfigFrom: %v", err)
	}

	token, expires, err := Login(cfg, "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Errorf("expected expiry in the future, got %v", expires)
	}
	operator, err := ValidateToken(token, "secret")
	if err != nil || operator != "admin" {
		t.Fatalf("ValidateToken = %q, %v", operator, err)
	}

	if _, _, err := Login(cfg, "wrong"); err == nil {
		t.Error("expected wrong password to fail")
	}

	if _, _, err := Login(Config{JWTSecret: "secret"}, ""); !errors.Is(err, ErrLoginDisabled) {
		t.Errorf("expected ErrLoginDisabled, got %v", err)
	}
}

func TestValidateTokenRejectsBadTokens(t *testing.T) {
	expired, err := GenerateToken("admin", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	valid, err := GenerateToken("admin", "secret", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	tests := map[string]struct {
		token  string
		secret string
	}{
		"expired":      {expired, "secret"},
		"wrong secret": {valid, "other"},
		"garbage":      {"not-a-token", "secret"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ValidateToken(tt.token, tt.secret); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	cfg := Config{JWTSecret: "secret", PasswordHash: "$2a$10$hash", TokenDuration: time.Minute}
	token, err := GenerateToken("admin", cfg.JWTSecret, cfg.TokenDuration)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	var seen string
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = OperatorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/queue/pending", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}

	if seen != "admin" {
		t.Errorf("expected operator in context, got %q", seen)
	}
}

func TestMiddlewareRejectsEverythingWhenDisabled(t *testing.T) {
	tests := map[string]Config{
		"no password":    {JWTSecret: "secret"},
		"default secret": {JWTSecret: InsecureJWTSecret, PasswordHash: "$2a$10$hash"},
		"no secret":      {PasswordHash: "$2a$10$hash"},
		"nothing at all": {},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			token, err := GenerateToken("admin", cfg.JWTSecret, time.Minute)
			if err != nil {
				t.Fatalf("GenerateToken: %v", err)
			}
			handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler must not run")
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/moderation/tweets/123/undo", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
			}
		})
	}
}
