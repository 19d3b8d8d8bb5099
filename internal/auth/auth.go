package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hypetrain/hypetrain/internal/config"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const operatorContextKey contextKey = "operator"

const issuer = "hypetrain"

// InsecureJWTSecret is the placeholder secret from older deployments. It is
// refused as a signing key.
const InsecureJWTSecret = "change-this-secret"

var (
	// ErrLoginDisabled is returned when no operator password is configured.
	ErrLoginDisabled = errors.New("operator login is disabled")

	// ErrWeakSecret is returned when a password is configured without a
	// usable signing secret.
	ErrWeakSecret = errors.New("ADMIN_JWT_SECRET must be set to a non-default value")
)

// Config holds authentication configuration
type Config struct {
	JWTSecret     string
	PasswordHash  string
	TokenDuration time.Duration
}

// ConfigFrom builds the auth configuration. A plain ADMIN_PASSWORD is hashed
// once here; a value that is already a bcrypt hash is used as is. Without a
// password the returned config keeps the operator API closed.
func ConfigFrom(cfg config.AuthConfig) (Config, error) {
	out := Config{TokenDuration: cfg.TokenDuration}
	if cfg.AdminPassword == "" {
		return out, nil
	}
	if cfg.JWTSecret == "" || cfg.JWTSecret == InsecureJWTSecret {
		return Config{}, ErrWeakSecret
	}
	out.JWTSecret = cfg.JWTSecret

	if isBcryptHash(cfg.AdminPassword) {
		out.PasswordHash = cfg.AdminPassword
		return out, nil
	}
	hash, err := HashPassword(cfg.AdminPassword)
	if err != nil {
		return Config{}, fmt.Errorf("failed to hash admin password: %w", err)
	}
	out.PasswordHash = hash
	return out, nil
}

func isBcryptHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

// Claims represents the JWT claims
type Claims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// Login checks the operator password and issues a token.
func Login(cfg Config, password string) (string, time.Time, error) {
	if !cfg.Enabled() {
		return "", time.Time{}, ErrLoginDisabled
	}
	if !CheckPassword(password, cfg.PasswordHash) {
		return "", time.Time{}, fmt.Errorf("invalid credentials")
	}
	expires := time.Now().Add(cfg.TokenDuration)
	token, err := GenerateToken("admin", cfg.JWTSecret, cfg.TokenDuration)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// GenerateToken creates a new JWT token
func GenerateToken(operator string, secret string, duration time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken validates a JWT token and returns the operator name
func ValidateToken(tokenString string, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims.Operator, nil
	}

	return "", fmt.Errorf("invalid token")
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares a password with a hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Enabled reports whether operator login and the protected API are available.
func (c Config) Enabled() bool {
	return c.PasswordHash != "" && c.JWTSecret != "" && c.JWTSecret != InsecureJWTSecret
}

// Middleware rejects requests without a valid bearer token. When operator
// access is disabled every request is refused.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled() {
				http.Error(w, "Operator access is disabled", http.StatusServiceUnavailable)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || tokenString == "" {
				http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}

			operator, err := ValidateToken(tokenString, cfg.JWTSecret)
			if err != nil {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), operatorContextKey, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorFromContext extracts the operator name from the request context
func OperatorFromContext(ctx context.Context) (string, bool) {
	operator, ok := ctx.Value(operatorContextKey).(string)
	return operator, ok
}
