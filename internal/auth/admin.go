// Package auth authenticates the admin surface: an Argon2id password check
// with an optional TOTP second factor, exchanged for a short-lived HS256
// access token.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/marketkit/membergate/internal/domain"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	totpWindow = 1 // Allow ±30 seconds clock drift

	// DefaultAccessTokenTTL bounds how long an admin token stays valid.
	DefaultAccessTokenTTL = 15 * time.Minute
)

// AdminConfig holds admin authentication configuration.
type AdminConfig struct {
	// PasswordHash is the Argon2id hash of the admin password.
	PasswordHash string
	// TOTPSecret enables a TOTP second factor when non-empty.
	TOTPSecret string
	JWTSecret  []byte
	Issuer     string
	TokenTTL   time.Duration
}

// AdminService issues and validates admin access tokens.
type AdminService struct {
	config AdminConfig
	now    func() time.Time
}

// NewAdminService creates a new admin auth service.
func NewAdminService(config AdminConfig) *AdminService {
	if config.TokenTTL == 0 {
		config.TokenTTL = DefaultAccessTokenTTL
	}
	return &AdminService{config: config, now: time.Now}
}

// TOTPEnabled returns true if a second factor is required for login.
func (s *AdminService) TOTPEnabled() bool {
	return s.config.TOTPSecret != ""
}

// AccessTokenClaims represents the claims in an admin access token.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
}

// Login verifies the admin password (and TOTP code when enabled) and returns
// a signed access token.
func (s *AdminService) Login(password, totpCode string) (string, time.Time, error) {
	if !VerifyPassword(password, s.config.PasswordHash) {
		return "", time.Time{}, domain.ErrInvalidCredentials
	}

	if s.TOTPEnabled() {
		if totpCode == "" {
			return "", time.Time{}, domain.ErrTOTPRequired
		}
		valid, err := totp.ValidateCustom(totpCode, s.config.TOTPSecret, s.now(), totp.ValidateOpts{
			Period: totpPeriod,
			Skew:   totpWindow,
			Digits: 6,
		})
		if err != nil || !valid {
			return "", time.Time{}, domain.ErrInvalidTOTPCode
		}
	}

	now := s.now()
	expiresAt := now.Add(s.config.TokenTTL)
	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.config.JWTSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateAccessToken parses and verifies an admin access token.
func (s *AdminService) ValidateAccessToken(tokenString string) (*AccessTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return s.config.JWTSecret, nil
	}, jwt.WithIssuer(s.config.Issuer), jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessTokenClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}
