package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sealtrack/portal"
)

const issuer = "sealtrack-api"

// Token types.
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
	TokenReset   = "reset"
)

// Claims represents the JWT claims. The resolved portal session is embedded so
// requests need no profile lookup.
type Claims struct {
	Session   portal.Session `json:"session"`
	TokenType string         `json:"typ"`
	jwt.RegisteredClaims
}

// JWTManager handles JWT token generation and validation
type JWTManager struct {
	secretKey              []byte
	tokenExpiration        time.Duration
	refreshTokenExpiration time.Duration
	now                    func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secretKey string, tokenExpiration, refreshTokenExpiration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:              []byte(secretKey),
		tokenExpiration:        tokenExpiration,
		refreshTokenExpiration: refreshTokenExpiration,
		now:                    time.Now,
	}
}

// TokenExpiration is the lifetime of access tokens.
func (m *JWTManager) TokenExpiration() time.Duration { return m.tokenExpiration }

// GenerateToken generates an access token for a session
func (m *JWTManager) GenerateToken(s *portal.Session) (string, error) {
	return m.sign(*s, TokenAccess, s.UserID, m.tokenExpiration)
}

// GenerateRefreshToken generates a refresh token with longer expiration
func (m *JWTManager) GenerateRefreshToken(s *portal.Session) (string, error) {
	return m.sign(portal.Session{UserID: s.UserID}, TokenRefresh, s.UserID, m.refreshTokenExpiration)
}

// GenerateResetToken generates a single-purpose password reset token for email.
func (m *JWTManager) GenerateResetToken(email string, ttl time.Duration) (string, error) {
	return m.sign(portal.Session{Email: email}, TokenReset, email, ttl)
}

func (m *JWTManager) sign(s portal.Session, typ, subject string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		Session:   s,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return signedToken, nil
}

// ValidateToken validates an access token and returns the claims
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	return m.validate(tokenString, TokenAccess)
}

// ValidateRefreshToken validates a refresh token.
func (m *JWTManager) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return m.validate(tokenString, TokenRefresh)
}

// ValidateResetToken validates a password reset token.
func (m *JWTManager) ValidateResetToken(tokenString string) (*Claims, error) {
	return m.validate(tokenString, TokenReset)
}

func (m *JWTManager) validate(tokenString, typ string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TokenType != typ {
		return nil, fmt.Errorf("expected %s token, got %q", typ, claims.TokenType)
	}
	return claims, nil
}

// ExtractToken extracts the token from the Authorization header
// Expected format: "Bearer <token>"
func ExtractToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("authorization header is empty")
	}
	if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
		return "", errors.New("invalid authorization header format")
	}
	return authHeader[7:], nil
}
