package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrMissingToken   = errors.New("missing authorization token")
	ErrWrongTokenKind = errors.New("wrong token kind")
)

// Token kinds. A refresh token cannot authorise API calls and an access
// token cannot be exchanged for a new pair.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

const issuer = "world-conflict"

// Claims holds the JWT payload.
type Claims struct {
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`
	jwt.RegisteredClaims
}

// JWTManager handles token creation and validation.
type JWTManager struct {
	secret        []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	now           func() time.Time
}

// Option customises a JWTManager.
type Option func(*JWTManager)

// WithExpiry sets the token lifetimes. Non-positive values keep the defaults.
func WithExpiry(access, refresh time.Duration) Option {
	return func(m *JWTManager) {
		if access > 0 {
			m.accessExpiry = access
		}
		if refresh > 0 {
			m.refreshExpiry = refresh
		}
	}
}

// NewJWTManager creates a JWTManager with the given secret. Access tokens
// last 15 minutes and refresh tokens a week unless overridden.
func NewJWTManager(secret string, opts ...Option) *JWTManager {
	m := &JWTManager{
		secret:        []byte(secret),
		accessExpiry:  15 * time.Minute,
		refreshExpiry: 7 * 24 * time.Hour,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *JWTManager) sign(userID, kind string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := &Claims{
		UserID: userID,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// GenerateAccessToken creates a short-lived access token for the given user.
func (m *JWTManager) GenerateAccessToken(userID string) (string, error) {
	return m.sign(userID, KindAccess, m.accessExpiry)
}

// GenerateRefreshToken creates a long-lived refresh token.
func (m *JWTManager) GenerateRefreshToken(userID string) (string, error) {
	return m.sign(userID, KindRefresh, m.refreshExpiry)
}

// ValidateToken parses and validates a JWT string of either kind.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateAccessToken accepts only access tokens.
func (m *JWTManager) ValidateAccessToken(tokenStr string) (*Claims, error) {
	return m.validateKind(tokenStr, KindAccess)
}

// ValidateRefreshToken accepts only refresh tokens.
func (m *JWTManager) ValidateRefreshToken(tokenStr string) (*Claims, error) {
	return m.validateKind(tokenStr, KindRefresh)
}

func (m *JWTManager) validateKind(tokenStr, kind string) (*Claims, error) {
	claims, err := m.ValidateToken(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, ErrWrongTokenKind
	}
	return claims, nil
}

// TokenPair holds an access and refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"` // seconds
}

// GenerateTokenPair creates both tokens for a user.
func (m *JWTManager) GenerateTokenPair(userID string) (*TokenPair, error) {
	access, err := m.GenerateAccessToken(userID)
	if err != nil {
		return nil, err
	}
	refresh, err := m.GenerateRefreshToken(userID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(m.accessExpiry.Seconds()),
	}, nil
}
