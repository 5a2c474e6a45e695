package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/util"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenIssuer signs and verifies token pairs. Access and refresh tokens use
// different secrets. It keeps no state and reads no clock: callers pass now.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
}

func NewTokenIssuer(cfg *util.TokenConfig) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
		issuer:        cfg.Issuer,
		accessTTL:     cfg.AccessTTL,
	}
}

// AccessClaims.RefreshID is set only on access tokens minted by a courtesy
// rotation; presenting one confirms the client received that pair.
type AccessClaims struct {
	AccountID uuid.UUID   `json:"uid"`
	Role      models.Role `json:"role"`
	SessionID uuid.UUID   `json:"sid"`
	RefreshID string      `json:"rid,omitempty"`
	Type      string      `json:"typ"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	SessionID  uuid.UUID `json:"sid"`
	RememberMe bool      `json:"rem"`
	Type       string    `json:"typ"`
	jwt.RegisteredClaims
}

type IssueParams struct {
	Account          *models.Account
	SessionID        uuid.UUID
	RefreshJTI       string
	RememberMe       bool
	RefreshExpiresAt time.Time
	Pending          bool
	Now              time.Time
}

func (ts *TokenIssuer) AccessExpiry(now time.Time) time.Time {
	return jwt.NewNumericDate(now.Add(ts.accessTTL)).Time
}

// Issue mints an access token valid for the access TTL and a refresh token
// carrying the session's current refresh identifier.
func (ts *TokenIssuer) Issue(p IssueParams) (models.TokenPair, error) {
	access := &AccessClaims{
		AccountID: p.Account.ID,
		Role:      p.Account.Role,
		SessionID: p.SessionID,
		Type:      tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   p.Account.ID.String(),
			IssuedAt:  jwt.NewNumericDate(p.Now),
			ExpiresAt: jwt.NewNumericDate(p.Now.Add(ts.accessTTL)),
		},
	}
	if p.Pending {
		access.RefreshID = p.RefreshJTI
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS512, access).SignedString(ts.accessSecret)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh := &RefreshClaims{
		SessionID:  p.SessionID,
		RememberMe: p.RememberMe,
		Type:       tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        p.RefreshJTI,
			Issuer:    ts.issuer,
			Subject:   p.Account.ID.String(),
			IssuedAt:  jwt.NewNumericDate(p.Now),
			ExpiresAt: jwt.NewNumericDate(p.RefreshExpiresAt),
		},
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS512, refresh).SignedString(ts.refreshSecret)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return models.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// VerifyAccess checks signature and expiry against now with zero leeway.
// An access token is valid strictly before its exp second.
func (ts *TokenIssuer) VerifyAccess(token string, now time.Time) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := ts.parse(token, claims, ts.accessSecret, now); err != nil {
		return nil, classifyJWTError(err)
	}
	if claims.Type != tokenTypeAccess || claims.AccountID == uuid.Nil || claims.SessionID == uuid.Nil {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func (ts *TokenIssuer) ParseRefresh(token string, now time.Time) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := ts.parse(token, claims, ts.refreshSecret, now); err != nil {
		err = classifyJWTError(err)
		if errors.Is(err, ErrTokenExpired) {
			return nil, ErrRefreshTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrRefreshTokenInvalid, err)
	}
	if claims.Type != tokenTypeRefresh || claims.ID == "" || claims.SessionID == uuid.Nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshTokenInvalid, ErrTokenMalformed)
	}
	return claims, nil
}

func (ts *TokenIssuer) parse(token string, claims jwt.Claims, secret []byte, now time.Time) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(ts.issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	return err
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenInvalidSignature
	default:
		return fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}
}
