package service

import (
	"errors"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
)

var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrAccountInactive       = errors.New("account inactive")
	ErrForbidden             = errors.New("forbidden")
	ErrPasswordPolicy        = errors.New("password does not satisfy policy")
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenInvalidSignature = errors.New("token signature invalid")
	ErrTokenMalformed        = errors.New("token is malformed")
	ErrRefreshTokenInvalid   = errors.New("refresh token invalid")
	ErrRefreshTokenExpired   = errors.New("refresh token expired")
	ErrRefreshTokenReused    = errors.New("refresh token reused")
	ErrRefreshTokenStale     = errors.New("refresh token already rotated")
	ErrSessionRevoked        = errors.New("session revoked")
)

// Reason codes returned in 401 bodies.
const (
	ReasonExpired            = "expired"
	ReasonRevoked            = "revoked"
	ReasonReused             = "reused"
	ReasonRotated            = "rotated"
	ReasonInvalid            = "invalid"
	ReasonTokenExpired       = "token_expired"
	ReasonTokenInvalid       = "token_invalid"
	ReasonInvalidCredentials = "invalid_credentials"
)

// StaleRotationError is returned to the loser of a concurrent rotation: the
// attempt saw its token as current and the winner swapped it first, inside
// the grace window. Pair carries the winner's refresh identifier.
type StaleRotationError struct {
	Pair models.TokenPair
}

func (e *StaleRotationError) Error() string { return ErrRefreshTokenStale.Error() }

func (e *StaleRotationError) Unwrap() error { return ErrRefreshTokenStale }

// Rejection maps an authentication failure to its wire reason code.
// ok is false for errors that are not authentication rejections.
func Rejection(err error) (reason string, ok bool) {
	switch {
	case errors.Is(err, ErrRefreshTokenStale):
		return ReasonRotated, true
	case errors.Is(err, ErrRefreshTokenReused):
		return ReasonReused, true
	case errors.Is(err, ErrRefreshTokenExpired):
		return ReasonExpired, true
	case errors.Is(err, ErrSessionRevoked):
		return ReasonRevoked, true
	case errors.Is(err, ErrRefreshTokenInvalid):
		return ReasonInvalid, true
	case errors.Is(err, ErrTokenExpired):
		return ReasonTokenExpired, true
	case errors.Is(err, ErrTokenInvalidSignature), errors.Is(err, ErrTokenMalformed):
		return ReasonTokenInvalid, true
	case errors.Is(err, ErrInvalidCredentials):
		return ReasonInvalidCredentials, true
	}
	return "", false
}
