package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage"
)

// AuthService is the request-facing side of the session lifecycle: sign-in,
// refresh, logout, heartbeat and the account operations that end sessions.
type AuthService struct {
	accounts storage.AccountRepository
	registry *SessionRegistry
	issuer   *TokenIssuer
	hasher   *PasswordHasher
	log      *zap.SugaredLogger
}

func NewAuthService(
	accounts storage.AccountRepository,
	registry *SessionRegistry,
	issuer *TokenIssuer,
	hasher *PasswordHasher,
	log *zap.SugaredLogger,
) *AuthService {
	return &AuthService{
		accounts: accounts,
		registry: registry,
		issuer:   issuer,
		hasher:   hasher,
		log:      log,
	}
}

func (s *AuthService) SignIn(ctx context.Context, req models.SignInRequest, device models.DeviceMeta) (*models.SignInResponse, error) {
	account, err := s.accounts.GetAccountByEmail(ctx, req.Email)
	if errors.Is(err, storage.ErrAccountNotFound) {
		s.hasher.CompareDummy(req.Password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	if err := s.hasher.Compare(account.PasswordHash, req.Password); err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, ErrAccountInactive
	}

	rot, err := s.registry.Begin(ctx, account, req.RememberMe, device)
	if err != nil {
		return nil, err
	}
	return s.signInResponse(account, rot), nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string, device *models.DeviceMeta) (*models.RefreshResponse, error) {
	rot, err := s.registry.Rotate(ctx, refreshToken, device)
	if err != nil {
		return nil, err
	}
	return &models.RefreshResponse{
		AccessToken:  rot.Pair.AccessToken,
		RefreshToken: rot.Pair.RefreshToken,
		Session:      s.registry.Metadata(rot.Session, rot.AccessExpiresAt),
	}, nil
}

// Authenticate verifies a bearer access token. It does no I/O.
func (s *AuthService) Authenticate(accessToken string) (*AccessClaims, error) {
	return s.issuer.VerifyAccess(accessToken, s.registry.Now())
}

func (s *AuthService) CourtesyRotate(ctx context.Context, claims *AccessClaims, refreshToken string, device *models.DeviceMeta) (*models.TokenPair, error) {
	return s.registry.CourtesyRotate(ctx, claims, refreshToken, device)
}

func (s *AuthService) ConfirmRotation(ctx context.Context, claims *AccessClaims) error {
	return s.registry.ConfirmRotation(ctx, claims)
}

func (s *AuthService) Logout(ctx context.Context, claims *AccessClaims, all bool) error {
	if all {
		_, err := s.registry.RevokeAccount(ctx, claims.AccountID, storage.RevokeReasonLogout)
		return err
	}
	return s.registry.Revoke(ctx, claims.SessionID, storage.RevokeReasonLogout)
}

func (s *AuthService) Heartbeat(ctx context.Context, claims *AccessClaims, device *models.DeviceMeta) (*models.HeartbeatResponse, error) {
	session, err := s.registry.Heartbeat(ctx, claims.SessionID, device)
	if err != nil {
		return nil, err
	}
	return &models.HeartbeatResponse{
		SessionID:         session.ID,
		ExpiresAt:         session.ExpiresAt,
		LastSeenAt:        session.LastSeenAt,
		HeartbeatInterval: int64(s.registry.heartbeatInterval(session).Seconds()),
	}, nil
}

// SetPassword replaces the password, clears the first-login flag, ends every
// session of the account and starts a fresh one for the caller.
func (s *AuthService) SetPassword(ctx context.Context, claims *AccessClaims, req models.SetPasswordRequest, device models.DeviceMeta) (*models.SignInResponse, error) {
	account, err := s.accounts.GetAccountByID(ctx, claims.AccountID)
	if err != nil {
		return nil, fmt.Errorf("set password: %w", err)
	}
	if !account.Active {
		return nil, ErrAccountInactive
	}
	if err := s.hasher.Compare(account.PasswordHash, req.CurrentPassword); err != nil {
		return nil, err
	}
	if err := ValidatePasswordPolicy(req.NewPassword); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash, false); err != nil {
		return nil, fmt.Errorf("set password: %w", err)
	}
	account.PasswordHash = hash
	account.FirstLogin = false

	rememberMe := false
	if current, err := s.registry.sessions.GetSession(ctx, claims.SessionID); err == nil {
		rememberMe = current.RememberMe
	}
	if _, err := s.registry.RevokeAccount(ctx, account.ID, storage.RevokeReasonPassword); err != nil {
		return nil, err
	}

	rot, err := s.registry.Begin(ctx, account, rememberMe, device)
	if err != nil {
		return nil, err
	}
	return s.signInResponse(account, rot), nil
}

// DeactivateAccount is restricted to admins; it marks the account inactive and revokes its sessions.
func (s *AuthService) DeactivateAccount(ctx context.Context, claims *AccessClaims, accountID uuid.UUID) (int, error) {
	if claims.Role != models.RoleAdmin {
		return 0, ErrForbidden
	}
	if err := s.accounts.SetActive(ctx, accountID, false); err != nil {
		return 0, fmt.Errorf("deactivate account: %w", err)
	}
	return s.registry.RevokeAccount(ctx, accountID, storage.RevokeReasonDeactivated)
}

func (s *AuthService) Profile(ctx context.Context, claims *AccessClaims) (*models.Account, error) {
	account, err := s.accounts.GetAccountByID(ctx, claims.AccountID)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	return account, nil
}

func (s *AuthService) signInResponse(account *models.Account, rot *Rotation) *models.SignInResponse {
	return &models.SignInResponse{
		AccessToken:     rot.Pair.AccessToken,
		RefreshToken:    rot.Pair.RefreshToken,
		Account:         *account,
		SessionMetadata: s.registry.Metadata(rot.Session, rot.AccessExpiresAt),
	}
}
