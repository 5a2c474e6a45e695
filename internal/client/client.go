package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
)

const (
	defaultTimeout           = 15 * time.Second
	defaultCourtesyWindow    = 2 * time.Minute
	defaultHeartbeatInterval = 5 * time.Minute
)

type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	CourtesyWindow time.Duration
	// Durable backs remember-me sessions; Ephemeral backs all others.
	Durable        Storage
	Ephemeral      Storage
	Base           http.RoundTripper
	OnSessionEnded func(reason string)
	Logger         *zap.SugaredLogger
}

// Client talks to the auth service on behalf of one user. Every call goes
// through Transport, so token refresh is invisible to callers.
type Client struct {
	baseURL   string
	http      *http.Client
	raw       *http.Client
	session   *Manager
	quality   *QualityTracker
	transport *Transport
	log       *zap.SugaredLogger
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client: BaseURL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CourtesyWindow == 0 {
		cfg.CourtesyWindow = defaultCourtesyWindow
	}
	if cfg.Ephemeral == nil {
		cfg.Ephemeral = NewMemoryStorage()
	}
	if cfg.Durable == nil {
		cfg.Durable = cfg.Ephemeral
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	base := cfg.Base
	if base == nil {
		base = http.DefaultTransport
	}

	session := NewManager(cfg.Durable, cfg.Ephemeral, log)
	quality := NewQualityTracker()
	transport := NewTransport(TransportConfig{
		Base:           base,
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		Timeout:        cfg.Timeout,
		CourtesyWindow: cfg.CourtesyWindow,
		OnSessionEnded: cfg.OnSessionEnded,
	}, session, quality, log)

	if _, err := session.Load(); err != nil && !errors.Is(err, ErrNoSession) {
		return nil, fmt.Errorf("load session: %w", err)
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		http:      &http.Client{Transport: transport, Timeout: cfg.Timeout},
		raw:       &http.Client{Transport: base, Timeout: cfg.Timeout},
		session:   session,
		quality:   quality,
		transport: transport,
		log:       log,
	}, nil
}

func (c *Client) Session() *Manager {
	return c.session
}

func (c *Client) Quality() *QualityTracker {
	return c.quality
}

// Do sends req through the refresh-and-replay transport.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.http.Do(req)
}

func (c *Client) SignIn(ctx context.Context, email, password string, rememberMe bool) (*models.SignInResponse, error) {
	var out models.SignInResponse
	err := c.doJSON(ctx, http.MethodPost, models.SignInPath, models.SignInRequest{
		Email:      email,
		Password:   password,
		RememberMe: rememberMe,
	}, &out)
	if err != nil {
		return nil, err
	}

	pair := models.TokenPair{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}
	if err := c.session.Save(pair, out.Account, rememberMe, &out.SessionMetadata); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Me(ctx context.Context) (*models.Account, error) {
	var out models.Account
	if err := c.doJSON(ctx, http.MethodGet, models.ProfilePath, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Heartbeat(ctx context.Context) (*models.HeartbeatResponse, error) {
	var out models.HeartbeatResponse
	if err := c.doJSON(ctx, http.MethodGet, models.HeartbeatPath, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout clears local state first, so a refresh still in flight is discarded,
// then revokes the session server-side on a best-effort basis.
func (c *Client) Logout(ctx context.Context, all bool) error {
	snap, _ := c.session.Snapshot()
	if err := c.session.Clear(); err != nil {
		return err
	}
	if snap == nil {
		return nil
	}

	path := models.LogoutPath
	if all {
		path += "?all=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.transport.decorate(req)
	req.Header.Set(headerAuthorization, "Bearer "+snap.AccessToken)

	resp, err := c.raw.Do(req)
	if err != nil {
		c.log.Warnw("logout request failed", "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		c.log.Warnw("logout rejected by server", "status", resp.StatusCode)
	}
	return nil
}

// RunHeartbeat keeps a remember-me session alive at the server-recommended
// interval until ctx ends or the session ends.
func (c *Client) RunHeartbeat(ctx context.Context) error {
	interval := defaultHeartbeatInterval
	if snap, _ := c.session.Snapshot(); snap != nil && snap.SessionMetadata != nil && snap.SessionMetadata.HeartbeatInterval > 0 {
		interval = time.Duration(snap.SessionMetadata.HeartbeatInterval) * time.Second
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		snap, _ := c.session.Snapshot()
		if snap == nil {
			return ErrNoSession
		}
		if !snap.RememberMe {
			return nil
		}

		resp, err := c.Heartbeat(ctx)
		switch {
		case errors.Is(err, ErrUnauthenticated):
			return err
		case err != nil:
			c.log.Warnw("heartbeat failed", "error", err)
		case resp.HeartbeatInterval > 0:
			interval = time.Duration(resp.HeartbeatInterval) * time.Second
		}
		timer.Reset(interval)
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		reason := readReason(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized && reason == reasonInvalidCredentials {
			return ErrInvalidCredentials
		}
		return &HTTPError{Status: resp.StatusCode, Reason: reason}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// HTTPError is a non-authentication failure returned by the server.
type HTTPError struct {
	Status int
	Reason string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Reason)
}
