package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
)

const refreshFlightKey = "refresh"

// callState is the lifecycle of one outbound call.
type callState int

const (
	stateSent callState = iota
	stateAuthFailed
	stateRefreshing
	stateReplayed
	stateDone
)

// Transport attaches the access token to every request, adopts rotations the
// server pushes in response headers, and on 401 refreshes once and replays
// the request once. Concurrent refreshes collapse into one in-flight call.
type Transport struct {
	base           http.RoundTripper
	baseURL        string
	apiKey         string
	timeout        time.Duration
	courtesyWindow time.Duration
	session        *Manager
	quality        *QualityTracker
	onEnded        func(reason string)
	refreshes      singleflight.Group
	rotating       sync.Mutex
	now            func() time.Time
	log            *zap.SugaredLogger
}

type TransportConfig struct {
	Base           http.RoundTripper
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	CourtesyWindow time.Duration
	OnSessionEnded func(reason string)
}

func NewTransport(cfg TransportConfig, session *Manager, quality *QualityTracker, log *zap.SugaredLogger) *Transport {
	base := cfg.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Transport{
		base:           base,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		timeout:        cfg.Timeout,
		courtesyWindow: cfg.CourtesyWindow,
		session:        session,
		quality:        quality,
		onEnded:        cfg.OnSessionEnded,
		now:            time.Now,
		log:            log,
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if isAuthExempt(req.URL.Path) {
		out := req.Clone(req.Context())
		t.decorate(out)
		return t.send(out)
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var (
		resp  *http.Response
		snap  *Envelope
		gen   uint64
		state = stateSent
	)
	for {
		switch state {
		case stateSent, stateReplayed:
			snap, gen = t.session.Snapshot()
			out, courtesy := t.prepare(req, body, snap)
			resp, err = t.send(out)
			if err == nil && snap != nil {
				t.adoptPushedRotation(resp, snap, gen)
			}
			if courtesy {
				t.rotating.Unlock()
			}
			if err != nil {
				return nil, err
			}
			if snap == nil {
				state = stateDone
				continue
			}
			if resp.StatusCode != http.StatusUnauthorized {
				state = stateDone
				continue
			}

			reason := peekReason(resp)
			switch {
			case reason == reasonInvalidCredentials:
				state = stateDone
			case state == stateReplayed:
				resp.Body.Close()
				return nil, t.endSession(gen, EndReasonReplay, nil)
			case reason == reasonTokenInvalid:
				resp.Body.Close()
				return nil, t.endSession(gen, reason, nil)
			default:
				state = stateAuthFailed
			}
		case stateAuthFailed:
			resp.Body.Close()
			state = stateRefreshing
		case stateRefreshing:
			if err := t.refresh(req.Context(), snap.AccessToken); err != nil {
				return nil, err
			}
			state = stateReplayed
		case stateDone:
			return resp, nil
		}
	}
}

// refresh rotates the session unless another caller already did since
// failedToken was sent. Callers arriving while a refresh is in flight wait
// for that one.
func (t *Transport) refresh(ctx context.Context, failedToken string) error {
	_, err, _ := t.refreshes.Do(refreshFlightKey, func() (interface{}, error) {
		t.rotating.Lock()
		defer t.rotating.Unlock()

		snap, gen := t.session.Snapshot()
		if snap == nil {
			return nil, &SessionEndedError{Reason: EndReasonLogout}
		}
		if snap.AccessToken != failedToken {
			return nil, nil
		}
		return nil, t.rotate(ctx, snap, gen)
	})
	return err
}

func (t *Transport) rotate(ctx context.Context, snap *Envelope, gen uint64) error {
	// Shared by every waiter, so it must not die with the first caller's context.
	ctx = context.WithoutCancel(ctx)
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+models.RefreshPath, nil)
	if err != nil {
		return fmt.Errorf("build refresh request: %w", err)
	}
	t.decorate(req)
	req.Header.Set(models.RefreshTokenHeader, snap.RefreshToken)

	resp, err := t.send(req)
	if err != nil {
		return t.endSession(gen, EndReasonNetwork, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out models.RefreshResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return t.endSession(gen, EndReasonNetwork, fmt.Errorf("%w: decode refresh response: %w", ErrNetworkFailure, err))
		}
		pair := models.TokenPair{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}
		return t.install(gen, snap.RefreshToken, pair, &out.Session)
	case http.StatusUnauthorized:
		reason := readReason(resp.Body)
		if pair, ok := pushedPair(resp); ok && reason == reasonRotated {
			return t.install(gen, snap.RefreshToken, pair, nil)
		}
		return t.endSession(gen, reason, nil)
	default:
		return t.endSession(gen, EndReasonNetwork, fmt.Errorf("%w: refresh returned %d", ErrNetworkFailure, resp.StatusCode))
	}
}

func (t *Transport) install(gen uint64, replaced string, pair models.TokenPair, meta *models.SessionMetadata) error {
	err := t.session.Replace(gen, replaced, pair, meta)
	if errors.Is(err, ErrSessionReplaced) {
		if snap, _ := t.session.Snapshot(); snap == nil {
			return &SessionEndedError{Reason: EndReasonLogout}
		}
		return nil
	}
	if err != nil {
		t.log.Errorw("failed to persist rotated session", "error", err)
	}
	return nil
}

// adoptPushedRotation installs X-New-Access-Token / X-New-Refresh-Token from
// any response, as long as the session still holds the pair that was sent.
func (t *Transport) adoptPushedRotation(resp *http.Response, sent *Envelope, gen uint64) {
	pair, ok := pushedPair(resp)
	if !ok {
		return
	}
	err := t.session.Replace(gen, sent.RefreshToken, pair, nil)
	if err != nil && !errors.Is(err, ErrSessionReplaced) {
		t.log.Errorw("failed to persist pushed rotation", "error", err)
	}
}

// endSession ends the session observed at gen. A session that was logged out
// or replaced in the meantime is left alone and the caller is told its own
// session is gone.
func (t *Transport) endSession(gen uint64, reason string, cause error) error {
	ended, err := t.session.End(gen)
	if err != nil {
		t.log.Errorw("failed to clear session", "error", err)
	}
	if !ended {
		t.log.Infow("session already replaced, not ending it", "reason", reason)
		return &SessionEndedError{Reason: EndReasonLogout}
	}
	t.log.Infow("session ended", "reason", reason)
	if t.onEnded != nil {
		t.onEnded(reason)
	}
	return &SessionEndedError{Reason: reason, Err: cause}
}

// prepare builds the outbound request. When it attaches the refresh token for
// a courtesy rotation it returns true holding t.rotating, which the caller
// releases once any pushed rotation has been adopted.
func (t *Transport) prepare(req *http.Request, body []byte, snap *Envelope) (*http.Request, bool) {
	out := req.Clone(req.Context())
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.ContentLength = int64(len(body))
	}
	t.decorate(out)
	if snap == nil {
		return out, false
	}
	out.Header.Set(headerAuthorization, "Bearer "+snap.AccessToken)
	if !t.courtesyDue(snap.AccessToken) || !t.rotating.TryLock() {
		return out, false
	}
	if current, _ := t.session.Snapshot(); current == nil || current.RefreshToken != snap.RefreshToken {
		t.rotating.Unlock()
		return out, false
	}
	out.Header.Set(models.RefreshTokenHeader, snap.RefreshToken)
	return out, true
}

func (t *Transport) decorate(req *http.Request) {
	if t.apiKey != "" {
		req.Header.Set(models.APIKeyHeader, t.apiKey)
	}
	if t.quality != nil {
		req.Header.Set(models.ConnectionQualityHeader, string(t.quality.Quality()))
		if rtt := t.quality.RTT(); rtt > 0 {
			req.Header.Set(models.ClientRTTHeader, strconv.FormatInt(rtt.Milliseconds(), 10))
		}
	}
}

// courtesyDue reports whether the access token expires within the courtesy
// window, in which case the refresh token rides along for a server-side rotation.
func (t *Transport) courtesyDue(accessToken string) bool {
	if t.courtesyWindow <= 0 {
		return false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil || claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Sub(t.now()) <= t.courtesyWindow
}

func (t *Transport) send(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		if t.quality != nil {
			t.quality.ObserveFailure()
		}
		return nil, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	if t.quality != nil {
		t.quality.Observe(time.Since(start))
	}
	return resp, nil
}

const (
	headerAuthorization      = "Authorization"
	reasonRotated            = "rotated"
	reasonTokenInvalid       = "token_invalid"
	reasonInvalidCredentials = "invalid_credentials"
)

func isAuthExempt(path string) bool {
	return path == models.SignInPath || path == models.RefreshPath
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}
	return body, nil
}

func pushedPair(resp *http.Response) (models.TokenPair, bool) {
	pair := models.TokenPair{
		AccessToken:  resp.Header.Get(models.NewAccessTokenHeader),
		RefreshToken: resp.Header.Get(models.NewRefreshTokenHeader),
	}
	return pair, pair.AccessToken != "" && pair.RefreshToken != ""
}

// peekReason reads the 401 reason and restores the body for the caller.
func peekReason(resp *http.Response) string {
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return decodeReason(data)
}

func readReason(r io.Reader) string {
	data, err := io.ReadAll(r)
	if err != nil {
		return ""
	}
	return decodeReason(data)
}

func decodeReason(data []byte) string {
	var body models.ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.Reason
}
