// Package apitest runs the full HTTP stack in-process on in-memory storage
// with a controllable clock.
package apitest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/api"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/controller"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/service"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage/memory"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/util"
)

const APIKey = "test-admin-ui-key"

type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TokenConfig() *util.TokenConfig {
	return &util.TokenConfig{
		AccessSecret:       []byte("apitest-access-secret"),
		RefreshSecret:      []byte("apitest-refresh-secret"),
		Issuer:             "school-admin-test",
		AccessTTL:          15 * time.Minute,
		SessionTTL:         30 * time.Minute,
		RememberMeTTL:      24 * time.Hour,
		SessionAbsolute:    12 * time.Hour,
		RememberMeAbsolute: 720 * time.Hour,
		RotationGrace:      10 * time.Second,
		CourtesyWindow:     2 * time.Minute,
	}
}

type Server struct {
	*httptest.Server
	Clock    *Clock
	Accounts *memory.AccountRepository
	Sessions *memory.SessionRepository
	Notifier *service.RecordingNotifier
	Issuer   *service.TokenIssuer

	hasher       *service.PasswordHasher
	refreshCalls atomic.Int64
	reads        *readGate
}

// readGate holds session reads until a configured number of callers have
// read, so that concurrent rotations all observe the same session state.
type readGate struct {
	*memory.SessionRepository
	mu   sync.Mutex
	wg   *sync.WaitGroup
	left int
}

func (g *readGate) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	session, err := g.SessionRepository.GetSession(ctx, id)

	g.mu.Lock()
	wg := g.wg
	if wg != nil {
		g.left--
		if g.left == 0 {
			g.wg = nil
		}
	}
	g.mu.Unlock()

	if wg != nil {
		wg.Done()
		wg.Wait()
	}
	return session, err
}

func (g *readGate) hold(n int) {
	wg := &sync.WaitGroup{}
	wg.Add(n)
	g.mu.Lock()
	g.wg, g.left = wg, n
	g.mu.Unlock()
}

// NewServer starts the API on an httptest server. The server clock starts at
// the current second and only moves through Clock.Advance.
func NewServer(t testing.TB) *Server {
	t.Helper()
	log := zap.NewNop().Sugar()
	tc := TokenConfig()

	s := &Server{
		Clock:    &Clock{now: time.Now().UTC().Truncate(time.Second)},
		Accounts: memory.NewAccountRepository(),
		Sessions: memory.NewSessionRepository(log),
		Notifier: service.NewRecordingNotifier(),
		Issuer:   service.NewTokenIssuer(tc),
		hasher:   service.NewPasswordHasher(bcrypt.MinCost),
	}

	s.reads = &readGate{SessionRepository: s.Sessions}
	registry := service.NewSessionRegistry(s.reads, s.Accounts, s.Issuer, s.Notifier, tc,
		&util.RegistryConfig{Store: "memory", SweepInterval: time.Minute, Retention: time.Hour}, log).WithClock(s.Clock.Now)
	auth := service.NewAuthService(s.Accounts, registry, s.Issuer, s.hasher, log)

	a := api.NewAPI(
		controller.NewController(log, auth),
		auth,
		memory.NewAPIKeyRepository(models.APIKey{Key: APIKey, ClientID: "apitest"}),
		&util.ServerConfig{},
		&util.RateLimiterConfig{Limit: 10000, Interval: time.Second, BlockTime: time.Minute},
		log,
		nil,
	)
	require.NoError(t, a.Setup())

	handler := a.Handler()
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == models.RefreshPath {
			s.refreshCalls.Add(1)
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

// RefreshCalls counts requests that reached the refresh endpoint.
func (s *Server) RefreshCalls() int64 {
	return s.refreshCalls.Load()
}

// SyncSessionReads makes the next n session reads wait for each other, so n
// concurrent refreshes all load the session before any of them rotates it.
func (s *Server) SyncSessionReads(n int) {
	s.reads.hold(n)
}

func (s *Server) CreateAccount(t testing.TB, email, password string, role models.Role) *models.Account {
	t.Helper()
	hash, err := s.hasher.Hash(password)
	require.NoError(t, err)

	account := &models.Account{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		CreatedAt:    s.Clock.Now(),
	}
	require.NoError(t, s.Accounts.CreateAccount(context.Background(), account))
	return account
}
