package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
)

const (
	EnvelopeVersion = 2

	DurableKey   = "school_admin_session"
	EphemeralKey = "school_admin_session_tab"
)

// Envelope is the persisted client session.
type Envelope struct {
	AccessToken     string                  `json:"accessToken"`
	RefreshToken    string                  `json:"refreshToken"`
	Account         models.Account          `json:"account"`
	RememberMe      bool                    `json:"rememberMe"`
	SavedAt         time.Time               `json:"savedAt"`
	Version         int                     `json:"version"`
	SessionMetadata *models.SessionMetadata `json:"sessionMetadata,omitempty"`
}

func (e *Envelope) Pair() models.TokenPair {
	return models.TokenPair{AccessToken: e.AccessToken, RefreshToken: e.RefreshToken}
}

// Manager owns the persisted session. rememberMe selects the durable tier,
// otherwise the ephemeral one; only one tier holds an envelope at a time.
//
// generation changes whenever the session is replaced or cleared, so a token
// update computed against an older generation is discarded.
type Manager struct {
	mu         sync.RWMutex
	durable    Storage
	ephemeral  Storage
	current    *Envelope
	generation uint64
	now        func() time.Time
	log        *zap.SugaredLogger
}

func NewManager(durable, ephemeral Storage, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		durable:   durable,
		ephemeral: ephemeral,
		now:       time.Now,
		log:       log,
	}
}

// Load reads the envelope from storage, ephemeral tier first. Envelopes of
// another version and legacy shapes are removed and reported as ErrNoSession.
func (m *Manager) Load() (*Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tier := range []struct {
		store Storage
		key   string
	}{{m.ephemeral, EphemeralKey}, {m.durable, DurableKey}} {
		raw, err := tier.store.Load(tier.key)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		env, ok := m.decode(raw)
		if !ok {
			if err := tier.store.Remove(tier.key); err != nil {
				m.log.Warnw("failed to discard unreadable session", "key", tier.key, "error", err)
			}
			continue
		}
		m.current = env
		m.generation++
		return copyEnvelope(env), nil
	}

	m.current = nil
	return nil, ErrNoSession
}

// decode accepts only a current-version envelope with both tokens. Raw token
// strings and pre-versioned {token,user} objects are rejected.
func (m *Manager) decode(raw []byte) (*Envelope, bool) {
	var head struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		m.log.Infow("discarding legacy session format", "reason", "not an object")
		return nil, false
	}
	if head.Version == nil || *head.Version != EnvelopeVersion {
		m.log.Infow("discarding session with unsupported version")
		return nil, false
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.AccessToken == "" || env.RefreshToken == "" {
		return nil, false
	}
	return &env, true
}

// Save replaces the session, writing it to the tier chosen by rememberMe and
// removing it from the other.
func (m *Manager) Save(pair models.TokenPair, account models.Account, rememberMe bool, meta *models.SessionMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	env := &Envelope{
		AccessToken:     pair.AccessToken,
		RefreshToken:    pair.RefreshToken,
		Account:         account,
		RememberMe:      rememberMe,
		Version:         EnvelopeVersion,
		SessionMetadata: meta,
	}
	if err := m.persist(env); err != nil {
		return err
	}
	m.current = env
	m.generation++
	return nil
}

// Clear removes the session from both tiers. Pending token updates are dropped.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = nil
	m.generation++
	return errors.Join(m.durable.Remove(DurableKey), m.ephemeral.Remove(EphemeralKey))
}

// End clears the session only if it is still the one observed at generation.
// It reports false, leaving storage untouched, when the session was cleared
// or replaced since.
func (m *Manager) End(generation uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.generation != generation {
		return false, nil
	}
	m.current = nil
	m.generation++
	return true, errors.Join(m.durable.Remove(DurableKey), m.ephemeral.Remove(EphemeralKey))
}

func (m *Manager) CurrentAccessToken() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return "", ErrNoSession
	}
	return m.current.AccessToken, nil
}

// Snapshot returns a copy of the current envelope with its generation.
func (m *Manager) Snapshot() (*Envelope, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return nil, m.generation
	}
	return copyEnvelope(m.current), m.generation
}

// Replace installs a rotated pair in place. It applies only while the
// generation is unchanged and the stored refresh token is still the one the
// rotation consumed (replaced); otherwise the update is stale and dropped
// with ErrSessionReplaced.
func (m *Manager) Replace(generation uint64, replaced string, pair models.TokenPair, meta *models.SessionMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.generation != generation {
		return ErrSessionReplaced
	}
	if m.current.RefreshToken == pair.RefreshToken {
		return nil
	}
	if m.current.RefreshToken != replaced {
		return ErrSessionReplaced
	}

	env := copyEnvelope(m.current)
	env.AccessToken = pair.AccessToken
	env.RefreshToken = pair.RefreshToken
	if meta != nil {
		env.SessionMetadata = meta
	}
	if err := m.persist(env); err != nil {
		return err
	}
	m.current = env
	return nil
}

func (m *Manager) persist(env *Envelope) error {
	env.SavedAt = m.now().UTC()
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	store, key, other, otherKey := m.ephemeral, EphemeralKey, m.durable, DurableKey
	if env.RememberMe {
		store, key, other, otherKey = m.durable, DurableKey, m.ephemeral, EphemeralKey
	}
	if err := store.Store(key, data); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	if err := other.Remove(otherKey); err != nil {
		m.log.Warnw("failed to remove session from other tier", "key", otherKey, "error", err)
	}
	return nil
}

func copyEnvelope(e *Envelope) *Envelope {
	c := *e
	if e.SessionMetadata != nil {
		meta := *e.SessionMetadata
		c.SessionMetadata = &meta
	}
	return &c
}
