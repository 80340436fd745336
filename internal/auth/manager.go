package auth

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/toolhub/ghmcp/internal/core"
	"github.com/toolhub/ghmcp/internal/logging"
)

const DefaultCacheDuration = 3600 * time.Second

type Status string

const (
	StatusNotAuthenticated  Status = "not_authenticated"
	StatusValidationPending Status = "token_validation_pending"
	StatusAuthenticated     Status = "authenticated"
	StatusTokenExpired      Status = "token_expired"
	StatusNeedsRevalidation Status = "needs_revalidation"
)

// Credential is the bearer secret plus what is known about it.
type Credential struct {
	secret      string
	Kind        string
	ValidatedAt time.Time
	ExpiresAt   *time.Time
	Scopes      []string
}

// Identity is the upstream account a credential resolved to.
type Identity struct {
	Login   string `json:"login"`
	ID      int64  `json:"id"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	HTMLURL string `json:"html_url"`
	Type    string `json:"type,omitempty"`
}

// Verification is what upstream reports about a credential.
type Verification struct {
	Identity  Identity
	Scopes    []string
	ExpiresAt *time.Time
}

type Verifier interface {
	Verify(ctx context.Context, token string) (*Verification, error)
}

type Option func(*Manager)

func WithCacheDuration(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.cacheDuration = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithEventSink(sink core.EventSink) Option {
	return func(m *Manager) {
		if sink != nil {
			m.sink = sink
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager owns one session's credential and cached identity.
type Manager struct {
	mu            sync.Mutex
	cred          *Credential
	identity      *Identity
	cacheDuration time.Duration
	now           func() time.Time
	sink          core.EventSink
	logger        *slog.Logger
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		cacheDuration: DefaultCacheDuration,
		now:           time.Now,
		sink:          core.NopSink{},
		logger:        logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetCredential replaces the credential and drops any cached identity.
func (m *Manager) SetCredential(raw string) error {
	cred, err := m.newCredential(raw)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cred = cred
	m.identity = nil
	m.mu.Unlock()

	m.logger.Debug("credential set", "token", logging.SanitizeToken(raw), "token_kind", cred.Kind)
	m.sink.AuthEvent(context.Background(), core.AuthEvent{Kind: core.AuthCredentialSet, TokenKind: cred.Kind})
	return nil
}

func (m *Manager) newCredential(raw string) (*Credential, error) {
	if raw == "" {
		return nil, core.Authentication("Token cannot be empty")
	}
	if len(raw) < minTokenLength {
		return nil, core.Authentication("Token appears to be too short")
	}
	cred := &Credential{
		secret:      raw,
		Kind:        DetectKind(raw),
		ValidatedAt: m.now(),
	}
	if exp, ok := jwtExpiry(raw); ok {
		cred.ExpiresAt = &exp
	}
	return cred, nil
}

func (m *Manager) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validLocked(m.now())
}

func (m *Manager) validLocked(now time.Time) bool {
	if m.cred == nil {
		return false
	}
	if m.hardExpiredLocked(now) {
		return false
	}
	return now.Sub(m.cred.ValidatedAt) < m.cacheDuration
}

func (m *Manager) hardExpiredLocked(now time.Time) bool {
	return m.cred.ExpiresAt != nil && !now.Before(*m.cred.ExpiresAt)
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	switch {
	case m.cred == nil:
		return StatusNotAuthenticated
	case m.hardExpiredLocked(now):
		return StatusTokenExpired
	case now.Sub(m.cred.ValidatedAt) >= m.cacheDuration:
		return StatusNeedsRevalidation
	case m.identity != nil:
		return StatusAuthenticated
	default:
		return StatusValidationPending
	}
}

// EnsureValid returns the cached identity while the credential is inside its
// cache window, and otherwise asks v to verify it again.
func (m *Manager) EnsureValid(ctx context.Context, v Verifier) (*Identity, error) {
	m.mu.Lock()
	if m.cred == nil {
		m.mu.Unlock()
		return nil, core.Authentication("No authentication token provided")
	}
	if m.validLocked(m.now()) && m.identity != nil {
		id := *m.identity
		m.mu.Unlock()
		return &id, nil
	}
	m.mu.Unlock()
	return m.verify(ctx, v)
}

// Login verifies raw and only then installs it as the session credential.
// A failed login leaves any existing credential and identity in place.
func (m *Manager) Login(ctx context.Context, raw string, v Verifier) (*Identity, error) {
	cred, err := m.newCredential(raw)
	if err != nil {
		return nil, err
	}

	res, err := v.Verify(ctx, raw)
	if err != nil {
		m.sink.AuthEvent(ctx, core.AuthEvent{Kind: core.AuthValidationFailed, TokenKind: cred.Kind, Err: err})
		return nil, fmt.Errorf("verify credential: %w", err)
	}

	cred.ValidatedAt = m.now()
	cred.Scopes = slices.Clone(res.Scopes)
	if res.ExpiresAt != nil {
		exp := *res.ExpiresAt
		cred.ExpiresAt = &exp
	}
	id := res.Identity
	cached := id

	m.mu.Lock()
	m.cred = cred
	m.identity = &cached
	m.mu.Unlock()

	m.logger.Debug("credential set", "token", logging.SanitizeToken(raw), "token_kind", cred.Kind)
	m.sink.AuthEvent(ctx, core.AuthEvent{Kind: core.AuthCredentialSet, TokenKind: cred.Kind})
	m.sink.AuthEvent(ctx, core.AuthEvent{Kind: core.AuthValidated, Login: id.Login, TokenKind: cred.Kind})
	return &id, nil
}

func (m *Manager) verify(ctx context.Context, v Verifier) (*Identity, error) {
	m.mu.Lock()
	if m.cred == nil {
		m.mu.Unlock()
		return nil, core.Authentication("No authentication token provided")
	}
	cred := m.cred
	m.mu.Unlock()

	res, err := v.Verify(ctx, cred.secret)
	if err != nil {
		m.sink.AuthEvent(ctx, core.AuthEvent{Kind: core.AuthValidationFailed, TokenKind: cred.Kind, Err: err})
		if core.IsKind(err, core.KindAuthentication) {
			m.clearIf(ctx, cred)
		}
		return nil, fmt.Errorf("verify credential: %w", err)
	}

	id := res.Identity
	m.mu.Lock()
	// A concurrent SetCredential wins over this result.
	if m.cred != cred {
		m.mu.Unlock()
		return &id, nil
	}
	m.cred.ValidatedAt = m.now()
	m.cred.Scopes = slices.Clone(res.Scopes)
	if res.ExpiresAt != nil {
		exp := *res.ExpiresAt
		m.cred.ExpiresAt = &exp
	}
	cached := id
	m.identity = &cached
	m.mu.Unlock()

	m.logger.Debug("credential validated", "login", id.Login, "token_kind", cred.Kind, "scopes", res.Scopes)
	m.sink.AuthEvent(ctx, core.AuthEvent{Kind: core.AuthValidated, Login: id.Login, TokenKind: cred.Kind})
	return &id, nil
}

func (m *Manager) HasScope(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred != nil && slices.Contains(m.cred.Scopes, name)
}

// CheckScopePermission passes when no scopes are known, when the exact scope
// or the umbrella "repo" scope is held, or when a sub-scope of name is held.
func (m *Manager) CheckScopePermission(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return core.Authentication("No authentication token provided")
	}
	scopes := m.cred.Scopes
	if len(scopes) == 0 {
		return nil
	}
	for _, s := range scopes {
		if s == name || s == "repo" || strings.HasPrefix(s, name+":") {
			return nil
		}
	}
	return core.PermissionDenied(fmt.Sprintf("Insufficient permissions. Required scope: '%s', available scopes: [%s]",
		name, strings.Join(scopes, ", ")))
}

// SetExpiry records a hard expiry learned out of band, for example from a
// GitHub App installation token response.
func (m *Manager) SetExpiry(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred != nil {
		m.cred.ExpiresAt = &t
	}
}

func (m *Manager) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return "", false
	}
	return m.cred.secret, true
}

func (m *Manager) Clear() {
	m.mu.Lock()
	had := m.cred != nil
	m.cred = nil
	m.identity = nil
	m.mu.Unlock()
	if had {
		m.sink.AuthEvent(context.Background(), core.AuthEvent{Kind: core.AuthCleared})
	}
}

func (m *Manager) clearIf(ctx context.Context, cred *Credential) {
	m.mu.Lock()
	if m.cred != cred {
		m.mu.Unlock()
		return
	}
	m.cred = nil
	m.identity = nil
	m.mu.Unlock()
	m.logger.Info("credential rejected by upstream, cleared", "token_kind", cred.Kind)
	m.sink.AuthEvent(ctx, core.AuthEvent{Kind: core.AuthCleared, TokenKind: cred.Kind})
}

// Summary is a secret-free view of the session.
type Summary struct {
	Status    Status         `json:"status"`
	TokenKind string         `json:"token_kind,omitempty"`
	Login     string         `json:"login,omitempty"`
	Scopes    []string       `json:"scopes,omitempty"`
	Age       time.Duration  `json:"age,omitempty"`
	ExpiresIn *time.Duration `json:"expires_in,omitempty"`
}

func (m *Manager) Summary() Summary {
	status := m.Status()

	m.mu.Lock()
	defer m.mu.Unlock()
	s := Summary{Status: status}
	if m.cred == nil {
		return s
	}
	now := m.now()
	s.TokenKind = m.cred.Kind
	s.Scopes = slices.Clone(m.cred.Scopes)
	s.Age = now.Sub(m.cred.ValidatedAt)
	if m.cred.ExpiresAt != nil {
		d := m.cred.ExpiresAt.Sub(now)
		s.ExpiresIn = &d
	}
	if m.identity != nil {
		s.Login = m.identity.Login
	}
	return s
}
