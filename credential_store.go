package oneclaw

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/awnumar/memguard"
	"go.uber.org/zap"
)

// CachedToken is a bearer token obtained by exchanging an API key.
// A nil ExpiresAt means the server declared no lifetime.
type CachedToken struct {
	Value     string
	ExpiresAt *time.Time
}

// tokenResponse is the exchange endpoint's payload
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type userExchangeRequest struct {
	APIKey string `json:"api_key"`
}

type agentExchangeRequest struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

// exchangeFunc performs the HTTP exchange for the store
type exchangeFunc func(ctx context.Context, path string, body any) (*tokenResponse, error)

// tokenExchange is one in-flight exchange shared by every caller that
// arrived while it was running. waiters is guarded by the store's mutex.
type tokenExchange struct {
	done    chan struct{}
	cancel  context.CancelFunc
	waiters int

	token string
	err   error
}

// credentialStore owns the long-lived credential and the token derived
// from it. API keys are held in a memguard enclave and only decrypted for
// the duration of an exchange.
type credentialStore struct {
	preauth string
	agentID string
	sealed  *memguard.Enclave

	exchange exchangeFunc
	skew     time.Duration
	now      func() time.Time
	logger   *zap.Logger
	metrics  *Metrics

	closed atomic.Bool

	mu       sync.Mutex
	cached   *CachedToken
	inFlight *tokenExchange
}

func newCredentialStore(cred Credential, exchange exchangeFunc, skew time.Duration, now func() time.Time, logger *zap.Logger, metrics *Metrics) *credentialStore {
	s := &credentialStore{
		exchange: exchange,
		skew:     skew,
		now:      now,
		logger:   logger,
		metrics:  metrics,
	}
	switch c := cred.(type) {
	case PreAuthenticatedToken:
		s.preauth = c.Token
	case UserAPIKey:
		s.sealed = memguard.NewEnclave([]byte(c.Key))
	case AgentAPIKey:
		s.agentID = c.AgentID
		s.sealed = memguard.NewEnclave([]byte(c.Key))
	}
	return s
}

// refreshable reports whether a rejected token can be replaced
func (s *credentialStore) refreshable() bool {
	return s.preauth == ""
}

// AcquireToken returns a usable bearer token, exchanging the API key when
// the cached token is absent or expired. Concurrent callers share one
// exchange.
func (s *credentialStore) AcquireToken(ctx context.Context) (string, error) {
	if s.closed.Load() {
		return "", errClientClosed
	}
	if s.preauth != "" {
		return s.preauth, nil
	}

	s.mu.Lock()
	if s.cached != nil && !s.isExpired(*s.cached) {
		token := s.cached.Value
		s.mu.Unlock()
		return token, nil
	}
	ex := s.inFlight
	if ex == nil {
		if s.sealed == nil {
			s.mu.Unlock()
			return "", errClientClosed
		}
		ex = s.startExchangeLocked(ctx)
	}
	ex.waiters++
	s.mu.Unlock()

	select {
	case <-ex.done:
		s.leave(ex, false)
		return ex.token, ex.err
	case <-ctx.Done():
		s.leave(ex, true)
		return "", ctx.Err()
	}
}

// leave detaches a waiter. The exchange is cancelled once nobody is
// waiting for it any more, and a later caller starts a fresh one.
func (s *credentialStore) leave(ex *tokenExchange, abandoned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ex.waiters--
	if !abandoned || ex.waiters > 0 {
		return
	}
	if s.inFlight == ex {
		s.inFlight = nil
	}
	ex.cancel()
}

func (s *credentialStore) startExchangeLocked(ctx context.Context) *tokenExchange {
	// The exchange outlives the caller that started it, keeping only its values.
	exCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ex := &tokenExchange{
		done:   make(chan struct{}),
		cancel: cancel,
	}
	s.inFlight = ex
	go s.run(exCtx, ex, s.sealed)
	return ex
}

func (s *credentialStore) run(ctx context.Context, ex *tokenExchange, sealed *memguard.Enclave) {
	defer ex.cancel()

	start := s.now()
	s.logger.Debug("exchanging api key for bearer token", zap.Bool("agent", s.agentID != ""))
	resp, err := s.doExchange(ctx, sealed)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		ex.err = err
		s.metrics.exchange("failure")
		s.logger.Debug("token exchange failed", zap.Error(err))
	} else {
		token := s.newCachedToken(resp)
		if !s.closed.Load() {
			s.cached = token
		}
		ex.token = token.Value
		s.metrics.exchange("success")
		s.logger.Debug("token exchange finished",
			zap.Duration("took", s.now().Sub(start)),
			zap.Int64("expiresIn", resp.ExpiresIn))
	}
	if s.inFlight == ex {
		s.inFlight = nil
	}
	close(ex.done)
}

func (s *credentialStore) doExchange(ctx context.Context, sealed *memguard.Enclave) (*tokenResponse, error) {
	buf, err := sealed.Open()
	if err != nil {
		return nil, &Error{Kind: KindAuth, Message: "api key unavailable", Cause: err}
	}
	key := string(buf.Bytes())
	buf.Destroy()

	path, body := apiKeyTokenPath, any(userExchangeRequest{APIKey: key})
	if s.agentID != "" {
		path, body = agentTokenPath, agentExchangeRequest{AgentID: s.agentID, APIKey: key}
	}

	resp, err := s.exchange(ctx, path, body)
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, NewAuthError(0, "token exchange returned no access_token")
	}
	return resp, nil
}

func (s *credentialStore) newCachedToken(resp *tokenResponse) *CachedToken {
	token := &CachedToken{Value: resp.AccessToken}
	if resp.ExpiresIn > 0 {
		at := s.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
		token.ExpiresAt = &at
	}
	return token
}

// isExpired applies the skew margin to the declared expiry
func (s *credentialStore) isExpired(token CachedToken) bool {
	if token.ExpiresAt == nil {
		return false
	}
	return !s.now().Before(token.ExpiresAt.Add(-s.skew))
}

// Invalidate discards the cached token. A no-op for pre-authenticated
// tokens.
func (s *credentialStore) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// invalidateIfCurrent clears the cache only if it still holds the token the
// server just rejected. A token another caller already refreshed survives.
func (s *credentialStore) invalidateIfCurrent(token string) {
	s.mu.Lock()
	if s.cached != nil && s.cached.Value == token {
		s.cached = nil
	}
	s.mu.Unlock()
}

// cachedToken returns a copy of the current token, if any
func (s *credentialStore) cachedToken() (CachedToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		return CachedToken{}, false
	}
	return *s.cached, true
}

// close discards the token and drops the sealed key
func (s *credentialStore) close() {
	s.closed.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	s.sealed = nil
	if s.inFlight != nil {
		s.inFlight.cancel()
	}
}

var errClientClosed = errors.New("oneclaw: client closed")
