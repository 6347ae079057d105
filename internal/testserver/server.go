// Package testserver is an in-process fake of the 1claw API used by the
// SDK's tests. It issues bearer tokens for known API keys, protects
// resources behind bearer auth and optional x402 paywalls, and records
// every request it sees. Replies can be scripted per route.
package testserver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/1clawAI/1claw-sdk/x402"
)

// Reply is a scripted response. Body is JSON-encoded unless it is a
// string or []byte.
type Reply struct {
	Status int
	Header map[string]string
	Body   any
}

// Recorded is a request the server received
type Recorded struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Paywall guards a path with an x402 payment requirement
type Paywall struct {
	Required x402.PaymentRequired

	// InHeader sends the requirement in PAYMENT-REQUIRED instead of the body
	InHeader bool

	// Verify checks a presented payment. Nil accepts any well-formed payment.
	Verify func(x402.PaymentPayload) error

	// Receipt is returned in the settlement header. Nil sends a default receipt.
	Receipt *x402.SettleReceipt

	// ReceiptHeader overrides the raw settlement header value
	ReceiptHeader string
}

// Option configures a Server
type Option func(*Server)

// WithAPIKey accepts key at the user exchange endpoint
func WithAPIKey(key string) Option {
	return func(s *Server) {
		s.userKeys[key] = true
	}
}

// WithAgentKey accepts key for agentID at the agent exchange endpoint
func WithAgentKey(agentID, key string) Option {
	return func(s *Server) {
		s.agentKeys[agentID] = key
	}
}

// WithStaticToken accepts token as a bearer without an exchange
func WithStaticToken(token string) Option {
	return func(s *Server) {
		s.tokens[token] = true
	}
}

// WithExpiresIn sets expires_in for issued tokens. Zero omits it.
func WithExpiresIn(seconds int64) Option {
	return func(s *Server) {
		s.expiresIn = seconds
	}
}

// WithExchangeDelay makes token exchanges take d
func WithExchangeDelay(d time.Duration) Option {
	return func(s *Server) {
		s.exchangeDelay = d
	}
}

// WithWrappedTokens wraps exchange responses in {"data": ...}
func WithWrappedTokens() Option {
	return func(s *Server) {
		s.wrapTokens = true
	}
}

// WithPaywall puts path behind p
func WithPaywall(path string, p Paywall) Option {
	return func(s *Server) {
		s.paywalls[path] = p
	}
}

// Server is the fake API
type Server struct {
	URL string

	srv *httptest.Server

	mu            sync.Mutex
	userKeys      map[string]bool
	agentKeys     map[string]string
	tokens        map[string]bool
	paywalls      map[string]Paywall
	scripts       map[string][]Reply
	requests      []Recorded
	issued        int
	expiresIn     int64
	exchangeDelay time.Duration
	wrapTokens    bool
}

// New starts a server that is closed when the test ends
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		userKeys:  make(map[string]bool),
		agentKeys: make(map[string]string),
		tokens:    make(map[string]bool),
		paywalls:  make(map[string]Paywall),
		scripts:   make(map[string][]Reply),
		expiresIn: 3600,
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(s.record, s.scripted)
	engine.POST("/v1/auth/api-key-token", s.exchangeUserKey)
	engine.POST("/v1/auth/agent-token", s.exchangeAgentKey)
	engine.NoRoute(s.authenticate, s.paywall, s.resource)

	s.srv = httptest.NewServer(engine)
	s.URL = s.srv.URL
	t.Cleanup(s.srv.Close)
	return s
}

// Script queues replies for method and path. They are served in order
// before the route's normal behaviour resumes.
func (s *Server) Script(method, path string, replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := routeKey(method, path)
	s.scripts[key] = append(s.scripts[key], replies...)
}

// Requests returns what the server received for method and path
func (s *Server) Requests(method, path string) []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Recorded
	for _, r := range s.requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Count is len(Requests(method, path))
func (s *Server) Count(method, path string) int {
	return len(s.Requests(method, path))
}

// Total is the number of requests received on any route
func (s *Server) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Exchanges is the number of exchange requests received on either endpoint
func (s *Server) Exchanges() int {
	return s.Count(http.MethodPost, "/v1/auth/api-key-token") + s.Count(http.MethodPost, "/v1/auth/agent-token")
}

// Revoke makes token fail authentication from now on
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// RevokeAll invalidates every token issued so far
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]bool)
}

func (s *Server) record(c *gin.Context) {
	body, _ := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	s.mu.Lock()
	s.requests = append(s.requests, Recorded{
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
		Header: c.Request.Header.Clone(),
		Body:   body,
	})
	s.mu.Unlock()
}

func (s *Server) scripted(c *gin.Context) {
	key := routeKey(c.Request.Method, c.Request.URL.Path)

	s.mu.Lock()
	queue := s.scripts[key]
	if len(queue) == 0 {
		s.mu.Unlock()
		return
	}
	reply := queue[0]
	s.scripts[key] = queue[1:]
	s.mu.Unlock()

	for k, v := range reply.Header {
		c.Header(k, v)
	}
	c.Abort()
	switch body := reply.Body.(type) {
	case nil:
		c.Status(reply.Status)
	case string:
		c.Data(reply.Status, "application/json", []byte(body))
	case []byte:
		c.Data(reply.Status, "application/json", body)
	default:
		c.JSON(reply.Status, body)
	}
}

type exchangeRequest struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

func (s *Server) exchangeUserKey(c *gin.Context) {
	var req exchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.APIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"type": "validation", "message": "api_key is required"}})
		return
	}
	if !s.waitExchange(c) {
		return
	}

	s.mu.Lock()
	ok := s.userKeys[req.APIKey]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"type": "unauthorized", "message": "invalid api key"}})
		return
	}
	s.issue(c)
}

func (s *Server) exchangeAgentKey(c *gin.Context) {
	var req exchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.APIKey == "" || req.AgentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"type": "validation", "message": "agent_id and api_key are required"}})
		return
	}
	if !s.waitExchange(c) {
		return
	}

	s.mu.Lock()
	key, ok := s.agentKeys[req.AgentID]
	s.mu.Unlock()
	if !ok || key != req.APIKey {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"type": "unauthorized", "message": "invalid agent credentials"}})
		return
	}
	s.issue(c)
}

// waitExchange applies the configured delay. It reports false when the
// client went away first.
func (s *Server) waitExchange(c *gin.Context) bool {
	if s.exchangeDelay == 0 {
		return true
	}
	select {
	case <-time.After(s.exchangeDelay):
		return true
	case <-c.Request.Context().Done():
		return false
	}
}

func (s *Server) issue(c *gin.Context) {
	s.mu.Lock()
	s.issued++
	token := fmt.Sprintf("tok-%d", s.issued)
	s.tokens[token] = true
	expiresIn := s.expiresIn
	wrap := s.wrapTokens
	s.mu.Unlock()

	resp := gin.H{"access_token": token, "token_type": "Bearer"}
	if expiresIn > 0 {
		resp["expires_in"] = expiresIn
	}
	if wrap {
		c.JSON(http.StatusOK, gin.H{"data": resp})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) authenticate(c *gin.Context) {
	const prefix = "Bearer "
	auth := c.GetHeader("Authorization")
	token := ""
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		token = auth[len(prefix):]
	}

	s.mu.Lock()
	ok := s.tokens[token]
	s.mu.Unlock()
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"type": "unauthorized", "message": "invalid or expired token"},
		})
	}
}

func (s *Server) paywall(c *gin.Context) {
	s.mu.Lock()
	p, ok := s.paywalls[c.Request.URL.Path]
	s.mu.Unlock()
	if !ok {
		return
	}

	header := c.GetHeader(x402.HeaderPaymentSignature)
	if header == "" {
		header = c.GetHeader(x402.HeaderPayment)
	}
	if header == "" {
		s.demandPayment(c, p, "payment header is required")
		return
	}

	payload, err := x402.DecodePaymentHeader(header)
	if err != nil {
		s.demandPayment(c, p, err.Error())
		return
	}
	if !offered(p.Required, payload) {
		s.demandPayment(c, p, "payment does not match any offer")
		return
	}
	if p.Verify != nil {
		if err := p.Verify(payload); err != nil {
			s.demandPayment(c, p, err.Error())
			return
		}
	}

	receiptHeader := p.ReceiptHeader
	if receiptHeader == "" {
		receipt := x402.SettleReceipt{Success: true, Transaction: "0xsettled", Network: payload.Network}
		if p.Receipt != nil {
			receipt = *p.Receipt
		}
		receiptHeader, err = x402.EncodeSettleReceipt(receipt)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.Header(x402.HeaderPaymentResponse, receiptHeader)
	if payload.X402Version >= x402.ProtocolVersion {
		c.Header(x402.HeaderPaymentResponseV2, receiptHeader)
	}
}

func (s *Server) demandPayment(c *gin.Context, p Paywall, reason string) {
	required := p.Required
	required.Error = reason
	if p.InHeader {
		data, err := json.Marshal(required)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header(x402.HeaderPaymentRequired, base64.StdEncoding.EncodeToString(data))
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{})
		return
	}
	c.AbortWithStatusJSON(http.StatusPaymentRequired, required)
}

func (s *Server) resource(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		},
		"meta": gin.H{"request_id": c.GetHeader("X-Request-Id")},
	})
}

func offered(required x402.PaymentRequired, payload x402.PaymentPayload) bool {
	for _, offer := range required.Accepts {
		if offer.Scheme == payload.Scheme && payload.Network.Match(offer.Network) {
			return true
		}
	}
	return false
}

func routeKey(method, path string) string {
	return method + " " + path
}
