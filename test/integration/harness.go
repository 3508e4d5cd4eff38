// Package integration provides a reusable test harness for end-to-end
// testing of the journey server. It starts a full HTTP server over
// in-memory stores with a test JWT issuer and an optional mock kanban
// board.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chamahq/journey/internal/approval"
	"github.com/chamahq/journey/internal/config"
	"github.com/chamahq/journey/internal/definition"
	"github.com/chamahq/journey/internal/journey"
	"github.com/chamahq/journey/internal/transport"
)

// TestHarness encapsulates a fully wired journey server instance for
// integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Definitions *definition.Service
	Registry    *definition.Registry
	Engine      *journey.Engine
	Gate        *approval.Gate
	Resolver    *journey.Resolver
	Board       *MockBoard

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	policies       map[string]approval.Policy
	boardEnabled   bool
	handlerTimeout time.Duration
}

// WithPolicy declares an approval policy for the gate.
func WithPolicy(code string, policy approval.Policy) HarnessOption {
	return func(c *harnessConfig) {
		if c.policies == nil {
			c.policies = make(map[string]approval.Policy)
		}
		c.policies[code] = policy
	}
}

// WithBoard attaches a mock kanban board to the approval gate.
func WithBoard() HarnessOption {
	return func(c *harnessConfig) {
		c.boardEnabled = true
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// harnessPolicies adapts the option map to the gate's PolicySource.
// Undeclared policy codes block, matching production fail-safe behavior.
type harnessPolicies map[string]approval.Policy

func (p harnessPolicies) Lookup(code string) (approval.Policy, bool) {
	policy, ok := p[code]
	return policy, ok
}

func (p harnessPolicies) Blocking(code string) bool {
	policy, ok := p[code]
	if !ok {
		return true
	}
	return policy.Blocking
}

// NewTestHarness creates and starts a full journey server instance. The
// server is cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}

	defStore := definition.NewMemoryStore()
	h.Definitions = definition.NewService(defStore)
	h.Registry = definition.NewRegistry(defStore)
	h.Engine = journey.NewEngine(h.Registry, journey.NewMemoryStore())

	var gateOpts []approval.GateOption
	if hc.boardEnabled {
		h.Board = newMockBoard(t)
		client := approval.NewBoardClient(h.Board.URL(), "test-token", 2*time.Second, nil)
		gateOpts = append(gateOpts, approval.WithBoard(client))
	}
	h.Gate = approval.NewGate(
		approval.NewMemoryStore(),
		h.Engine,
		harnessPolicies(hc.policies),
		nil,
		gateOpts...,
	)
	h.Resolver = journey.NewResolver(h.Engine, h.Gate)

	h.issuer = newTokenIssuer(t)

	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Identity = config.IdentityConfig{
		Issuer:       h.issuer.Issuer(),
		Audience:     h.issuer.Audience(),
		JWKSURL:      h.issuer.JWKSURL(),
		JWKSCacheTTL: 1 * time.Hour,
		Algorithms:   []string{"RS256"},
	}
	h.cfg = cfg

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour, nil)
	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Resolver:     h.Resolver,
		Engine:       h.Engine,
		Gate:         h.Gate,
		Definitions:  h.Definitions,
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token)
}

func (h *TestHarness) doRequest(method, path string, body any, token string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.server.Client().Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// DecodeJSON reads and decodes a JSON response body.
func DecodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Mock kanban board ---

// BoardCard is one card the mock board received.
type BoardCard struct {
	ID          string
	PipelineID  string
	Title       string         `json:"title"`
	Description string         `json:"description"`
	ExternalRef string         `json:"external_ref"`
	Fields      map[string]any `json:"fields"`
}

// MockBoard is an in-process stand-in for the external kanban board API.
type MockBoard struct {
	mu     sync.Mutex
	server *httptest.Server
	cards  []BoardCard
	fail   bool
}

func newMockBoard(t *testing.T) *MockBoard {
	t.Helper()
	mb := &MockBoard{}
	mb.server = httptest.NewServer(http.HandlerFunc(mb.handle))
	t.Cleanup(mb.server.Close)
	return mb
}

func (mb *MockBoard) handle(w http.ResponseWriter, r *http.Request) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.fail {
		http.Error(w, "board unavailable", http.StatusServiceUnavailable)
		return
	}

	// POST /v1/pipelines/{pipelineId}/cards
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if r.Method != http.MethodPost || len(parts) != 4 || parts[1] != "pipelines" || parts[3] != "cards" {
		http.NotFound(w, r)
		return
	}

	var card BoardCard
	if err := json.NewDecoder(r.Body).Decode(&card); err != nil {
		http.Error(w, "bad card payload", http.StatusBadRequest)
		return
	}
	card.ID = uuid.New().String()
	card.PipelineID = parts[2]
	mb.cards = append(mb.cards, card)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": card.ID})
}

// URL returns the mock board's base URL.
func (mb *MockBoard) URL() string {
	return mb.server.URL
}

// Cards returns a copy of the cards received so far.
func (mb *MockBoard) Cards() []BoardCard {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return append([]BoardCard(nil), mb.cards...)
}

// SetFailing toggles whether the board rejects all requests.
func (mb *MockBoard) SetFailing(fail bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.fail = fail
}
