// Package gatewaytest provides an in-process fake of the legal-consultation
// gateway for tests. It issues signed tokens, accepts a fixed dev code and
// can be told to fail or to answer in the alternative response shapes the
// real backend has used.
package gatewaytest

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DevCode is the only code the fake accepts
	DevCode = "123456"

	maxAttempts = 5
	codeExpiry  = 5 * time.Minute
	tokenExpiry = 24 * time.Hour
)

// VerifyShape selects the body returned by a successful POST /auth/verify
type VerifyShape int

const (
	VerifyToken       VerifyShape = iota // {"token", "user": {"id", "phone"}}
	VerifyAccessToken                    // {"access_token", "token_type"}, no user
	VerifyJWT                            // {"jwt", "user": {"id", "phone_number"}}
	VerifyNoToken                        // {"user": {...}} only
)

// SubmitShape selects the acknowledgment body of POST /requests/
type SubmitShape int

const (
	SubmitID        SubmitShape = iota // {"id": "<uuid>"}
	SubmitNumericID                    // {"id": 17}
	SubmitDataID                       // {"data": {"id": "<uuid>"}}
	SubmitNoID                         // {"ok": true}
)

// ListShape selects the body of GET /requests/
type ListShape int

const (
	ListArray ListShape = iota
	ListItems
)

// Request is a consultation request held by the fake
type Request struct {
	ID        any    `json:"id"`
	Category  string `json:"category,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Details   string `json:"details,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	Owner     string `json:"-"`
}

// Article is a legal article served by GET /articles/
type Article struct {
	ID      int      `json:"id"`
	Title   string   `json:"title"`
	Year    *int     `json:"year"`
	Court   *string  `json:"court"`
	Summary *string  `json:"summary"`
	Tags    []string `json:"tags"`
}

type codeSession struct {
	hash      []byte
	expiresAt time.Time
	attempts  int
}

// Gateway is the fake backend. Configure it before or between calls; all
// methods are safe for concurrent use.
type Gateway struct {
	secret []byte
	salt   string

	mu          sync.Mutex
	codes       map[string]*codeSession
	users       map[string]string // phone -> user id
	requests    []Request
	articles    []Article
	nextID      int
	failures    map[string]int
	calls       map[string]int
	verifyShape VerifyShape
	submitShape SubmitShape
	listShape   ListShape
}

// New creates a fake gateway with an empty request store
func New() *Gateway {
	return &Gateway{
		secret:   []byte(uuid.NewString()),
		salt:     uuid.NewString(),
		codes:    make(map[string]*codeSession),
		users:    make(map[string]string),
		failures: make(map[string]int),
		calls:    make(map[string]int),
		nextID:   1,
	}
}

// Start serves the fake on an httptest server closed at test cleanup
func Start(t testing.TB) (*Gateway, *httptest.Server) {
	t.Helper()
	g := New()
	srv := httptest.NewServer(g.Router())
	t.Cleanup(srv.Close)
	return g, srv
}

// Router returns the chi router implementing the gateway contract
func (g *Gateway) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(g.countAndFail)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/request-code", g.handleRequestCode)
		r.Post("/verify", g.handleVerify)
	})
	r.Group(func(r chi.Router) {
		r.Use(g.requireBearer)
		r.Post("/requests/", g.handleSubmit)
		r.Get("/requests/", g.handleList)
	})
	r.Get("/articles/", g.handleArticles)
	return r
}

// Fail makes every call to "METHOD /path" answer with status until cleared
func (g *Gateway) Fail(route string, status int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[route] = status
}

// ClearFailures removes all injected failures
func (g *Gateway) ClearFailures() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = make(map[string]int)
}

// Calls returns how many times "METHOD /path" was hit
func (g *Gateway) Calls(route string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[route]
}

func (g *Gateway) SetVerifyShape(s VerifyShape) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyShape = s
}

func (g *Gateway) SetSubmitShape(s SubmitShape) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitShape = s
}

func (g *Gateway) SetListShape(s ListShape) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listShape = s
}

// Seed stores requests as if other clients had submitted them. Requests
// without an id get a uuid; those without a status are pending.
func (g *Gateway) Seed(reqs ...Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range reqs {
		if r.ID == nil {
			r.ID = uuid.NewString()
		}
		if r.Status == "" {
			r.Status = "pending"
		}
		if r.CreatedAt == "" {
			r.CreatedAt = time.Now().UTC().Format("2006-01-02T15:04:05.000000")
		}
		g.requests = append(g.requests, r)
	}
}

// SetStatus changes the status of the request with the given id
func (g *Gateway) SetStatus(id, status string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.requests {
		if fmt.Sprint(g.requests[i].ID) == id {
			g.requests[i].Status = status
			return true
		}
	}
	return false
}

// SetArticles replaces the article list
func (g *Gateway) SetArticles(articles ...Article) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.articles = append([]Article(nil), articles...)
}

// Requests returns a copy of everything submitted or seeded
func (g *Gateway) Requests() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Request(nil), g.requests...)
}

// SignToken issues a token for userID the way the fake's verify endpoint does
func (g *Gateway) SignToken(userID, phone string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &tokenClaims{
		PhoneNumber: phone,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

type tokenClaims struct {
	PhoneNumber string `json:"phone_number,omitempty"`
	jwt.RegisteredClaims
}

func (g *Gateway) verifyToken(raw string) (*tokenClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// issueCode stores the hash of DevCode for phone, replacing any earlier code
func (g *Gateway) issueCode(phone string) {
	g.codes[phone] = &codeSession{
		hash:      hashCode(phone, DevCode, g.salt),
		expiresAt: time.Now().Add(codeExpiry),
	}
}

// checkCode consumes the session on success or after too many attempts
func (g *Gateway) checkCode(phone, code string) bool {
	s, ok := g.codes[phone]
	if !ok || time.Now().After(s.expiresAt) {
		return false
	}
	s.attempts++
	if s.attempts > maxAttempts {
		delete(g.codes, phone)
		return false
	}
	if subtle.ConstantTimeCompare(hashCode(phone, code, g.salt), s.hash) != 1 {
		return false
	}
	delete(g.codes, phone)
	return true
}

func hashCode(phone, code, salt string) []byte {
	sum := sha256.Sum256([]byte(phone + ":" + code + ":" + salt))
	return sum[:]
}

func (g *Gateway) userFor(phone string) string {
	id, ok := g.users[phone]
	if !ok {
		id = uuid.NewString()
		g.users[phone] = id
	}
	return id
}

func (g *Gateway) newRequestID() any {
	if g.submitShape == SubmitNumericID {
		id := g.nextID
		g.nextID++
		return id
	}
	return uuid.NewString()
}
