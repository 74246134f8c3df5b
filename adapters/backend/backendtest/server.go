// Package backendtest is a stand-in for the Backend Session API. It backs the
// `smartlink sandbox` command and the package tests; links live in memory and
// tokens are ES256 JWTs.
package backendtest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apolo-dex/smartlink/adapters/tokenizer"
	"github.com/apolo-dex/smartlink/core"
	"github.com/apolo-dex/smartlink/ports"
	"github.com/gin-gonic/gin"
)

// DefaultTTL is the lifetime of sessions handed out by the sandbox
const DefaultTTL = time.Hour

// Server is an in-memory Backend Session API
type Server struct {
	tokenizer ports.Tokenizer
	router    *gin.Engine
	ttl       time.Duration

	mu           sync.Mutex
	links        map[string]string // lowercase wallet -> subject id
	revoked      map[string]bool
	lookupStatus int
	mintStatus   int
	lookups      int
	mints        int
	validations  int
	lastMint     core.MintRequest
}

// New creates a sandbox backend signing tokens with tok
func New(tok ports.Tokenizer) *Server {
	s := &Server{
		tokenizer: tok,
		ttl:       DefaultTTL,
		links:     make(map[string]string),
		revoked:   make(map[string]bool),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/link-status", s.handleLinkStatus)
	router.POST("/mint-session", s.handleMintSession)
	router.GET("/validate-session/:token", s.handleValidateSession)
	s.router = router

	return s
}

// NewTestServer starts a sandbox on a random port for the duration of t
func NewTestServer(t testing.TB) (*Server, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	s := New(tokenizer.NewJWTTokenizer(key))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetTTL changes the lifetime of sessions issued from now on
func (s *Server) SetTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = ttl
}

// Link records wallet as linked to subject
func (s *Server) Link(wallet, subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[strings.ToLower(wallet)] = subject
}

// FailLookups makes link-status answer with status; 0 restores normal behavior
func (s *Server) FailLookups(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookupStatus = status
}

// FailMints makes mint-session answer with status; 0 restores normal behavior
func (s *Server) FailMints(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mintStatus = status
}

// Revoke makes validate-session reject token
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[token] = true
}

// Lookups returns how many link-status requests were served
func (s *Server) Lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

// Mints returns how many mint-session requests were served
func (s *Server) Mints() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mints
}

// Validations returns how many validate-session requests were served
func (s *Server) Validations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validations
}

// LastMint returns the body of the most recent mint request
func (s *Server) LastMint() core.MintRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMint
}

func (s *Server) issue(c *gin.Context, wallet, subject string, ttl time.Duration) {
	session := &core.Session{
		ExpiresAt: time.Now().Add(ttl),
		SubjectID: subject,
	}
	token, err := s.tokenizer.SessionToToken(session, wallet)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":       token,
		"ttl_seconds": int64(ttl / time.Second),
		"subject_id":  subject,
	})
}

func (s *Server) handleLinkStatus(c *gin.Context) {
	wallet := c.Query("wallet")

	s.mu.Lock()
	s.lookups++
	status := s.lookupStatus
	subject, linked := s.links[strings.ToLower(wallet)]
	ttl := s.ttl
	s.mu.Unlock()

	if status != 0 {
		c.JSON(status, gin.H{"error": http.StatusText(status)})
		return
	}
	if !linked {
		c.JSON(http.StatusNotFound, gin.H{"error": "Wallet not linked"})
		return
	}

	s.issue(c, wallet, subject, ttl)
}

func (s *Server) handleMintSession(c *gin.Context) {
	var req core.MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	s.mu.Lock()
	s.mints++
	s.lastMint = req
	status := s.mintStatus
	ttl := s.ttl
	s.mu.Unlock()

	if status != 0 {
		c.JSON(status, gin.H{"error": http.StatusText(status)})
		return
	}
	if err := req.Assertion.Validate(); err != nil || req.WalletAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid assertion"})
		return
	}

	s.Link(req.WalletAddress, req.SubjectID)
	s.issue(c, req.WalletAddress, req.SubjectID, ttl)
}

func (s *Server) handleValidateSession(c *gin.Context) {
	token := c.Param("token")

	s.mu.Lock()
	s.validations++
	revoked := s.revoked[token]
	s.mu.Unlock()

	if revoked {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token revoked"})
		return
	}
	session, err := s.tokenizer.TokenToSession(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":      true,
		"subject_id": session.SubjectID,
		"expires_at": session.ExpiresAt.Unix(),
	})
}
