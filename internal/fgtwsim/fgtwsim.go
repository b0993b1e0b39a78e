// Package fgtwsim is an in-memory double of FGTW, the external
// rendezvous directory and store-and-forward relay, used only by this
// module's own integration tests. It is never built into cmd/photon-node.
package fgtwsim

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gin-gonic/gin"
)

type attestationWire struct {
	HandleProof    string  `json:"handle_proof"`
	DevicePubkey   string  `json:"device_pubkey"`
	PublicEndpoint string  `json:"public_endpoint"`
	LocalIP        string  `json:"local_ip,omitempty"`
	LastSeen       float64 `json:"last_seen"`
}

// Server is a single-process stand-in for FGTW: an attestation table
// keyed by handle-proof, and a mailbox keyed by recipient device pubkey.
// Safe for concurrent use by multiple simulated nodes in a test.
type Server struct {
	router *gin.Engine
	ts     *httptest.Server

	mu           sync.Mutex
	attestations map[string]attestationWire
	mailboxes    map[string][][]byte
}

// New builds and starts an fgtwsim.Server on a loopback httptest listener.
// Call Close when done.
func New() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		router:       gin.New(),
		attestations: make(map[string]attestationWire),
		mailboxes:    make(map[string][][]byte),
	}
	s.router.Use(gin.Recovery())
	s.routes()
	s.ts = httptest.NewServer(s.router)
	return s
}

// URL is the base URL this simulated FGTW is listening on.
func (s *Server) URL() string { return s.ts.URL }

func (s *Server) Close() { s.ts.Close() }

func (s *Server) routes() {
	dir := s.router.Group("/directory")
	dir.PUT("/attest", s.handleAttest)
	dir.GET("/lookup/:proof", s.handleLookup)

	s.router.PUT("/conduit", s.handleConduitPut)
	s.router.GET("/conduit/:pubkey", s.handleConduitGet)
}

func (s *Server) handleAttest(c *gin.Context) {
	var wire attestationWire
	if err := c.ShouldBindJSON(&wire); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	s.attestations[wire.HandleProof] = wire
	s.mu.Unlock()
	c.Status(http.StatusOK)
}

func (s *Server) handleLookup(c *gin.Context) {
	// rendezvous.Client.Lookup addresses by hex-encoded proof in the URL
	// path but stores/reads the attestation body with the proof
	// base64-encoded (rendezvous.attestationWire); re-encode so both
	// call sites agree on one key.
	raw, err := hex.DecodeString(c.Param("proof"))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	key := base64.StdEncoding.EncodeToString(raw)

	s.mu.Lock()
	wire, ok := s.attestations[key]
	s.mu.Unlock()
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, wire)
}

func (s *Server) handleConduitPut(c *gin.Context) {
	recipient := c.GetHeader("X-Photon-Recipient")
	if recipient == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-Photon-Recipient"})
		return
	}
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	s.mailboxes[recipient] = append(s.mailboxes[recipient], payload)
	s.mu.Unlock()
	c.Status(http.StatusAccepted)
}

func (s *Server) handleConduitGet(c *gin.Context) {
	pubkey := c.Param("pubkey")
	s.mu.Lock()
	queued := s.mailboxes[pubkey]
	delete(s.mailboxes, pubkey)
	s.mu.Unlock()

	if len(queued) == 0 {
		c.Status(http.StatusNoContent)
		return
	}

	var buf []byte
	for _, p := range queued {
		var lenPrefix [8]byte
		binary.BigEndian.PutUint64(lenPrefix[:], uint64(len(p)))
		buf = append(buf, lenPrefix[:]...)
		buf = append(buf, p...)
	}
	c.Data(http.StatusOK, "application/octet-stream", buf)
}

// RecipientKey formats a device pubkey the same way rendezvous.Client's
// Submit/Pickup do, so a test can address the mailbox directly.
func RecipientKey(pub []byte) string {
	return base64.StdEncoding.EncodeToString(pub)
}
