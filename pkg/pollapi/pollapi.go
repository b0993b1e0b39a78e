// Package pollapi is the loopback HTTP surface a UI process polls for
// contact, ceremony, and message state. It is read-only: sends and
// contact management stay on the owning process's own control surface.
package pollapi

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nickspiker/photon/pkg/core"
	"github.com/nickspiker/photon/pkg/digest"
)

// Server serves the poll API for one Node.
type Server struct {
	node   *core.Node
	router *gin.Engine
}

// New builds the poll API router around a node. The caller runs it via
// Router().Run or an http.Server of its own.
func New(node *core.Node) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{node: node, router: gin.New()}
	s.router.Use(gin.Recovery())
	s.routes()
	return s
}

// Router exposes the underlying gin engine, e.g. for httptest in tests.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) routes() {
	v1 := s.router.Group("/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/contacts", s.handleContacts)
	v1.GET("/conversations/:token/messages", s.handleMessages)
}

func (s *Server) handleStatus(c *gin.Context) {
	snap, err := s.node.PollSnapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	online := 0
	for _, cs := range snap.Contacts {
		if cs.Online {
			online++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"handle":          snap.Handle,
		"contacts":        len(snap.Contacts),
		"contacts_online": online,
	})
}

type contactWire struct {
	Handle            string  `json:"handle"`
	HandleHash        string  `json:"handle_hash"`
	ConversationToken string  `json:"conversation_token"`
	Trust             string  `json:"trust"`
	CeremonyState     string  `json:"ceremony_state"`
	Online            bool    `json:"online"`
	LastSeen          float64 `json:"last_seen"`
	PendingCount      int     `json:"pending_count"`
	HasChains         bool    `json:"has_chains"`
}

func (s *Server) handleContacts(c *gin.Context) {
	snap, err := s.node.PollSnapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	out := make([]contactWire, 0, len(snap.Contacts))
	for _, cs := range snap.Contacts {
		out = append(out, contactWire{
			Handle:            cs.Handle,
			HandleHash:        cs.HandleHash,
			ConversationToken: cs.ConversationToken,
			Trust:             cs.Trust,
			CeremonyState:     cs.CeremonyState,
			Online:            cs.Online,
			LastSeen:          float64(cs.LastSeen),
			PendingCount:      cs.PendingCount,
			HasChains:         cs.HasChains,
		})
	}
	c.JSON(http.StatusOK, gin.H{"contacts": out})
}

type messageWire struct {
	Sender    string  `json:"sender_handle_hash"`
	Text      string  `json:"text"`
	EagleTime float64 `json:"eagle_time"`
	Outgoing  bool    `json:"outgoing"`
	Status    string  `json:"status"`
}

func (s *Server) handleMessages(c *gin.Context) {
	history := s.node.History()
	if history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no history store configured"})
		return
	}

	raw, err := hex.DecodeString(c.Param("token"))
	if err != nil || len(raw) != digest.Size {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation token must be 64 hex characters"})
		return
	}
	var token [digest.Size]byte
	copy(token[:], raw)

	limit := 0
	if q := c.Query("limit"); q != "" {
		limit, err = strconv.Atoi(q)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
	}

	msgs, err := history.Conversation(token, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]messageWire, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageWire{
			Sender:    hex.EncodeToString(m.SenderHandleHash[:]),
			Text:      m.Text,
			EagleTime: float64(m.EagleTime),
			Outgoing:  m.IsOutgoing,
			Status:    string(m.Status),
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}
