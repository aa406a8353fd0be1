package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orket/orket/pkg/clock"
	"github.com/orket/orket/pkg/models"
	"github.com/orket/orket/pkg/store"
)

// createSessionRequest starts a session over a target card. SessionID is
// optional; supplying one makes the call idempotent.
type createSessionRequest struct {
	SessionID    string `json:"session_id"`
	TargetCardID string `json:"target_card_id" binding:"required"`
}

// createSession launches a background session. Re-posting the same
// session_id returns the existing session with 200 instead of 201.
func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.cards.GetCard(c.Request.Context(), req.TargetCardID); err != nil {
		s.mapStoreError(c, err)
		return
	}

	created := false
	if req.SessionID == "" {
		req.SessionID = clock.NewSessionID()
		created = true
	} else if _, err := s.ledger.GetSession(c.Request.Context(), req.SessionID); errors.Is(err, store.ErrNotFound) {
		created = true
	}

	session, err := s.registry.Start(c.Request.Context(), req.SessionID, req.TargetCardID)
	if err != nil {
		s.mapStoreError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, session)
}

// getSession returns the session with its turns and events.
func (s *Server) getSession(c *gin.Context) {
	snapshot, err := s.ledger.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// cancelSession stops a running session.
func (s *Server) cancelSession(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.ledger.GetSession(c.Request.Context(), id); err != nil {
		s.mapStoreError(c, err)
		return
	}
	if err := s.registry.Cancel(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": id, "status": "cancelling"})
}

// getCard returns one card.
func (s *Server) getCard(c *gin.Context) {
	card, err := s.cards.GetCard(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

// listCards returns cards, optionally filtered by status.
func (s *Server) listCards(c *gin.Context) {
	var (
		cards []*models.Card
		err   error
	)
	if raw := c.Query("status"); raw != "" {
		status := models.Status(raw)
		if !status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + raw})
			return
		}
		cards, err = s.cards.ListByStatus(c.Request.Context(), status)
	} else {
		cards, err = s.cards.ListAll(c.Request.Context())
	}
	if err != nil {
		s.mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards, "count": len(cards)})
}

// mapStoreError translates store sentinels into HTTP status codes. Every
// other error is a 500 with the detail logged, not leaked.
func (s *Server) mapStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrAlreadyExists), errors.Is(err, store.ErrActiveSessionExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrStaleState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.Error("Request failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
