// Package webhook accepts signed repository events and maps them onto
// cards. Only the webhook_v0 payload shape is supported.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orket/orket/pkg/clock"
	"github.com/orket/orket/pkg/models"
	"github.com/orket/orket/pkg/store"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Orket-Signature"

// Intake validates and applies incoming webhook events.
type Intake struct {
	secret []byte
	cards  *store.CardStore
	logger *slog.Logger
}

// NewIntake creates a webhook intake. An empty secret disables the
// endpoint: every request is rejected.
func NewIntake(secret string, cards *store.CardStore, logger *slog.Logger) *Intake {
	return &Intake{secret: []byte(secret), cards: cards, logger: logger}
}

// Register mounts the intake route on the API router.
func (i *Intake) Register(router *gin.Engine) {
	router.POST("/v1/webhooks/gitea", i.handle)
}

// payload is the webhook_v0 event shape.
type payload struct {
	Version string `json:"version"`
	Event   string `json:"event"`
	PullRequest struct {
		ID     int64  `json:"id"`
		Title  string `json:"title"`
		URL    string `json:"url"`
		Branch string `json:"branch"`
	} `json:"pull_request"`
	// CardID links the event to an existing card when the branch name
	// carries one.
	CardID string `json:"card_id"`
}

// handle verifies the signature and applies the event. Unknown events are
// acknowledged and ignored so senders do not retry forever.
func (i *Intake) handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if !i.verify(body, c.GetHeader(SignatureHeader)) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var event payload
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}
	if event.Version != "webhook_v0" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported payload version " + event.Version})
		return
	}

	switch event.Event {
	case "pr_opened":
		i.prOpened(c, event)
	default:
		i.logger.Info("Ignoring webhook event", slog.String("event", event.Event))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	}
}

// verify checks the hex HMAC-SHA256 signature in constant time.
func (i *Intake) verify(body []byte, signature string) bool {
	if len(i.secret) == 0 || signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, i.secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// prOpened maps an opened pull request onto a review card: an existing
// linked card moves to CODE_REVIEW, otherwise a new task card is created
// directly in CODE_REVIEW.
func (i *Intake) prOpened(c *gin.Context, event payload) {
	ctx := c.Request.Context()

	if event.CardID != "" {
		card, err := i.cards.GetCard(ctx, event.CardID)
		if err == nil {
			err = i.cards.ProposeTransition(ctx, store.TransitionRequest{
				CardID:     card.ID,
				FromStatus: card.Status,
				ToStatus:   models.StatusCodeReview,
				Detail:     "pull request opened: " + event.PullRequest.URL,
			})
		}
		if err != nil {
			i.logger.Error("Failed to move card to review",
				slog.String("card_id", event.CardID),
				slog.String("error", err.Error()))
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"card_id": event.CardID, "status": string(models.StatusCodeReview)})
		return
	}

	card := &models.Card{
		ID:     clock.NewCardID(),
		Kind:   models.KindTask,
		Title:  event.PullRequest.Title,
		Status: models.StatusCodeReview,
		Role:   "reviewer",
		Metadata: map[string]string{
			"pr_url": event.PullRequest.URL,
		},
	}
	if err := i.cards.CreateCard(ctx, card); err != nil {
		i.logger.Error("Failed to create review card", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"card_id": card.ID, "status": string(card.Status)})
}
