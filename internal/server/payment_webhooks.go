package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	reconciledomain "github.com/smallbiznis/paysync/internal/reconcile/domain"
)

const maxWebhookBody = 1 << 20

// HandlePaymentWebhook acknowledges every delivery the ledger accepted,
// duplicates included. Applying the event may still fail; the sweep retries it.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, newValidationError("body", "too_large", "payload too large"))
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	_, err = s.reconcileSvc.IngestWebhook(c.Request.Context(), reconciledomain.IngestWebhookRequest{
		Provider: provider,
		Payload:  payload,
		Headers:  c.Request.Header,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
