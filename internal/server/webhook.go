package server

import (
	"errors"
	"io"
	"net/http"

	paymentdomain "github.com/bitvend/bitvend/internal/payment/domain"
	paymentwebhook "github.com/bitvend/bitvend/internal/payment/webhook"
	"github.com/gin-gonic/gin"
)

// HandleGatewayWebhook accepts one gateway callback. Verification failures
// and malformed bodies share a single generic 400 so a forger learns nothing
// about which check tripped.
func (s *Server) HandleGatewayWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.WebhookMaxBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error"})
		return
	}

	outcome, err := s.webhookSvc.Ingest(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrInvalidSignature) || errors.Is(err, paymentdomain.ErrMalformedPayload) {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
		return
	}

	if outcome == paymentwebhook.OutcomeUnknownInvoice && !s.holder.Get().AckUnknownInvoice {
		c.JSON(http.StatusNotFound, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
