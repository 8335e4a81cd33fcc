package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const headerPaystackSignature = "x-paystack-signature"

// paystackWebhook ingests gateway notifications. Settlement errors are
// surfaced so the gateway retries the delivery; ignored event types are
// acknowledged.
func (s *Server) paystackWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.webhookSvc.Ingest(c.Request.Context(), payload, c.GetHeader(headerPaystackSignature)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
