package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	t402 "github.com/t402-io/t402"
)

// VerifyRequest is the request body for /verify.
type VerifyRequest struct {
	PaymentPayload      json.RawMessage `json:"paymentPayload" binding:"required"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements" binding:"required"`
}

// SettleRequest is the request body for /settle.
type SettleRequest struct {
	PaymentPayload      json.RawMessage `json:"paymentPayload" binding:"required"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements" binding:"required"`
}

// handleVerify handles POST /verify. A completed evaluation always returns
// 200: an invalid payment is a result, not a transport error.
func (s *Server) handleVerify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": err.Error(),
		})
		return
	}

	network, scheme := extractNetworkScheme(req.PaymentRequirements)

	result, err := s.facilitator.Verify(
		c.Request.Context(),
		req.PaymentPayload,
		req.PaymentRequirements,
	)
	if err != nil {
		var verifyErr *t402.VerifyError
		if errors.As(err, &verifyErr) {
			s.metrics.RecordVerify(network, scheme, false)
			c.JSON(http.StatusOK, t402.VerifyResponse{
				IsValid:       false,
				InvalidReason: verifyErr.Reason,
				Payer:         verifyErr.Payer,
			})
			return
		}

		s.metrics.RecordVerify(network, scheme, false)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "verification failed",
			"details": err.Error(),
		})
		return
	}

	s.metrics.RecordVerify(network, scheme, result.IsValid)
	c.JSON(http.StatusOK, result)
}

// handleSettle handles POST /settle. Like /verify, a completed settlement
// attempt returns 200 whether or not it succeeded; the body carries the
// outcome and any transaction hash broadcast before a failure.
func (s *Server) handleSettle(c *gin.Context) {
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": err.Error(),
		})
		return
	}

	network, scheme := extractNetworkScheme(req.PaymentRequirements)

	result, err := s.facilitator.Settle(
		c.Request.Context(),
		req.PaymentPayload,
		req.PaymentRequirements,
	)
	if err != nil {
		var settleErr *t402.SettleError
		if errors.As(err, &settleErr) {
			s.metrics.RecordSettle(network, scheme, false)
			c.JSON(http.StatusOK, t402.SettleResponse{
				Success:     false,
				ErrorReason: settleErr.Reason,
				Payer:       settleErr.Payer,
				Transaction: settleErr.Transaction,
				Network:     settleErr.Network,
			})
			return
		}

		s.metrics.RecordSettle(network, scheme, false)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "settlement failed",
			"details": err.Error(),
		})
		return
	}

	s.metrics.RecordSettle(network, scheme, result.Success)
	c.JSON(http.StatusOK, result)
}

// handleSupported handles GET /supported.
func (s *Server) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, s.facilitator.GetSupported())
}

// extractNetworkScheme pulls network and scheme out of the requirements
// JSON for metric labels. Unparseable input labels as unknown rather than
// failing the request.
func extractNetworkScheme(requirements json.RawMessage) (string, string) {
	var req struct {
		Network string `json:"network"`
		Scheme  string `json:"scheme"`
	}
	if err := json.Unmarshal(requirements, &req); err != nil {
		return "unknown", "unknown"
	}
	if req.Network == "" {
		req.Network = "unknown"
	}
	if req.Scheme == "" {
		req.Scheme = "unknown"
	}
	return req.Network, req.Scheme
}
