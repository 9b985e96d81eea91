// Package client implements the client side of the exact payment scheme for
// TON networks. The client builds and signs a Jetton transfer as an external
// message; the facilitator broadcasts the resulting BOC.
package client

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/t402-io/t402/mechanisms/ton"
	"github.com/t402-io/t402/types"
)

// ExactTonScheme implements the SchemeNetworkClient interface for TON exact payments (V2)
type ExactTonScheme struct {
	signer ton.ClientTonSigner
	config *ton.ClientConfig
}

// NewExactTonScheme creates a new ExactTonScheme.
// Config is optional; network defaults are used when omitted.
func NewExactTonScheme(signer ton.ClientTonSigner, config ...*ton.ClientConfig) *ExactTonScheme {
	var cfg *ton.ClientConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	return &ExactTonScheme{
		signer: signer,
		config: cfg,
	}
}

// Scheme returns the scheme identifier
func (c *ExactTonScheme) Scheme() string {
	return ton.SchemeExact
}

// CreatePaymentPayload creates a V2 payment payload for the exact scheme.
// The wallet seqno provides replay protection: the signed message is only
// valid at the seqno it was built for.
func (c *ExactTonScheme) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	networkStr := string(requirements.Network)
	if !ton.IsValidNetwork(networkStr) {
		return types.PaymentPayload{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	if requirements.Asset == "" {
		return types.PaymentPayload{}, fmt.Errorf("asset (Jetton master address) is required")
	}
	if requirements.PayTo == "" {
		return types.PaymentPayload{}, fmt.Errorf("payTo address is required")
	}
	if requirements.Amount == "" {
		return types.PaymentPayload{}, fmt.Errorf("amount is required")
	}

	jettonAmount, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid amount: %w", err)
	}

	seqno, err := c.signer.GetSeqno(ctx)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to get seqno: %w", err)
	}

	now := time.Now().Unix()
	timeout := int64(requirements.MaxTimeoutSeconds)
	if timeout <= 0 {
		timeout = ton.DefaultValidityDuration
	}
	validUntil := now + timeout

	// Query id is unique per payment: timestamp plus seqno
	queryId := fmt.Sprintf("%d", now*1000000+seqno)

	// Attached TON covers Jetton forwarding gas; overridable via extra
	tonAmount := uint64(ton.DefaultJettonTransferTon)
	if extra, ok := requirements.Extra["tonAmount"]; ok {
		if tonAmountStr, ok := extra.(string); ok {
			if parsed, err := strconv.ParseUint(tonAmountStr, 10, 64); err == nil {
				tonAmount = parsed
			}
		}
	}

	authorization := ton.ExactTonAuthorization{
		From:         c.signer.Address(),
		To:           requirements.PayTo,
		JettonMaster: requirements.Asset,
		JettonAmount: strconv.FormatUint(jettonAmount, 10),
		TonAmount:    strconv.FormatUint(tonAmount, 10),
		ValidUntil:   validUntil,
		Seqno:        seqno,
		QueryId:      queryId,
	}

	// The signer builds the Jetton transfer body and wraps it in a signed
	// external message
	signedBoc, err := c.signer.SignMessage(ctx, ton.SignMessageParams{
		To:           requirements.PayTo,
		JettonMaster: requirements.Asset,
		JettonAmount: authorization.JettonAmount,
		TonAmount:    tonAmount,
		QueryId:      queryId,
		Timeout:      timeout,
	})
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign message: %w", err)
	}

	tonPayload := &ton.ExactTonPayload{
		SignedBoc:     signedBoc,
		Authorization: authorization,
	}

	return types.PaymentPayload{
		T402Version: 2,
		Payload:     tonPayload.ToMap(),
	}, nil
}
