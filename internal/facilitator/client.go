// Package facilitator talks to the external x402 facilitator service that
// verifies and settles payments. Shape grounded on the teacher's
// RemoteFacilitator (gateway/x402/facilitator.go): POST JSON to
// <url>/verify and <url>/settle, 30s client timeout, non-2xx/bad-JSON
// collapse to a single wrapped error.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/marlinprotocol/x402-gateway/internal/proto"
)

// Timeout is the per-RPC timeout applied to both /verify and /settle calls
// (spec default: 30s).
const Timeout = 30 * time.Second

// Client is the facilitator API surface the protocol state machine depends
// on. A HTTPClient is the production implementation; tests may supply a
// stub.
type Client interface {
	Verify(ctx context.Context, artifact proto.PaymentArtifact, requirement proto.PaymentRequirement) (*proto.VerifyResult, error)
	Settle(ctx context.Context, artifact proto.PaymentArtifact, requirement proto.PaymentRequirement) (*proto.SettlementReceipt, error)
}

// HTTPClient is the production Client, talking to a real facilitator over
// HTTPS.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// New creates a HTTPClient against baseURL (no trailing slash required).
func New(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: Timeout},
	}
}

type rpcBody struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      proto.PaymentArtifact    `json:"paymentPayload"`
	PaymentRequirements proto.PaymentRequirement `json:"paymentRequirements"`
}

// Verify calls POST <baseURL>/verify.
func (c *HTTPClient) Verify(ctx context.Context, artifact proto.PaymentArtifact, requirement proto.PaymentRequirement) (*proto.VerifyResult, error) {
	var result proto.VerifyResult
	if err := c.post(ctx, "/verify", artifact, requirement, &result); err != nil {
		return nil, fmt.Errorf("facilitator verify: %w", err)
	}
	return &result, nil
}

// Settle calls POST <baseURL>/settle.
func (c *HTTPClient) Settle(ctx context.Context, artifact proto.PaymentArtifact, requirement proto.PaymentRequirement) (*proto.SettlementReceipt, error) {
	var receipt proto.SettlementReceipt
	if err := c.post(ctx, "/settle", artifact, requirement, &receipt); err != nil {
		return nil, fmt.Errorf("facilitator settle: %w", err)
	}
	return &receipt, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, artifact proto.PaymentArtifact, requirement proto.PaymentRequirement, dst interface{}) error {
	version := artifact.X402Version
	if version == 0 {
		version = 1
	}
	body, err := json.Marshal(rpcBody{
		X402Version:         version,
		PaymentPayload:      artifact,
		PaymentRequirements: requirement,
	})
	if err != nil {
		return fmt.Errorf("marshalling request: %w", err)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	slog.Debug("facilitator call", "url", url, "status", resp.StatusCode)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("facilitator returned %d: %s", resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
