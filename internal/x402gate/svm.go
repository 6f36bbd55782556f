// Solana payment artifacts carry an opaque signed-transaction envelope
// rather than a structured authorization message; the gateway's only job
// is to confirm it decodes to bytes before handing it to the facilitator,
// which is the chain that actually parses and submits it. Grounded on the
// base58 transaction-envelope handling used across the x402 Solana
// implementations in the pack (mark3labs-x402-go, t402-io).
package x402gate

import (
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/marlinprotocol/x402-gateway/internal/networks"
	"github.com/marlinprotocol/x402-gateway/internal/proto"
)

// validateSVMPayload decodes artifact.Payload as a SolanaPayload and
// confirms the transaction field is valid base58, rejecting obviously
// malformed envelopes before they reach the facilitator.
func validateSVMPayload(artifact *proto.PaymentArtifact) error {
	var payload proto.SolanaPayload
	if err := json.Unmarshal(artifact.Payload, &payload); err != nil {
		return fmt.Errorf("decoding solana payload: %w", err)
	}
	if payload.Transaction == "" {
		return fmt.Errorf("solana payload missing transaction")
	}
	if _, err := base58.Decode(payload.Transaction); err != nil {
		return fmt.Errorf("solana transaction is not valid base58: %w", err)
	}
	return nil
}

// validateArtifactPayload dispatches payload-shape validation by network
// family, run once a requirement match confirms which family applies.
func validateArtifactPayload(artifact *proto.PaymentArtifact, family networks.Family) error {
	if family == networks.FamilySolana {
		return validateSVMPayload(artifact)
	}
	// EVM payloads are structurally validated by the facilitator (remote or
	// local) at Verify time; the gateway does not duplicate that parsing.
	return nil
}
