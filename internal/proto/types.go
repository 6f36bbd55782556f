// Package proto holds the wire types exchanged with x402 clients and the
// facilitator. The shapes mirror the x402 "exact" scheme as seen across the
// ecosystem (maxAmountRequired, payTo, extra.name/version for EIP-712), not a
// project-specific dialect.
package proto

import "encoding/json"

// RequirementExtra carries chain-specific metadata a facilitator needs to
// verify a signature without touching the chain. Only EVM networks populate
// Name/Version (the EIP-712 domain of the USDC contract).
type RequirementExtra struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// PaymentRequirement is a single acceptable way to pay for a resource.
type PaymentRequirement struct {
	Scheme            string           `json:"scheme"`
	Network           string           `json:"network"`
	MaxAmountRequired string           `json:"maxAmountRequired"`
	Asset             string           `json:"asset"`
	PayTo             string           `json:"payTo"`
	Resource          string           `json:"resource"`
	Description       string           `json:"description"`
	MimeType          string           `json:"mimeType,omitempty"`
	OutputSchema      string           `json:"outputSchema,omitempty"`
	MaxTimeoutSeconds int              `json:"maxTimeoutSeconds"`
	Extra             RequirementExtra `json:"extra"`
}

// PaymentRequiredV1 is the full 402 JSON body x402 V1 sends.
type PaymentRequiredV1 struct {
	X402Version int                  `json:"x402Version"`
	Accepts     []PaymentRequirement `json:"accepts"`
	Error       string               `json:"error,omitempty"`
}

// PaymentRequiredV2 is the JSON that goes into the V2 "payment-required"
// response header (the V2 body itself is empty).
type PaymentRequiredV2 struct {
	X402Version int                  `json:"x402Version"`
	Accepts     []PaymentRequirement `json:"accepts"`
}

// PaymentArtifact is the decoded client payment object carried in X-PAYMENT
// (V1) or payment (V2). Payload is opaque beyond the tag fields: EVM carries
// an EIP-3009 TransferWithAuthorization message, Solana a signed transaction
// envelope.
type PaymentArtifact struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// EVMAuthorization is the EIP-3009 TransferWithAuthorization message signed
// by an EVM payer.
type EVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// EVMPayload is the Payload shape for scheme=exact on an EVM network.
type EVMPayload struct {
	Signature     string           `json:"signature"`
	Authorization EVMAuthorization `json:"authorization"`
}

// SolanaPayload is the Payload shape for scheme=exact on a Solana network: an
// opaque base58-encoded signed transaction envelope the facilitator submits
// as-is. The gateway rejects a transaction string that is not valid base58.
type SolanaPayload struct {
	Transaction string `json:"transaction"`
}

// SettlementReceipt is the facilitator's free-form settlement result. The
// gateway only reads Success/Transaction/ErrorReason; everything else is preserved
// verbatim for the client via the Raw field when re-encoding.
type SettlementReceipt struct {
	Success     bool            `json:"success"`
	Transaction string          `json:"transaction,omitempty"`
	ErrorReason string          `json:"errorReason,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// MarshalJSON re-emits Raw verbatim when present so unknown facilitator
// fields survive the round trip; otherwise it falls back to the typed view.
func (s SettlementReceipt) MarshalJSON() ([]byte, error) {
	if len(s.Raw) > 0 {
		return s.Raw, nil
	}
	type alias SettlementReceipt
	return json.Marshal(alias(s))
}

// UnmarshalJSON decodes the typed fields and keeps the original bytes in Raw
// so re-encoding for the response header is byte-for-byte what the
// facilitator sent.
func (s *SettlementReceipt) UnmarshalJSON(data []byte) error {
	type alias SettlementReceipt
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = SettlementReceipt(a)
	s.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// VerifyResult is the facilitator's response to /verify.
type VerifyResult struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}
