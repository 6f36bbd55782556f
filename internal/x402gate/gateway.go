// Gateway wires the router, requirements builder, facilitator client,
// backend proxy, and signing identity into the request lifecycle the
// teacher's gateway/x402/middleware.go implemented for a single hardcoded
// network: classify path, challenge or verify payment, forward to the
// backend, settle, and sign the delivered response. Dispatch between the
// V1 (body-carried) and V2 (header-carried) wire revisions is decided by
// the "-v2" path suffix: V1 reads the payment from X-Payment, V2 from Payment.
package x402gate

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/marlinprotocol/x402-gateway/internal/config"
	"github.com/marlinprotocol/x402-gateway/internal/facilitator"
	"github.com/marlinprotocol/x402-gateway/internal/middleware"
	"github.com/marlinprotocol/x402-gateway/internal/proto"
	"github.com/marlinprotocol/x402-gateway/internal/proxy"
	"github.com/marlinprotocol/x402-gateway/internal/requirements"
	"github.com/marlinprotocol/x402-gateway/internal/router"
	"github.com/marlinprotocol/x402-gateway/internal/signing"
)

const (
	headerV1Payment      = "X-Payment"
	headerV2Payment      = "Payment"
	headerPaymentReq     = "Payment-Required"
	headerV1Settlement   = "X-Payment-Response"
	headerV2Settlement   = "Payment-Response"
	headerSignature      = "X-Signature"
	supportedScheme      = "exact"
	currentX402VersionV1 = 1
	currentX402VersionV2 = 2
)

// DefaultSettleOnBackendStatus decides whether a backend response status
// warrants calling the facilitator's settle endpoint. The default policy —
// settle only when the backend status is below 400 — resolves the spec's open question about what happens
// when the backend itself fails after a valid payment was verified: the
// client keeps the (failed) backend response, but is not charged.
func DefaultSettleOnBackendStatus(status int) bool {
	return status < 400
}

// PaymentStore records payment artifacts already consumed, rejecting
// replays. Grounded on the teacher's in-memory seenPayments hash set
// (gateway/x402/middleware.go), generalized behind an interface so a
// persistent store can be substituted without touching the gateway.
type PaymentStore interface {
	// Reserve atomically records fingerprint as used, returning false if
	// it was already present.
	Reserve(fingerprint string) bool
	// Release un-reserves fingerprint, allowing a later retry with the same
	// artifact. Used when a gateway-side outage (facilitator or backend
	// unreachable) aborted the request before any value was verified or
	// delivered — the artifact itself was never at fault.
	Release(fingerprint string)
}

// InMemoryPaymentStore is the default PaymentStore: a mutex-guarded set,
// adequate for a single gateway instance.
type InMemoryPaymentStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewInMemoryPaymentStore creates an empty store.
func NewInMemoryPaymentStore() *InMemoryPaymentStore {
	return &InMemoryPaymentStore{seen: make(map[string]struct{})}
}

// Reserve implements PaymentStore.
func (s *InMemoryPaymentStore) Reserve(fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[fingerprint]; ok {
		return false
	}
	s.seen[fingerprint] = struct{}{}
	return true
}

// Release implements PaymentStore.
func (s *InMemoryPaymentStore) Release(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, fingerprint)
}

// Gateway is the top-level http.Handler implementing the payment-gated
// proxy.
type Gateway struct {
	Routes                config.RouteTable
	Requirements          *requirements.Builder
	Facilitator           facilitator.Client
	Backend               *proxy.Backend
	Identity              *signing.Identity
	Payments              PaymentStore
	SettleOnBackendStatus func(int) bool
	// PublicScheme/PublicHost are used to build the "resource" URL
	// advertised in payment requirements when the incoming request's Host
	// header should not be trusted as-is (e.g. behind a fixed front door).
	// Empty means derive from the request.
	PublicScheme string
	PublicHost   string
}

// New builds a Gateway with sane defaults for PaymentStore and
// SettleOnBackendStatus.
func New(routes config.RouteTable, reqBuilder *requirements.Builder, fc facilitator.Client, backend *proxy.Backend, identity *signing.Identity) *Gateway {
	return &Gateway{
		Routes:                routes,
		Requirements:          reqBuilder,
		Facilitator:           fc,
		Backend:               backend,
		Identity:              identity,
		Payments:              NewInMemoryPaymentStore(),
		SettleOnBackendStatus: DefaultSettleOnBackendStatus,
	}
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.FromContext(r.Context())
	reqBody, err := io.ReadAll(io.LimitReader(r.Body, proxy.MaxResponseBytes+1))
	if err != nil {
		g.writeSignedError(w, r, nil, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(reqBody) > proxy.MaxResponseBytes {
		g.writeSignedError(w, r, reqBody, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	class, canonicalPath, isV2 := router.Classify(g.Routes.Free, g.Routes.Protected, r.URL.Path)

	switch class {
	case router.Unknown:
		slog.Debug("unmatched path", "request_id", reqID, "path", r.URL.Path)
		g.writeSignedError(w, r, reqBody, http.StatusNotFound, "no such resource")
	case router.Free:
		g.proxyAndSign(w, r, reqBody, canonicalPath, nil)
	case router.Protected:
		amount := g.Routes.Protected[canonicalPath]
		g.handleProtected(w, r, reqBody, canonicalPath, amount, isV2)
	}
}

func (g *Gateway) handleProtected(w http.ResponseWriter, r *http.Request, reqBody []byte, canonicalPath string, amount int64, isV2 bool) {
	reqID := middleware.FromContext(r.Context())
	resourceURL := requirements.ResourceURL(g.resourceScheme(r), g.resourceHost(r), canonicalPath)
	reqs := g.Requirements.Build(canonicalPath, amount, resourceURL)

	artifact, gerr := g.decodeArtifact(r, isV2)
	if gerr != nil {
		g.challenge(w, r, reqBody, reqs, isV2, gerr.reason)
		return
	}
	if artifact == nil {
		g.challenge(w, r, reqBody, reqs, isV2, "")
		return
	}

	requirement, ok := requirements.Match(reqs, artifact.Network)
	if !ok {
		slog.Info("rejected artifact for unaccepted network", "request_id", reqID, "error", ErrUnsupportedNetwork, "network", artifact.Network)
		g.challenge(w, r, reqBody, reqs, isV2, "no accepted requirement for network "+artifact.Network)
		return
	}

	if network, ok := g.Requirements.Registry().Lookup(artifact.Network); ok {
		if err := validateArtifactPayload(artifact, network.Family); err != nil {
			g.challenge(w, r, reqBody, reqs, isV2, err.Error())
			return
		}
	}

	fingerprint := fingerprintArtifact(artifact)
	if !g.Payments.Reserve(fingerprint) {
		slog.Warn("rejected replayed payment artifact", "request_id", reqID, "error", ErrDuplicatePayment)
		g.challenge(w, r, reqBody, reqs, isV2, "payment artifact already used")
		return
	}

	result, err := g.Facilitator.Verify(r.Context(), *artifact, requirement)
	if err != nil {
		slog.Error("facilitator verify failed", "request_id", reqID, "error", fmt.Errorf("%w: %v", ErrFacilitatorUnavailable, err))
		// The outage is the gateway's fault, not the artifact's: release the
		// reservation so the client can retry the same payment once the
		// facilitator is reachable again.
		g.Payments.Release(fingerprint)
		g.writeSignedError(w, r, reqBody, http.StatusBadGateway, "facilitator unavailable")
		return
	}
	if !result.IsValid {
		slog.Info("payment rejected by facilitator", "request_id", reqID, "error", ErrVerificationFailed, "reason", result.InvalidReason)
		g.challenge(w, r, reqBody, reqs, isV2, result.InvalidReason)
		return
	}

	backendResp, err := g.Backend.Forward(r.Context(), r.Method, canonicalPath+queryOf(r), r.Header, reqBody)
	if err != nil {
		slog.Error("backend forward failed", "request_id", reqID, "error", fmt.Errorf("%w: %v", ErrBackendUnavailable, err))
		// Verification already succeeded but nothing was delivered or
		// settled; release so the client can retry instead of being
		// permanently locked out by a transient backend outage.
		g.Payments.Release(fingerprint)
		g.writeSignedError(w, r, reqBody, http.StatusGatewayTimeout, "backend unavailable")
		return
	}

	var receipt *proto.SettlementReceipt
	if g.SettleOnBackendStatus(backendResp.StatusCode) {
		// Settlement is given a lifetime detached from the inbound request:
		// per spec.md §5, a client disconnect must not abort a settlement
		// already in flight, since the facilitator/chain is the source of
		// truth regardless of whether the gateway still has a response to
		// deliver.
		var err error
		receipt, err = g.Facilitator.Settle(context.WithoutCancel(r.Context()), *artifact, requirement)
		switch {
		case err != nil:
			slog.Error("facilitator settle failed", "request_id", reqID, "error", fmt.Errorf("%w: %v", ErrSettlementFailed, err))
			receipt = &proto.SettlementReceipt{Success: false, ErrorReason: err.Error()}
		case !receipt.Success:
			slog.Warn("facilitator reported settlement failure", "request_id", reqID, "error", ErrSettlementFailed, "reason", receipt.ErrorReason)
		}
	} else {
		receipt = &proto.SettlementReceipt{Success: false, ErrorReason: "settlement skipped: backend response status not eligible"}
	}

	for k, v := range backendResp.Header {
		w.Header()[k] = v
	}

	settlementHeaderName := headerV1Settlement
	if isV2 {
		settlementHeaderName = headerV2Settlement
	}
	if encoded, err := encodeSettlementReceipt(receipt); err != nil {
		slog.Error("failed to encode settlement receipt", "request_id", reqID, "error", err)
	} else {
		w.Header().Set(settlementHeaderName, encoded)
	}

	g.signAndWrite(w, r, reqBody, backendResp.StatusCode, backendResp.Body)
}

// proxyAndSign forwards a free (unprotected) request straight to the
// backend, still signing the delivered response so every response —
// paid or not — carries the gateway's attestation.
func (g *Gateway) proxyAndSign(w http.ResponseWriter, r *http.Request, reqBody []byte, canonicalPath string, extraHeader http.Header) {
	reqID := middleware.FromContext(r.Context())
	resp, err := g.Backend.Forward(r.Context(), r.Method, canonicalPath+queryOf(r), r.Header, reqBody)
	if err != nil {
		slog.Error("backend forward failed", "request_id", reqID, "error", err)
		g.writeSignedError(w, r, reqBody, http.StatusGatewayTimeout, "backend unavailable")
		return
	}
	for k, v := range resp.Header {
		w.Header()[k] = v
	}
	for k, v := range extraHeader {
		w.Header()[k] = v
	}
	g.signAndWrite(w, r, reqBody, resp.StatusCode, resp.Body)
}

// challenge emits a 402 in the wire shape the request asked for: a full
// JSON body for V1, an empty body with a base64 Payment-Required header for
// V2. Only the V1 body carries reason; the V2 header omits it. Grounded on
// the teacher's send402/send402WithReason.
func (g *Gateway) challenge(w http.ResponseWriter, r *http.Request, reqBody []byte, reqs []proto.PaymentRequirement, isV2 bool, reason string) {
	if isV2 {
		body := proto.PaymentRequiredV2{X402Version: currentX402VersionV2, Accepts: reqs}
		encoded, err := json.Marshal(body)
		if err != nil {
			g.writeSignedError(w, r, reqBody, http.StatusInternalServerError, "failed to build payment challenge")
			return
		}
		w.Header().Set(headerPaymentReq, base64.StdEncoding.EncodeToString(encoded))
		g.signAndWrite(w, r, reqBody, http.StatusPaymentRequired, nil)
		return
	}

	body := proto.PaymentRequiredV1{X402Version: currentX402VersionV1, Accepts: reqs, Error: reason}
	encoded, err := json.Marshal(body)
	if err != nil {
		g.writeSignedError(w, r, reqBody, http.StatusInternalServerError, "failed to build payment challenge")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	g.signAndWrite(w, r, reqBody, http.StatusPaymentRequired, encoded)
}

// decodeArtifact extracts and parses the client's payment artifact, if
// any. A nil, nil return means no payment was presented at all (the
// ordinary path to a 402 challenge); a non-nil gatewayError means a
// payment was presented but is malformed or unacceptable.
func (g *Gateway) decodeArtifact(r *http.Request, isV2 bool) (*proto.PaymentArtifact, *gatewayError) {
	headerName := headerV1Payment
	if isV2 {
		headerName = headerV2Payment
	}
	raw := r.Header.Get(headerName)
	if raw == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, newGatewayError(ErrMalformedHeader, "payment header is not valid base64")
	}

	var artifact proto.PaymentArtifact
	if err := json.Unmarshal(decoded, &artifact); err != nil {
		return nil, newGatewayError(ErrMalformedHeader, "payment header did not decode to a payment artifact")
	}

	if artifact.X402Version != 1 && artifact.X402Version != 2 {
		return nil, newGatewayError(ErrUnsupportedVersion, "unsupported x402Version")
	}
	if artifact.Scheme != supportedScheme {
		return nil, newGatewayError(ErrUnsupportedScheme, "unsupported scheme")
	}

	return &artifact, nil
}

// signAndWrite writes status and body to w, adding the X-Signature header
// computed over the full request/response transcript.
func (g *Gateway) signAndWrite(w http.ResponseWriter, r *http.Request, reqBody []byte, status int, body []byte) {
	transcript := signing.BuildTranscript(r.Method, pathq(r), reqBody, body)
	sig, err := g.Identity.Sign(transcript)
	if err != nil {
		slog.Error("failed to sign response transcript", "error", err)
	} else {
		w.Header().Set(headerSignature, sig)
	}
	w.WriteHeader(status)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}

func (g *Gateway) writeSignedError(w http.ResponseWriter, r *http.Request, reqBody []byte, status int, message string) {
	body, _ := json.Marshal(map[string]string{"error": message})
	w.Header().Set("Content-Type", "application/json")
	g.signAndWrite(w, r, reqBody, status, body)
}

func (g *Gateway) resourceScheme(r *http.Request) string {
	if g.PublicScheme != "" {
		return g.PublicScheme
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func (g *Gateway) resourceHost(r *http.Request) string {
	if g.PublicHost != "" {
		return g.PublicHost
	}
	return r.Host
}

func pathq(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}

func queryOf(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return ""
	}
	return "?" + r.URL.RawQuery
}

// encodeSettlementReceipt JSON-encodes then base64-encodes a settlement
// receipt for the X-Payment-Response/Payment-Response header, per spec.md
// §3/§4.6: the gateway re-encodes whatever the facilitator returned (or a
// synthesized failure receipt) and base64-encodes the result.
func encodeSettlementReceipt(receipt *proto.SettlementReceipt) (string, error) {
	encoded, err := json.Marshal(receipt)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encoded), nil
}

// fingerprintArtifact derives a stable replay-detection key from a payment
// artifact's network and payload bytes, following the teacher's SHA-256
// payload-hash dedup strategy.
func fingerprintArtifact(a *proto.PaymentArtifact) string {
	h := sha256.New()
	h.Write([]byte(a.Network))
	h.Write(a.Payload)
	return hex.EncodeToString(h.Sum(nil))
}
