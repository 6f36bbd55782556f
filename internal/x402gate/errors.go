// Package x402gate is the protocol state machine: it classifies a request,
// issues 402 payment challenges, decodes and verifies client-submitted
// payment artifacts, forwards to the backend, settles payment, and signs
// the response transcript. The sentinel error catalogue below follows
// mark3labs-x402-go's errors.go, which enumerates every distinct failure a
// client or facilitator can produce; the gateway tags each failure path with
// one of them, in its logs or inside a gatewayError, while the HTTP status
// and client-facing reason are chosen at the call site.
package x402gate

import "errors"

var (
	// ErrMalformedHeader means the X-PAYMENT/payment header was present but
	// not valid base64, or did not decode to a well-formed PaymentArtifact.
	ErrMalformedHeader = errors.New("x402gate: malformed payment header")

	// ErrUnsupportedVersion means the artifact's x402Version is not one
	// this gateway implements.
	ErrUnsupportedVersion = errors.New("x402gate: unsupported x402 version")

	// ErrUnsupportedScheme means the artifact's scheme is not "exact".
	ErrUnsupportedScheme = errors.New("x402gate: unsupported payment scheme")

	// ErrUnsupportedNetwork means the artifact names a network this
	// gateway has no requirement for on the requested route.
	ErrUnsupportedNetwork = errors.New("x402gate: unsupported network")

	// ErrDuplicatePayment means the same payment artifact has already been
	// used to satisfy a previous request.
	ErrDuplicatePayment = errors.New("x402gate: payment artifact already used")

	// ErrFacilitatorUnavailable means the facilitator could not be reached
	// at all (network error, timeout).
	ErrFacilitatorUnavailable = errors.New("x402gate: facilitator unavailable")

	// ErrVerificationFailed means the facilitator was reached but reported
	// the payment as invalid.
	ErrVerificationFailed = errors.New("x402gate: payment verification failed")

	// ErrBackendUnavailable means the protected backend could not be
	// reached or timed out.
	ErrBackendUnavailable = errors.New("x402gate: backend unavailable")

	// ErrSettlementFailed means verification succeeded and the backend was
	// called, but the facilitator's settlement call failed or reported
	// failure.
	ErrSettlementFailed = errors.New("x402gate: settlement failed")
)

// gatewayError pairs a sentinel with a client-facing reason string.
// decodeArtifact's failures all resolve to a 402 challenge — there is no
// second status to carry alongside it. The V1 challenge body carries reason
// in its error field; the V2 challenge header does not include it.
type gatewayError struct {
	reason string
	err    error
}

func (e *gatewayError) Error() string {
	return e.err.Error()
}

func (e *gatewayError) Unwrap() error {
	return e.err
}

func newGatewayError(sentinel error, reason string) *gatewayError {
	return &gatewayError{reason: reason, err: sentinel}
}
