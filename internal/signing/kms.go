package signing

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// deriveTimeout bounds the KMS derive call; the enclave-local endpoint is
// expected to answer in milliseconds, not seconds.
const deriveTimeout = 5 * time.Second

// LoadIdentity resolves the gateway's signing key: privateKeyHex, when
// non-empty, always wins (an operator-supplied override for environments
// without a KMS sidecar). Otherwise the key is fetched from deriveURL via a
// plain HTTP GET, optionally bearing token as a credential.
//
// A bearer token is never required for trust here — the gateway does not
// hold the KMS's own signing secret, so a token is, at best, a short-lived
// credential gating access to the derive endpoint. LoadIdentity only peeks
// at its claimed expiry (without verifying a signature it has no key for)
// so an operator can be warned before launching with a token that will
// expire mid-flight.
func LoadIdentity(ctx context.Context, privateKeyHex, deriveURL, bearerToken string) (*Identity, error) {
	if privateKeyHex != "" {
		return FromHex(privateKeyHex)
	}
	if deriveURL == "" {
		return nil, fmt.Errorf("signing: no private key and no derive URL configured")
	}

	warnIfTokenExpiringSoon(bearerToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, deriveURL, nil)
	if err != nil {
		return nil, fmt.Errorf("signing: building derive request: %w", err)
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	client := &http.Client{Timeout: deriveTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signing: derive request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("signing: reading derive response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("signing: derive endpoint returned %d", resp.StatusCode)
	}

	keyHex, err := decodeDeriveResponse(body)
	if err != nil {
		return nil, err
	}
	return FromHex(keyHex)
}

// decodeDeriveResponse interprets the derive endpoint's body as either the
// raw 32 private-key bytes or a hex encoding of them, per spec.md §6 ("KMS
// call is HTTP GET returning raw 32 bytes (or hex, per endpoint spec)").
func decodeDeriveResponse(body []byte) (string, error) {
	if len(body) == 32 {
		return hex.EncodeToString(body), nil
	}
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(body)), "0x"))
	if decoded, err := hex.DecodeString(trimmed); err == nil && len(decoded) == 32 {
		return trimmed, nil
	}
	return "", fmt.Errorf("signing: derive response was neither 32 raw bytes nor a 32-byte hex string (got %d bytes)", len(body))
}

// warnIfTokenExpiringSoon parses the token's claims without verifying its
// signature — the gateway has no key to verify it with — purely to log a
// heads-up if it is already expired or expires within a minute.
func warnIfTokenExpiringSoon(token string) {
	if token == "" {
		return
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		slog.Warn("signing: derive bearer token is not a parseable JWT", "error", err)
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if time.Until(exp.Time) < time.Minute {
		slog.Warn("signing: derive bearer token expires soon", "expires_at", exp.Time)
	}
}
