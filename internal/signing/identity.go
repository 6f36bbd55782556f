// Package signing provides the gateway's own signing identity: the
// secp256k1 key it uses to attest to response transcripts, and the
// canonical transcript-signing protocol built on top of it. Key handling
// follows the teacher's pattern of loading a hex-encoded ECDSA key via
// crypto.HexToECDSA (gateway/x402/local_facilitator.go), generalized to
// two acquisition modes: a direct env override, or a KMS derive call for
// the enclave-hosted deployment the spec targets.
package signing

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Identity is the gateway's signing keypair.
type Identity struct {
	PrivateKey *ecdsa.PrivateKey
}

// FromHex builds an Identity from a hex-encoded secp256k1 private key
// (with or without a leading 0x), the same parsing the teacher used for its
// relayer wallet key.
func FromHex(hexKey string) (*Identity, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("signing: invalid private key: %w", err)
	}
	return &Identity{PrivateKey: key}, nil
}

// PublicKeyHex returns the compressed (33-byte) public key as 0x-prefixed
// hex, the form an offline verifier retrieves to check X-Signature without
// contacting the gateway (spec.md §3: "a derived compressed 33-byte public
// key").
func (id *Identity) PublicKeyHex() string {
	return "0x" + hex.EncodeToString(crypto.CompressPubkey(&id.PrivateKey.PublicKey))
}

// Address returns the Ethereum-style address derived from the public key,
// a convenient short identifier even though the gateway never sends an
// on-chain transaction with this key.
func (id *Identity) Address() string {
	return crypto.PubkeyToAddress(id.PrivateKey.PublicKey).Hex()
}
