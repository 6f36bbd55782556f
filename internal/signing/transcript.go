package signing

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// transcriptPrefix tags the hash domain so a signature over a gateway
// response transcript can never be replayed as a signature over some other
// protocol's message.
const transcriptPrefix = "oyster-signature-v2"

// BuildTranscript assembles the canonical byte sequence the gateway signs
// for a completed request/response pair:
//
//	prefix || 0x00 || u32be(len(method)) || method ||
//	u32be(len(pathq)) || pathq ||
//	u64be(len(reqBody)) || reqBody ||
//	u64be(len(resBody)) || resBody
//
// pathq is the request path plus "?"+rawQuery when a query string is
// present. Binding method, path, and both bodies prevents a signature
// computed for one exchange from being replayed against another.
func BuildTranscript(method, pathq string, reqBody, resBody []byte) []byte {
	out := make([]byte, 0, len(transcriptPrefix)+1+4+len(method)+4+len(pathq)+8+len(reqBody)+8+len(resBody))

	out = append(out, transcriptPrefix...)
	out = append(out, 0x00)

	out = appendU32(out, uint32(len(method)))
	out = append(out, method...)

	out = appendU32(out, uint32(len(pathq)))
	out = append(out, pathq...)

	out = appendU64(out, uint64(len(reqBody)))
	out = append(out, reqBody...)

	out = appendU64(out, uint64(len(resBody)))
	out = append(out, resBody...)

	return out
}

func appendU32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

// Sign hashes the transcript with Keccak-256 and produces a 65-byte
// secp256k1 signature (r || s || v) with v in Ethereum's {27,28} convention,
// hex-encoded for the X-Signature header. Deterministic per RFC 6979, as
// go-ethereum's Sign always is.
func (id *Identity) Sign(transcript []byte) (string, error) {
	hash := crypto.Keccak256(transcript)
	sig, err := crypto.Sign(hash, id.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("signing: sign failed: %w", err)
	}
	// sig is r(32) || s(32) || recoveryID(1) with recoveryID in {0,1}; the
	// wire format uses Ethereum's v = recoveryID + 27.
	sig[64] += 27
	return hex.EncodeToString(sig), nil
}

// Verify recovers the signer's address from sig over transcript and
// compares it against expectedAddress. Exposed for tests and for operators
// who want to validate their own client-side verification logic.
func Verify(transcript []byte, sigHex string, expectedAddress string) (bool, error) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("signing: signature is not valid hex: %w", err)
	}
	if len(sig) != 65 {
		return false, fmt.Errorf("signing: signature must be 65 bytes, got %d", len(sig))
	}

	recoverable := append([]byte(nil), sig...)
	recoverable[64] -= 27

	hash := crypto.Keccak256(transcript)
	pub, err := crypto.SigToPub(hash, recoverable)
	if err != nil {
		return false, fmt.Errorf("signing: recovering public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pub).Hex() == expectedAddress, nil
}
