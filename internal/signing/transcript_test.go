package signing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testPrivateKeyHex = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func TestSignAndVerify(t *testing.T) {
	id, err := FromHex(testPrivateKeyHex)
	require.NoError(t, err)

	transcript := BuildTranscript("GET", "/v1/data", nil, []byte(`{"ok":true}`))

	sig, err := id.Sign(transcript)
	require.NoError(t, err)
	require.Len(t, sig, 130, "65-byte signature hex-encoded is 130 chars")

	ok, err := Verify(transcript, sig, id.Address())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyRejectsWrongAddress(t *testing.T) {
	id, err := FromHex(testPrivateKeyHex)
	require.NoError(t, err)

	transcript := BuildTranscript("GET", "/v1/data", nil, []byte("body"))
	sig, err := id.Sign(transcript)
	require.NoError(t, err)

	ok, err := Verify(transcript, sig, "0x0000000000000000000000000000000000000000")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBuildTranscriptBindsAllFields(t *testing.T) {
	a := BuildTranscript("GET", "/a", []byte("req"), []byte("res"))
	b := BuildTranscript("POST", "/a", []byte("req"), []byte("res"))
	require.NotEqual(t, a, b, "different method must bind to a different transcript")

	c := BuildTranscript("GET", "/a?x=1", []byte("req"), []byte("res"))
	require.NotEqual(t, a, c, "different path+query must bind to a different transcript")
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	_, err := Verify([]byte("t"), "not-hex", "0x0")
	require.Error(t, err)

	_, err = Verify([]byte("t"), "aabb", "0x0")
	require.Error(t, err, "signature must be exactly 65 bytes")
}
