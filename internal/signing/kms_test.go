package signing

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadIdentityPrefersEnvOverride(t *testing.T) {
	id, err := LoadIdentity(context.Background(), testPrivateKeyHex, "http://unused.invalid", "")
	require.NoError(t, err)
	require.NotNil(t, id.PrivateKey)
}

func TestLoadIdentityDerivesFromKMSHexBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.TrimPrefix(testPrivateKeyHex, "0x")))
	}))
	defer srv.Close()

	id, err := LoadIdentity(context.Background(), "", srv.URL, "")
	require.NoError(t, err)

	want, err := FromHex(testPrivateKeyHex)
	require.NoError(t, err)
	require.Equal(t, want.Address(), id.Address())
}

func TestLoadIdentityDerivesFromKMSRawBytes(t *testing.T) {
	raw, err := hex.DecodeString(strings.TrimPrefix(testPrivateKeyHex, "0x"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	id, err := LoadIdentity(context.Background(), "", srv.URL, "")
	require.NoError(t, err)

	want, err := FromHex(testPrivateKeyHex)
	require.NoError(t, err)
	require.Equal(t, want.Address(), id.Address())
}

func TestLoadIdentityRequiresSomeSource(t *testing.T) {
	_, err := LoadIdentity(context.Background(), "", "", "")
	require.Error(t, err)
}

func TestLoadIdentityRejectsDeriveErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := LoadIdentity(context.Background(), "", srv.URL, "")
	require.Error(t, err)
}
