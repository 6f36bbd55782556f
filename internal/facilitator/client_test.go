package facilitator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marlinprotocol/x402-gateway/internal/proto"
)

func TestHTTPClientVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/verify", r.URL.Path)
		var body rpcBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "base-sepolia", body.PaymentRequirements.Network)

		_ = json.NewEncoder(w).Encode(proto.VerifyResult{IsValid: true, Payer: "0xabc"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.Verify(context.Background(), proto.PaymentArtifact{X402Version: 1, Scheme: "exact", Network: "base-sepolia"}, proto.PaymentRequirement{Network: "base-sepolia"})
	require.NoError(t, err)
	require.True(t, result.IsValid)
	require.Equal(t, "0xabc", result.Payer)
}

func TestHTTPClientSettle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/settle", r.URL.Path)
		_ = json.NewEncoder(w).Encode(proto.SettlementReceipt{Success: true, Transaction: "0xdeadbeef"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	receipt, err := c.Settle(context.Background(), proto.PaymentArtifact{}, proto.PaymentRequirement{})
	require.NoError(t, err)
	require.True(t, receipt.Success)
	require.Equal(t, "0xdeadbeef", receipt.Transaction)
}

func TestHTTPClientMapsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad artifact"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Verify(context.Background(), proto.PaymentArtifact{}, proto.PaymentRequirement{})
	require.Error(t, err)
}
