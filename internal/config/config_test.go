package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRoutesFreeWinsOverProtected(t *testing.T) {
	cfg := &Config{
		Routes: RouteTable{
			Free:      []string{"/shared"},
			Protected: map[string]int64{"/shared": 1000, "/paid": 500},
		},
	}
	require.NoError(t, cfg.validateRoutes())
	require.Contains(t, cfg.Routes.Protected, "/paid")
	require.NotContains(t, cfg.Routes.Protected, "/shared")
}

func TestValidateRoutesRejectsNonPositiveAmount(t *testing.T) {
	cfg := &Config{
		Routes: RouteTable{Protected: map[string]int64{"/paid": 0}},
	}
	require.Error(t, cfg.validateRoutes())
}

func TestBuildRegistryAndCoverage(t *testing.T) {
	cfg := &Config{
		Networks: []NetworkConfig{{
			ID:             "base-sepolia",
			Family:         "evm",
			ChainID:        84532,
			USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			PaymentAddress: "0x1111111111111111111111111111111111111111",
		}},
		Routes: RouteTable{Protected: map[string]int64{"/paid": 1000}},
	}

	reg, err := cfg.BuildRegistry()
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateRequirementCoverage(reg))
}

func TestBuildRegistryFailsWithNoNetworks(t *testing.T) {
	cfg := &Config{Routes: RouteTable{Protected: map[string]int64{"/paid": 1000}}}
	reg, err := cfg.BuildRegistry()
	require.Error(t, err, "an empty registry itself should fail")
	require.Nil(t, reg)
}

func TestSettlementRPCs(t *testing.T) {
	cfg := &Config{
		Networks: []NetworkConfig{
			{ID: "base-sepolia", SettlementRPCURL: "https://rpc.example/base"},
			{ID: "solana-devnet"},
		},
	}
	rpcs := cfg.SettlementRPCs()
	require.Equal(t, "https://rpc.example/base", rpcs["base-sepolia"])
	require.NotContains(t, rpcs, "solana-devnet")
}
