package networks

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validEVM() Network {
	return Network{
		ID:             "base-sepolia",
		Family:         FamilyEVM,
		ChainID:        84532,
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		EIP712Name:     "USDC",
		EIP712Version:  "2",
		PaymentAddress: "0x1111111111111111111111111111111111111111",
	}
}

func validSolana() Network {
	return Network{
		ID:             "solana-devnet",
		Family:         FamilySolana,
		Cluster:        "devnet",
		USDCAddress:    "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		PaymentAddress: "11111111111111111111111111111111",
	}
}

func TestNewRegistry(t *testing.T) {
	t.Run("rejects empty", func(t *testing.T) {
		_, err := NewRegistry(nil)
		require.Error(t, err)
	})

	t.Run("accepts valid EVM and Solana networks", func(t *testing.T) {
		reg, err := NewRegistry([]Network{validEVM(), validSolana()})
		require.NoError(t, err)
		require.Len(t, reg.All(), 2)

		n, ok := reg.Lookup("base-sepolia")
		require.True(t, ok)
		require.Equal(t, 6, n.Decimals)
	})

	t.Run("rejects invalid EVM address", func(t *testing.T) {
		bad := validEVM()
		bad.USDCAddress = "not-an-address"
		_, err := NewRegistry([]Network{bad})
		require.Error(t, err)
	})

	t.Run("rejects EVM network missing chain id", func(t *testing.T) {
		bad := validEVM()
		bad.ChainID = 0
		_, err := NewRegistry([]Network{bad})
		require.Error(t, err)
	})

	t.Run("rejects invalid solana address", func(t *testing.T) {
		bad := validSolana()
		bad.PaymentAddress = "not-base58!!"
		_, err := NewRegistry([]Network{bad})
		require.Error(t, err)
	})

	t.Run("lookup miss", func(t *testing.T) {
		reg, err := NewRegistry([]Network{validEVM()})
		require.NoError(t, err)
		_, ok := reg.Lookup("unknown")
		require.False(t, ok)
	})
}
