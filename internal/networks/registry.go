// Package networks holds the static, immutable-after-load table of chains
// the gateway knows how to accept USDC payment on. Layout follows the
// verified per-chain tables seen across the x402 ecosystem (e.g. USDC
// address + EIP-3009 domain name/version per EVM chain, bare network id +
// cluster for Solana).
package networks

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// Family identifies the chain virtual machine a Network belongs to.
type Family int

const (
	// FamilyEVM is an Ethereum-Virtual-Machine-compatible chain.
	FamilyEVM Family = iota
	// FamilySolana is the Solana cluster family.
	FamilySolana
)

func (f Family) String() string {
	if f == FamilySolana {
		return "solana"
	}
	return "evm"
}

// Network describes one chain the gateway accepts USDC payment on.
type Network struct {
	// ID is the x402 network identifier advertised to clients, e.g.
	// "base-sepolia" or "solana-devnet".
	ID string

	Family Family

	// ChainID is the EIP-155 chain id. Zero for Solana networks.
	ChainID int64

	// Cluster is the Solana cluster label (e.g. "devnet"). Empty for EVM.
	Cluster string

	// USDCAddress is the USDC contract address (EVM) or SPL mint (Solana).
	USDCAddress string

	// Decimals is the USDC decimal count, always 6 in practice.
	Decimals int

	// EIP712Name/EIP712Version are the USDC contract's EIP-712 domain
	// parameters. Empty for Solana networks.
	EIP712Name    string
	EIP712Version string

	// PaymentAddress is the gateway's receiving wallet on this network.
	PaymentAddress string
}

// Registry is the immutable, ordered set of configured networks.
type Registry struct {
	networks []Network
}

// NewRegistry validates and freezes cfg into a Registry. Configuration
// order is preserved because the requirements builder advertises networks
// to clients in that order.
func NewRegistry(cfg []Network) (*Registry, error) {
	if len(cfg) == 0 {
		return nil, fmt.Errorf("networks: at least one network must be configured")
	}
	out := make([]Network, len(cfg))
	for i, n := range cfg {
		if n.ID == "" {
			return nil, fmt.Errorf("networks[%d]: id is required", i)
		}
		if n.PaymentAddress == "" {
			return nil, fmt.Errorf("networks[%s]: payment_address is required", n.ID)
		}
		if n.Decimals == 0 {
			n.Decimals = 6
		}
		switch n.Family {
		case FamilyEVM:
			if !common.IsHexAddress(n.USDCAddress) {
				return nil, fmt.Errorf("networks[%s]: invalid USDC contract address %q", n.ID, n.USDCAddress)
			}
			if !common.IsHexAddress(n.PaymentAddress) {
				return nil, fmt.Errorf("networks[%s]: invalid payment_address %q", n.ID, n.PaymentAddress)
			}
			if n.ChainID == 0 {
				return nil, fmt.Errorf("networks[%s]: chain_id is required for EVM networks", n.ID)
			}
		case FamilySolana:
			if _, err := solana.PublicKeyFromBase58(n.USDCAddress); err != nil {
				return nil, fmt.Errorf("networks[%s]: invalid USDC mint %q: %w", n.ID, n.USDCAddress, err)
			}
			if _, err := solana.PublicKeyFromBase58(n.PaymentAddress); err != nil {
				return nil, fmt.Errorf("networks[%s]: invalid payment_address %q: %w", n.ID, n.PaymentAddress, err)
			}
		default:
			return nil, fmt.Errorf("networks[%s]: unknown family", n.ID)
		}
		out[i] = n
	}
	return &Registry{networks: out}, nil
}

// All returns the configured networks in configuration order.
func (r *Registry) All() []Network {
	return r.networks
}

// Lookup returns the network with the given id, and whether it was found.
func (r *Registry) Lookup(id string) (Network, bool) {
	for _, n := range r.networks {
		if n.ID == id {
			return n, true
		}
	}
	return Network{}, false
}
