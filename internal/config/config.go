// Package config loads the gateway's JSON configuration file and the small
// set of environment variables that govern signing-key acquisition, in the
// same two-layer style (env-first, .env for dev convenience) the teacher
// gateway used for its own flat config.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/marlinprotocol/x402-gateway/internal/networks"
)

// RouteTable is the set of free and protected paths advertised by the
// backend. Protected is keyed by the canonical (non "-v2") path.
type RouteTable struct {
	Free      []string         `json:"free"`
	Protected map[string]int64 `json:"protected"`
}

// NetworkConfig is the JSON shape of one networks[] entry in config.json.
type NetworkConfig struct {
	ID             string `json:"id"`
	Family         string `json:"family"` // "evm" | "solana"
	ChainID        int64  `json:"chain_id,omitempty"`
	Cluster        string `json:"cluster,omitempty"`
	USDCAddress    string `json:"usdc_address"`
	Decimals       int    `json:"decimals,omitempty"`
	EIP712Name     string `json:"eip712_name,omitempty"`
	EIP712Version  string `json:"eip712_version,omitempty"`
	PaymentAddress string `json:"payment_address"`
	// SettlementRPCURL is only required when running a LocalFacilitator
	// (self-hosted settlement) for this network; the remote-facilitator
	// mode never dials a chain RPC directly.
	SettlementRPCURL string `json:"settlement_rpc_url,omitempty"`
}

// Config is the fully loaded, validated gateway configuration.
type Config struct {
	GatewayPort     int    `json:"gateway_port"`
	FacilitatorURL  string `json:"facilitator_url"`
	BackendURL      string `json:"backend_url"`
	GatewayHostname string `json:"gateway_hostname,omitempty"`

	Routes   RouteTable      `json:"routes"`
	Networks []NetworkConfig `json:"networks"`

	// SigningPrivateKeyHex, when non-empty, overrides the KMS derive path.
	// Populated from the environment, never from the JSON file.
	SigningPrivateKeyHex string `json:"-"`
	// SigningKeyDeriveURL is the KMS derive endpoint used when
	// SigningPrivateKeyHex is absent.
	SigningKeyDeriveURL string `json:"-"`
	// SigningKeyDeriveToken is an optional bearer credential for the derive
	// call, typically a short-lived JWT issued by the enclave supervisor.
	SigningKeyDeriveToken string `json:"-"`

	// RelayerPrivateKeyHex, when set, switches the gateway from a remote
	// facilitator to a self-hosted one that verifies and settles EVM
	// payments itself, paying settlement gas from this key.
	RelayerPrivateKeyHex string `json:"-"`
}

const defaultDeriveURL = "http://127.0.0.1:1100/derive/secp256k1?path=signing-server"

// Load reads the config file named by CONFIG_PATH (default "config.json"),
// layers the signing-key environment variables on top, and validates the
// route-table invariants before returning. The requirement-coverage
// invariant needs the network registry and is checked afterwards by
// ValidateRequirementCoverage.
func Load() (*Config, error) {
	_ = godotenv.Load() // dev convenience; no-op if .env is absent

	path := getEnv("CONFIG_PATH", "config.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.SigningPrivateKeyHex = getEnv("SIGNING_PRIVATE_KEY_HEX", "")
	cfg.SigningKeyDeriveURL = getEnv("SIGNING_KEY_DERIVE_URL", defaultDeriveURL)
	cfg.SigningKeyDeriveToken = getEnv("SIGNING_KEY_DERIVE_TOKEN", "")
	cfg.RelayerPrivateKeyHex = getEnv("GATEWAY_RELAYER_PRIVATE_KEY", "")

	if cfg.GatewayPort == 0 {
		cfg.GatewayPort = 8080
	}
	if cfg.FacilitatorURL == "" {
		return nil, fmt.Errorf("config: facilitator_url is required")
	}
	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("config: backend_url is required")
	}
	if len(cfg.Routes.Free) == 0 && len(cfg.Routes.Protected) == 0 {
		cfg.Routes.Free = []string{"/health"}
	}

	if err := cfg.validateRoutes(); err != nil {
		return nil, err
	}

	if cfg.SigningPrivateKeyHex != "" {
		if _, err := hex.DecodeString(cfg.SigningPrivateKeyHex); err != nil {
			return nil, fmt.Errorf("config: SIGNING_PRIVATE_KEY_HEX is not valid hex: %w", err)
		}
	}

	return &cfg, nil
}

// validateRoutes enforces invariants (1) and (3) from the data model: free and
// protected sets are disjoint (free wins, with a warning), and every
// protected route has a positive amount. Invariant (2) — every protected
// route yields at least one requirement — depends on network
// configuration and is checked separately by ValidateRequirementCoverage
// once the registry is built.
func (c *Config) validateRoutes() error {
	free := make(map[string]struct{}, len(c.Routes.Free))
	for _, p := range c.Routes.Free {
		free[p] = struct{}{}
	}

	kept := make(map[string]int64, len(c.Routes.Protected))
	for p, amount := range c.Routes.Protected {
		if amount <= 0 {
			return fmt.Errorf("config: protected route %q has non-positive usdc_amount %d", p, amount)
		}
		if _, clash := free[p]; clash {
			slog.Warn("route listed as both free and protected; free wins", "path", p)
			continue
		}
		kept[p] = amount
	}
	c.Routes.Protected = kept
	return nil
}

// BuildRegistry converts the JSON network list into an immutable
// networks.Registry, enforcing per-network invariants via networks.NewRegistry.
func (c *Config) BuildRegistry() (*networks.Registry, error) {
	entries := make([]networks.Network, len(c.Networks))
	for i, n := range c.Networks {
		family := networks.FamilyEVM
		if n.Family == "solana" {
			family = networks.FamilySolana
		}
		entries[i] = networks.Network{
			ID:             n.ID,
			Family:         family,
			ChainID:        n.ChainID,
			Cluster:        n.Cluster,
			USDCAddress:    n.USDCAddress,
			Decimals:       n.Decimals,
			EIP712Name:     n.EIP712Name,
			EIP712Version:  n.EIP712Version,
			PaymentAddress: n.PaymentAddress,
		}
	}
	return networks.NewRegistry(entries)
}

// ValidateRequirementCoverage enforces invariant (2): every protected route
// must yield at least one payment requirement, i.e. at least one configured
// network. Called once at startup after the registry is built.
func (c *Config) ValidateRequirementCoverage(reg *networks.Registry) error {
	if len(c.Routes.Protected) == 0 {
		return nil
	}
	if len(reg.All()) == 0 {
		return fmt.Errorf("config: protected routes are configured but no networks are available")
	}
	return nil
}

// SettlementRPCs returns the configured per-network settlement RPC
// endpoints, keyed by network id, for networks that set one.
func (c *Config) SettlementRPCs() map[string]string {
	out := make(map[string]string)
	for _, n := range c.Networks {
		if n.SettlementRPCURL != "" {
			out[n.ID] = n.SettlementRPCURL
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
