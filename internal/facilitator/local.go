// Self-hosted facilitator: verifies EIP-3009 TransferWithAuthorization
// signatures locally and submits the transferWithAuthorization call
// directly to the USDC contract, paying gas from the gateway's own
// relayer key. Adapted from the teacher's LocalFacilitator
// (gateway/x402/local_facilitator.go) — the EIP-712 domain/type-hash
// construction, ecrecover-based verification, and manual ABI encoding of
// transferWithAuthorization are unchanged; what's new is multi-network
// dispatch (chain id resolved per-requirement from the registry instead of
// being fixed at construction) and the proto.PaymentArtifact/VerifyResult
// wire shapes in place of the teacher's ad hoc JSON payload.
package facilitator

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/marlinprotocol/x402-gateway/internal/networks"
	"github.com/marlinprotocol/x402-gateway/internal/proto"
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	authTypeHash = crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)",
	))
)

// transferWithAuthSelector is the 4-byte selector for
// USDC.transferWithAuthorization.
var transferWithAuthSelector = crypto.Keccak256([]byte(
	"transferWithAuthorization(address,address,uint256,uint256,uint256,bytes32,uint8,bytes32,bytes32)",
))[:4]

// networkRPC supplies the settlement RPC endpoint for a given EVM network
// id, since a self-hosted facilitator must actually submit the settlement
// transaction on-chain rather than delegating it.
type networkRPC interface {
	RPCURLFor(networkID string) (string, bool)
}

// LocalFacilitator is a Client that verifies and settles EVM "exact"
// payments itself, with no external facilitator dependency.
type LocalFacilitator struct {
	registry   *networks.Registry
	rpc        networkRPC
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewLocalFacilitator creates a LocalFacilitator. privateKeyHex is the
// relayer wallet's hex-encoded secp256k1 key, used to pay settlement gas;
// registry supplies chain ids and rpc the settlement RPC endpoint per
// network.
func NewLocalFacilitator(registry *networks.Registry, rpc networkRPC, privateKeyHex string) (*LocalFacilitator, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("local facilitator: invalid relayer private key: %w", err)
	}
	return &LocalFacilitator{
		registry:   registry,
		rpc:        rpc,
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the relayer address paying settlement gas.
func (f *LocalFacilitator) Address() common.Address { return f.address }

func pad32(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func addrPad(a common.Address) []byte {
	padded := make([]byte, 32)
	copy(padded[12:], a.Bytes())
	return padded
}

func domainSeparator(name, version string, chainID *big.Int, contract common.Address) common.Hash {
	enc := make([]byte, 5*32)
	copy(enc[0:32], domainTypeHash.Bytes())
	copy(enc[32:64], crypto.Keccak256([]byte(name)))
	copy(enc[64:96], crypto.Keccak256([]byte(version)))
	copy(enc[96:128], pad32(chainID))
	copy(enc[128:160], addrPad(contract))
	return crypto.Keccak256Hash(enc)
}

func authHash(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) common.Hash {
	enc := make([]byte, 7*32)
	copy(enc[0:32], authTypeHash.Bytes())
	copy(enc[32:64], addrPad(from))
	copy(enc[64:96], addrPad(to))
	copy(enc[96:128], pad32(value))
	copy(enc[128:160], pad32(validAfter))
	copy(enc[160:192], pad32(validBefore))
	copy(enc[192:224], nonce[:])
	return crypto.Keccak256Hash(enc)
}

func mustBI(s string) *big.Int {
	n := new(big.Int)
	n.SetString(s, 10)
	return n
}

// decoded holds everything extracted from a PaymentArtifact + its matching
// PaymentRequirement needed for EIP-712 digest construction.
type decoded struct {
	network      networks.Network
	from, to     common.Address
	value        *big.Int
	validAfter   *big.Int
	validBefore  *big.Int
	nonce        [32]byte
	sig          []byte
}

func (f *LocalFacilitator) decode(artifact proto.PaymentArtifact, requirement proto.PaymentRequirement) (*decoded, error) {
	network, ok := f.registry.Lookup(requirement.Network)
	if !ok || network.Family != networks.FamilyEVM {
		return nil, fmt.Errorf("local facilitator: unknown or non-EVM network %q", requirement.Network)
	}

	var payload proto.EVMPayload
	if err := json.Unmarshal(artifact.Payload, &payload); err != nil {
		return nil, fmt.Errorf("local facilitator: decoding EVM payload: %w", err)
	}

	nonceHex := strings.TrimPrefix(payload.Authorization.Nonce, "0x")
	nonceBytes, err := hex.DecodeString(nonceHex)
	if err != nil {
		return nil, fmt.Errorf("local facilitator: invalid nonce: %w", err)
	}
	var nonce [32]byte
	copy(nonce[32-len(nonceBytes):], nonceBytes)

	sigHex := strings.TrimPrefix(payload.Signature, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != 65 {
		return nil, fmt.Errorf("local facilitator: invalid signature")
	}

	return &decoded{
		network:     network,
		from:        common.HexToAddress(payload.Authorization.From),
		to:          common.HexToAddress(payload.Authorization.To),
		value:       mustBI(payload.Authorization.Value),
		validAfter:  mustBI(payload.Authorization.ValidAfter),
		validBefore: mustBI(payload.Authorization.ValidBefore),
		nonce:       nonce,
		sig:         sig,
	}, nil
}

func (d *decoded) digest() common.Hash {
	usdcAddr := common.HexToAddress(d.network.USDCAddress)
	chainID := big.NewInt(d.network.ChainID)
	ds := domainSeparator(d.network.EIP712Name, d.network.EIP712Version, chainID, usdcAddr)
	ah := authHash(d.from, d.to, d.value, d.validAfter, d.validBefore, d.nonce)
	return crypto.Keccak256Hash(append([]byte{0x19, 0x01}, append(ds.Bytes(), ah.Bytes()...)...))
}

// Verify checks the EIP-3009 signature and the requirement match, entirely
// off-chain.
func (f *LocalFacilitator) Verify(_ context.Context, artifact proto.PaymentArtifact, requirement proto.PaymentRequirement) (*proto.VerifyResult, error) {
	d, err := f.decode(artifact, requirement)
	if err != nil {
		return nil, err
	}

	if d.validBefore.Int64() < time.Now().Unix() {
		return &proto.VerifyResult{IsValid: false, InvalidReason: "authorization expired"}, nil
	}

	digest := d.digest()
	sig := append([]byte(nil), d.sig...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubBytes, err := crypto.Ecrecover(digest.Bytes(), sig)
	if err != nil {
		return &proto.VerifyResult{IsValid: false, InvalidReason: "ecrecover failed"}, nil
	}
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return &proto.VerifyResult{IsValid: false, InvalidReason: "malformed recovered public key"}, nil
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if recovered != d.from {
		return &proto.VerifyResult{IsValid: false, InvalidReason: "signature does not match claimed payer"}, nil
	}

	reqPayTo := common.HexToAddress(requirement.PayTo)
	if d.to != reqPayTo {
		return &proto.VerifyResult{IsValid: false, InvalidReason: "payTo mismatch"}, nil
	}

	reqAmount := mustBI(requirement.MaxAmountRequired)
	if d.value.Cmp(reqAmount) < 0 {
		return &proto.VerifyResult{IsValid: false, InvalidReason: "authorized amount below required amount"}, nil
	}

	slog.Info("local facilitator verify ok", "payer", recovered.Hex(), "amount", d.value.String())
	return &proto.VerifyResult{IsValid: true, Payer: recovered.Hex()}, nil
}

// Settle submits the transferWithAuthorization transaction to the USDC
// contract, paying gas from the relayer key.
func (f *LocalFacilitator) Settle(ctx context.Context, artifact proto.PaymentArtifact, requirement proto.PaymentRequirement) (*proto.SettlementReceipt, error) {
	d, err := f.decode(artifact, requirement)
	if err != nil {
		return nil, err
	}

	rpcURL, ok := f.rpc.RPCURLFor(d.network.ID)
	if !ok {
		return nil, fmt.Errorf("local facilitator: no settlement RPC configured for network %q", d.network.ID)
	}

	v := d.sig[64]
	if v < 27 {
		v += 27
	}
	var r, s [32]byte
	copy(r[:], d.sig[:32])
	copy(s[:], d.sig[32:64])

	usdcAddr := common.HexToAddress(d.network.USDCAddress)
	callData := packTransferWithAuth(d.from, d.to, d.value, d.validAfter, d.validBefore, d.nonce, v, r, s)

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("local facilitator: rpc connect: %w", err)
	}
	defer client.Close()

	txNonce, err := client.PendingNonceAt(ctx, f.address)
	if err != nil {
		return nil, fmt.Errorf("local facilitator: pending nonce: %w", err)
	}

	gasLimit := uint64(100_000)
	if est, err := client.EstimateGas(ctx, ethereum.CallMsg{From: f.address, To: &usdcAddr, Data: callData}); err == nil {
		gasLimit = est * 12 / 10
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("local facilitator: latest header: %w", err)
	}
	tip := big.NewInt(1e9)
	feeCap := new(big.Int).Add(header.BaseFee, tip)
	chainID := big.NewInt(d.network.ChainID)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     txNonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &usdcAddr,
		Value:     new(big.Int),
		Data:      callData,
	})

	signed, err := types.SignTx(tx, types.NewLondonSigner(chainID), f.privateKey)
	if err != nil {
		return nil, fmt.Errorf("local facilitator: signing settlement tx: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return &proto.SettlementReceipt{Success: false, ErrorReason: err.Error()}, nil
	}

	slog.Info("local facilitator settlement submitted", "hash", signed.Hash().Hex(), "from", d.from.Hex(), "to", d.to.Hex(), "value", d.value.String())
	return &proto.SettlementReceipt{Success: true, Transaction: signed.Hash().Hex()}, nil
}

// packTransferWithAuth manually ABI-encodes the transferWithAuthorization
// call, avoiding a runtime abi.JSON parse for a single fixed signature.
func packTransferWithAuth(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte, v uint8, r, s [32]byte) []byte {
	data := make([]byte, 4+9*32)
	copy(data[:4], transferWithAuthSelector)
	offset := 4
	copy(data[offset+12:offset+32], from.Bytes())
	offset += 32
	copy(data[offset+12:offset+32], to.Bytes())
	offset += 32
	copy(data[offset:offset+32], pad32(value))
	offset += 32
	copy(data[offset:offset+32], pad32(validAfter))
	offset += 32
	copy(data[offset:offset+32], pad32(validBefore))
	offset += 32
	copy(data[offset:offset+32], nonce[:])
	offset += 32
	data[offset+31] = v
	offset += 32
	copy(data[offset:offset+32], r[:])
	offset += 32
	copy(data[offset:offset+32], s[:])
	return data
}
