// Command gateway runs the x402 payment-gated reverse proxy: it loads
// config.json plus signing-key environment variables, builds the network
// registry and requirements builder, wires a facilitator client and
// backend proxy, and serves the payment-gate state machine behind a
// request-id middleware. Wiring order: config → signing identity →
// payment layer (requirements, facilitator) → backend proxy → listen.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/marlinprotocol/x402-gateway/internal/config"
	"github.com/marlinprotocol/x402-gateway/internal/facilitator"
	"github.com/marlinprotocol/x402-gateway/internal/middleware"
	"github.com/marlinprotocol/x402-gateway/internal/proxy"
	"github.com/marlinprotocol/x402-gateway/internal/requirements"
	"github.com/marlinprotocol/x402-gateway/internal/signing"
	"github.com/marlinprotocol/x402-gateway/internal/x402gate"
)

// backendTimeout bounds how long the gateway waits for the protected
// backend before giving up and returning a signed 504.
const backendTimeout = 30 * time.Second

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	registry, err := cfg.BuildRegistry()
	if err != nil {
		slog.Error("failed to build network registry", "err", err)
		os.Exit(1)
	}
	if err := cfg.ValidateRequirementCoverage(registry); err != nil {
		slog.Error("invalid route/network configuration", "err", err)
		os.Exit(1)
	}

	identity, err := signing.LoadIdentity(context.Background(), cfg.SigningPrivateKeyHex, cfg.SigningKeyDeriveURL, cfg.SigningKeyDeriveToken)
	if err != nil {
		slog.Error("failed to load signing identity", "err", err)
		os.Exit(1)
	}
	slog.Info("signing identity loaded", "address", identity.Address(), "public_key", identity.PublicKeyHex())

	reqBuilder := requirements.New(registry)

	var facilitatorClient facilitator.Client
	if cfg.RelayerPrivateKeyHex != "" {
		slog.Info("payment mode: self-hosted facilitator")
		lf, err := facilitator.NewLocalFacilitator(registry, facilitator.RPCTable(cfg.SettlementRPCs()), cfg.RelayerPrivateKeyHex)
		if err != nil {
			slog.Error("failed to start local facilitator", "err", err)
			os.Exit(1)
		}
		slog.Info("local facilitator relayer", "address", lf.Address().Hex())
		facilitatorClient = lf
	} else {
		slog.Info("payment mode: remote facilitator", "url", cfg.FacilitatorURL)
		facilitatorClient = facilitator.New(cfg.FacilitatorURL)
	}

	backend := proxy.New(cfg.BackendURL, backendTimeout)

	gw := x402gate.New(cfg.Routes, reqBuilder, facilitatorClient, backend, identity)
	if cfg.GatewayHostname != "" {
		gw.PublicHost = cfg.GatewayHostname
	}

	handler := middleware.RequestID(gw)

	addr := fmt.Sprintf(":%d", cfg.GatewayPort)
	slog.Info("gateway starting",
		"addr", addr,
		"backend", cfg.BackendURL,
		"facilitator", cfg.FacilitatorURL,
		"networks", len(registry.All()),
		"protected_routes", len(cfg.Routes.Protected),
		"free_routes", len(cfg.Routes.Free),
	)

	if err := http.ListenAndServe(addr, handler); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
