// Package requirements builds the list of payment requirements advertised
// to clients for a protected route, one per configured network, in
// configuration order — the shape the teacher's middleware built inline
// for its single hardcoded network, generalized to the registry.
package requirements

import (
	"fmt"
	"net/url"

	"github.com/marlinprotocol/x402-gateway/internal/networks"
	"github.com/marlinprotocol/x402-gateway/internal/proto"
)

// DefaultMaxTimeoutSeconds is the advertised payment window (spec default).
const DefaultMaxTimeoutSeconds = 300

// Builder produces payment requirements for protected routes.
type Builder struct {
	registry *networks.Registry
}

// New creates a Builder backed by reg.
func New(reg *networks.Registry) *Builder {
	return &Builder{registry: reg}
}

// Registry exposes the underlying network registry so callers that need a
// network's family (e.g. to dispatch payload validation) don't need a
// second reference to it.
func (b *Builder) Registry() *networks.Registry {
	return b.registry
}

// ResourceURL composes the absolute URL of a canonical (non "-v2") path as
// observed by the client, from the request's scheme and Host header.
func ResourceURL(scheme, host, canonicalPath string) string {
	u := url.URL{Scheme: scheme, Host: host, Path: canonicalPath}
	return u.String()
}

// Build returns one PaymentRequirement per configured network for the
// given canonical path and amount (in USDC microunits).
func (b *Builder) Build(canonicalPath string, usdcAmount int64, resourceURL string) []proto.PaymentRequirement {
	all := b.registry.All()
	out := make([]proto.PaymentRequirement, 0, len(all))
	for _, n := range all {
		req := proto.PaymentRequirement{
			Scheme:            "exact",
			Network:           n.ID,
			MaxAmountRequired: fmt.Sprintf("%d", usdcAmount),
			Asset:             n.USDCAddress,
			PayTo:             n.PaymentAddress,
			Resource:          resourceURL,
			Description:       fmt.Sprintf("access to %s", canonicalPath),
			MimeType:          "application/json",
			OutputSchema:      "application/json",
			MaxTimeoutSeconds: DefaultMaxTimeoutSeconds,
		}
		if n.Family == networks.FamilyEVM {
			req.Extra = proto.RequirementExtra{Name: n.EIP712Name, Version: n.EIP712Version}
		}
		out = append(out, req)
	}
	return out
}

// Match returns the single requirement whose Network matches network, and
// whether one was found. Used to pick the one requirement the client's
// payment artifact claims to satisfy before calling the facilitator.
func Match(reqs []proto.PaymentRequirement, network string) (proto.PaymentRequirement, bool) {
	for _, r := range reqs {
		if r.Network == network {
			return r, true
		}
	}
	return proto.PaymentRequirement{}, false
}
