// Package router classifies an incoming request path against the
// configured route table: free, protected, or unknown, resolving the
// "-v2" wire-revision suffix to its canonical path along the way.
package router

import "strings"

// Class is the outcome of classifying a request path.
type Class int

const (
	// Unknown means the path matches neither a free nor a protected route.
	Unknown Class = iota
	// Free means the exact path is served without requiring payment.
	Free
	// Protected means the path (or its canonical form) requires a verified
	// payment before the backend is called.
	Protected
)

// v2Suffix marks a request as using x402 wire revision 2: the 402
// challenge and proof are carried in headers instead of the body.
const v2Suffix = "-v2"

// Classify resolves path against the free and protected route sets. The
// free set is matched against the raw, unstripped path: free routes never
// carry a V2 variant, so "/health-v2" is not "/health" with a suffix, it is
// simply not in the free set. The protected map is checked first against
// the path as given, then with a "-v2" suffix stripped, which is where the
// wire-revision distinction matters.
func Classify(free []string, protected map[string]int64, path string) (class Class, canonicalPath string, isV2 bool) {
	for _, p := range free {
		if p == path {
			return Free, path, false
		}
	}

	if _, ok := protected[path]; ok {
		return Protected, path, false
	}

	canonicalPath, isV2 = strings.CutSuffix(path, v2Suffix)
	if _, ok := protected[canonicalPath]; ok {
		return Protected, canonicalPath, isV2
	}
	return Unknown, canonicalPath, isV2
}
