// Package branch implements the BranchResolver collaborator contract:
// given a namespace key and a requesting client's address, decide which
// Release that client should see. The default PassthroughResolver always
// resolves to the namespace's current main release; GrayResolver layers
// IP-prefix/exact gray-release rules on top of it.
package branch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/configwatch/configd/pkg/model"
)

// CurrentReleaseFunc resolves the namespace's main (non-gray) current
// release. The server wires this to ReleaseStore.GetCurrent.
type CurrentReleaseFunc func(ctx context.Context, key model.NsKey) (model.Release, error)

// Resolver decides which release a given client should observe for a
// namespace. Implementations must be safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, key model.NsKey, clientIP string) (model.Release, error)
}

// PassthroughResolver always defers to the namespace's current main
// release; it is the default used when no gray-release rules are
// configured.
type PassthroughResolver struct {
	Current CurrentReleaseFunc
}

// NewPassthroughResolver constructs a PassthroughResolver over current.
func NewPassthroughResolver(current CurrentReleaseFunc) *PassthroughResolver {
	return &PassthroughResolver{Current: current}
}

// Resolve implements Resolver.
func (r *PassthroughResolver) Resolve(ctx context.Context, key model.NsKey, _ string) (model.Release, error) {
	return r.Current(ctx, key)
}

// Rule is a single gray-release routing rule: clients whose address
// matches Pattern against a namespace matching NamespaceGlob are routed
// to the release identified by GrayReleaseKey instead of the main
// release.
type Rule struct {
	// NamespaceGlob matches a namespace name, supporting "*" as a
	// trailing or leading wildcard.
	NamespaceGlob string
	// Pattern matches a client IP or CIDR-less prefix: an exact
	// address, "*" for all clients, "prefix*" for a dotted-prefix
	// match, or "*suffix" for a suffix match.
	Pattern string
	// GrayReleaseKey names the release to serve to matching clients.
	GrayReleaseKey string
}

// GrayResolver layers a small set of gray-release Rules on top of a
// fallback Resolver (normally a PassthroughResolver). It is grounded on
// rulestore.Store: an RWMutex-protected slice of rules, linear-scanned
// under RLock, with the same wildcard-matching helper shape as
// CompiledRule.singleResourceMatches.
type GrayResolver struct {
	mu       sync.RWMutex
	rules    []Rule
	fallback Resolver
	byKey    ReleaseByKeyFunc
}

// ReleaseByKeyFunc looks up a specific named release (e.g. a gray
// release tagged by releaseKey or label) for a namespace.
type ReleaseByKeyFunc func(ctx context.Context, key model.NsKey, releaseKey string) (model.Release, error)

// NewGrayResolver constructs a GrayResolver with no rules configured;
// every Resolve call falls through to fallback until rules are added.
func NewGrayResolver(fallback Resolver, byKey ReleaseByKeyFunc) *GrayResolver {
	return &GrayResolver{fallback: fallback, byKey: byKey}
}

// SetRules atomically replaces the active rule set.
func (g *GrayResolver) SetRules(rules []Rule) {
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	g.mu.Lock()
	g.rules = cp
	g.mu.Unlock()
}

// Rules returns a snapshot of the currently configured rules.
func (g *GrayResolver) Rules() []Rule {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Rule, len(g.rules))
	copy(out, g.rules)
	return out
}

// Resolve implements Resolver: the first matching rule wins; no match
// falls through to the fallback resolver.
func (g *GrayResolver) Resolve(ctx context.Context, key model.NsKey, clientIP string) (model.Release, error) {
	g.mu.RLock()
	rules := g.rules
	g.mu.RUnlock()

	for _, rule := range rules {
		if !namespaceMatches(rule.NamespaceGlob, key.Namespace) {
			continue
		}
		if !addressMatches(rule.Pattern, clientIP) {
			continue
		}
		release, err := g.byKey(ctx, key, rule.GrayReleaseKey)
		if err != nil {
			return model.Release{}, fmt.Errorf("resolving gray release %q for %s: %w", rule.GrayReleaseKey, key.String(), err)
		}
		return release, nil
	}
	return g.fallback.Resolve(ctx, key, clientIP)
}

// namespaceMatches supports "*", exact, "prefix*", and "*suffix".
func namespaceMatches(glob, namespace string) bool {
	return wildcardMatch(glob, namespace)
}

// addressMatches supports the same pattern shapes as namespaceMatches,
// applied to a client's address string.
func addressMatches(pattern, clientIP string) bool {
	return wildcardMatch(pattern, clientIP)
}

// wildcardMatch is the shared matcher, mirroring
// rulestore.CompiledRule.singleResourceMatches/isWildcardMatch: exact
// (case-insensitive), "*", trailing-wildcard prefix, leading-wildcard
// suffix.
func wildcardMatch(pattern, value string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if strings.EqualFold(pattern, value) {
		return true
	}
	if len(pattern) <= 1 {
		return false
	}
	lowerPattern := strings.ToLower(pattern)
	lowerValue := strings.ToLower(value)
	if lowerPattern[len(lowerPattern)-1] == '*' {
		return strings.HasPrefix(lowerValue, lowerPattern[:len(lowerPattern)-1])
	}
	if lowerPattern[0] == '*' {
		return strings.HasSuffix(lowerValue, lowerPattern[1:])
	}
	return false
}
