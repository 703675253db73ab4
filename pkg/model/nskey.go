package model

import (
	"fmt"
	"strings"
)

// defaultFormat is assumed when a namespace name carries no recognized
// format suffix.
const defaultFormat = "properties"

// recognizedFormats is the set of format suffixes a namespace name may
// carry.
var recognizedFormats = map[string]bool{
	"properties": true,
	"json":       true,
	"yaml":       true,
	"yml":        true,
	"xml":        true,
	"txt":        true,
}

// NsKey identifies a namespace: the tuple (appId, cluster, namespace).
// Namespace may carry a format suffix (".properties", ".json", ...);
// absence implies "properties". A plain comparable value type, usable
// directly as a map key and in log fields.
type NsKey struct {
	AppID     string
	Cluster   string
	Namespace string
}

// NewNsKey constructs a NsKey, defaulting Cluster to "default" when empty.
func NewNsKey(appID, cluster, namespace string) NsKey {
	if cluster == "" {
		cluster = "default"
	}
	return NsKey{AppID: appID, Cluster: cluster, Namespace: namespace}
}

// String returns "appId/cluster/namespace" for logging and error
// messages.
func (k NsKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.AppID, k.Cluster, k.Namespace)
}

// Key returns a string suitable for map lookups. Identical to String but
// named separately so call sites document intent.
func (k NsKey) Key() string {
	return k.String()
}

// Equal reports whether two keys identify the same namespace.
func (k NsKey) Equal(other NsKey) bool {
	return k.AppID == other.AppID && k.Cluster == other.Cluster && k.Namespace == other.Namespace
}

// IsZero reports whether this is an empty, unset key.
func (k NsKey) IsZero() bool {
	return k.AppID == "" && k.Cluster == "" && k.Namespace == ""
}

// Format returns the namespace's format suffix, defaulting to "properties"
// when the namespace name carries no recognized suffix.
func (k NsKey) Format() string {
	_, format := SplitNamespace(k.Namespace)
	return format
}

// BaseName returns the namespace name with its format suffix (if any)
// stripped — e.g. "application" for both "application" and
// "application.yaml".
func (k NsKey) BaseName() string {
	base, _ := SplitNamespace(k.Namespace)
	return base
}

// SplitNamespace splits a namespace name into its base name and format,
// defaulting to "properties" when no recognized suffix is present.
func SplitNamespace(namespace string) (base, format string) {
	idx := strings.LastIndex(namespace, ".")
	if idx < 0 || idx == len(namespace)-1 {
		return namespace, defaultFormat
	}
	suffix := strings.ToLower(namespace[idx+1:])
	if !recognizedFormats[suffix] {
		return namespace, defaultFormat
	}
	return namespace[:idx], suffix
}

// SplitOwnerApp splits a public-namespace appId prefix ("ownerApp.ns") out
// of a namespace name. Resolution of the split beyond recognizing the
// prefix is left to the BranchResolver collaborator; here we only expose
// the syntactic split other code can use to detect it.
func SplitOwnerApp(namespace string) (ownerApp, rest string, ok bool) {
	idx := strings.Index(namespace, ".")
	if idx <= 0 || idx == len(namespace)-1 {
		return "", namespace, false
	}
	// Only split when the segment after the dot is not itself a known
	// format suffix (that case is a plain "name.format" namespace).
	candidate := namespace[:idx]
	if recognizedFormats[strings.ToLower(namespace[idx+1:])] {
		return "", namespace, false
	}
	return candidate, namespace[idx+1:], true
}
