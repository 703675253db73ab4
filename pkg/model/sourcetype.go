package model

// SourceType records where a NamespaceConfig's current snapshot came
// from.
type SourceType string

const (
	// SourceRemote means the snapshot was adopted from a successful
	// server fetch.
	SourceRemote SourceType = "REMOTE"
	// SourceLocal means the snapshot was recovered from the on-disk
	// fallback cache after a remote fetch failed.
	SourceLocal SourceType = "LOCAL"
	// SourceNone means neither a remote fetch nor a local cache file
	// produced a snapshot; accessors return only caller-supplied
	// defaults.
	SourceNone SourceType = "NONE"
)

// ConfigsResponse is the wire body of GET /configs/{appId}/{cluster}/{namespace}.
type ConfigsResponse struct {
	AppID          string      `json:"appId"`
	Cluster        string      `json:"cluster"`
	NamespaceName  string      `json:"namespaceName"`
	Configurations *OrderedMap `json:"configurations"`
	ReleaseKey     string      `json:"releaseKey"`
}

// NotificationEntry is one element of the /notifications/v2 request and
// response arrays.
type NotificationEntry struct {
	NamespaceName  string `json:"namespaceName"`
	NotificationID int64  `json:"notificationId"`
	Messages       any    `json:"messages,omitempty"`
}
