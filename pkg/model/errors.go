// Package model holds the wire-level types shared between the configuration
// server and the client SDK: namespace identity, immutable releases, change
// events, and the ordered map used to preserve server insertion order.
package model

import "errors"

// Sentinel error kinds. Callers should compare with errors.Is; wrapped
// instances carry additional context via fmt.Errorf("...: %w", ...).
var (
	// ErrInvalidArgument marks a fatal, never-retried caller error: a nil
	// key/namespace, malformed notifications JSON, or similar.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks an unknown namespace, app, or cluster.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable marks a transport error, timeout, or 5xx response.
	ErrUnavailable = errors.New("service unavailable")

	// ErrParse marks a document that could not be parsed, such as an
	// unreadable local cache file. Typed accessors do not return it: on
	// a parse failure they return the caller's default.
	ErrParse = errors.New("parse error")
)
