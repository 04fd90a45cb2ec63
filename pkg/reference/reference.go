// Package reference implements the token format used to replace offloaded
// payloads in messages.
//
// A reference token has the exact shape:
//
//	@content:<backend>:<location>:<key>
//
// where <backend> names the store implementation ("dynamodb", "s3", ...),
// <location> names the addressable container (table, bucket) and <key> is a
// UUID generated at offload time. The fixed prefix plus UUID suffix makes a
// token distinguishable from ordinary payload content with overwhelming
// probability.
package reference

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Prefix is the fixed lead-in every token carries. Detection is a prefix
// match, O(1) in the payload size.
const Prefix = "@content:"

// Ref is a decoded store location.
type Ref struct {
	// Backend identifies the store implementation, e.g. "dynamodb".
	Backend string

	// Location identifies the store's addressable container, e.g. a table
	// or bucket name.
	Location string

	// Key is the generated item key, a UUID string.
	Key string
}

// String returns the encoded token for the reference.
func (r Ref) String() string {
	return Encode(r.Backend, r.Location, r.Key)
}

// Encode builds a token from its parts.
func Encode(backend, location, key string) string {
	return Prefix + backend + ":" + location + ":" + key
}

// NewKey returns a fresh globally unique item key.
func NewKey() string {
	return uuid.NewString()
}

// Parse decodes a candidate string. The second return value reports whether
// the string is a reference token at all; arbitrary payload content returns
// (Ref{}, false), never an error. Strings carrying the prefix but not the
// full shape also return false — the transformer treats them as ordinary
// content rather than failing the whole payload.
func Parse(s string) (Ref, bool) {
	if !strings.HasPrefix(s, Prefix) {
		return Ref{}, false
	}

	rest := s[len(Prefix):]
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Ref{}, false
	}
	if _, err := uuid.Parse(parts[2]); err != nil {
		return Ref{}, false
	}

	return Ref{Backend: parts[0], Location: parts[1], Key: parts[2]}, true
}

// Validate checks that a decoded reference names the backend and location
// this deployment is configured for. Cross-deployment tokens are rejected
// rather than looked up in the wrong store.
func (r Ref) Validate(backend, location string) error {
	if r.Backend != backend {
		return fmt.Errorf("reference backend %q does not match configured backend %q", r.Backend, backend)
	}
	if r.Location != location {
		return fmt.Errorf("reference location %q does not match configured location %q", r.Location, location)
	}
	return nil
}
