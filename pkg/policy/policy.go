// Package policy decides whether a payload of a given byte length must be
// offloaded to the content store or passed through unchanged.
package policy

// Reason explains a policy decision.
type Reason string

const (
	// ReasonSizeExceeded means the payload length was strictly greater than
	// the configured threshold.
	ReasonSizeExceeded Reason = "size_exceeded"

	// ReasonBelowThreshold means the payload fits within the threshold.
	ReasonBelowThreshold Reason = "below_threshold"
)

// Decision is the outcome of a size check. It is computed per payload and
// never persisted.
type Decision struct {
	Offload bool
	Reason  Reason
}

// Decide returns the offload decision for a payload of byteLength bytes
// against the given threshold. A length strictly greater than the threshold
// offloads. A threshold of 0 therefore forces offloading of every non-empty
// payload; test harnesses rely on this, it is not a misconfiguration.
func Decide(byteLength, threshold int) Decision {
	if byteLength > threshold {
		return Decision{Offload: true, Reason: ReasonSizeExceeded}
	}
	return Decision{Offload: false, Reason: ReasonBelowThreshold}
}
