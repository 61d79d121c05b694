// SPDX-License-Identifier: MIT

package openmeteo

import "fmt"

// Kind classifies client failures.
type Kind int

const (
	// KindStatus is a non-200 response without a parseable error body.
	KindStatus Kind = iota
	// KindUpstream is an error reported by the API itself.
	KindUpstream
	// KindDecode is a malformed response body.
	KindDecode
)

// Error is the client's error taxonomy.
type Error struct {
	Kind   Kind
	Status int
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUpstream:
		if e.Status != 0 {
			return fmt.Sprintf("open-meteo: upstream error (status %d): %s", e.Status, e.Reason)
		}
		return "open-meteo: upstream error: " + e.Reason
	case KindDecode:
		return fmt.Sprintf("open-meteo: decode response: %v", e.Err)
	default:
		return fmt.Sprintf("open-meteo: unexpected status %d", e.Status)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth retrying. Upstream reasons
// (bad parameters) and decode failures are deterministic; 5xx and transport
// errors are not.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindStatus:
		return e.Status >= 500 || e.Status == 429
	default:
		return false
	}
}
