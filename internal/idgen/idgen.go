// Package idgen generates identifiers for payments, decisions and sessions.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// Prefixes used across the router.
const (
	PaymentPrefix  = "pay_"
	DecisionPrefix = "dec_"
	SessionPrefix  = "ses_"
	EventPrefix    = "evt_"
	WebhookPrefix  = "wh_"
)

// New returns a random (v4) UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by 32 hex chars of a random UUID,
// e.g. "pay_3f0c...".
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Ordered returns a time-ordered (v7) UUID with the given prefix. Audit
// sessions use it so exports sort by creation time.
func Ordered(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return WithPrefix(prefix)
	}
	return prefix + strings.ReplaceAll(id.String(), "-", "")
}

// HasPrefix reports whether id looks like one produced by WithPrefix(prefix).
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix) && len(id) == len(prefix)+32
}
