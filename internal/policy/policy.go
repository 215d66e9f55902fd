// Package policy defines the token-holding policy a group enforces and
// the asset-divisibility-aware arithmetic that decides whether a verified
// address satisfies it.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Kind selects between plain signature gating and token gating.
type Kind string

const (
	KindBasic Kind = "basic"
	KindToken Kind = "token"
)

// OnFail is the action taken against a non-compliant member.
type OnFail string

const (
	FailRestrict OnFail = "restrict"
	FailKick     OnFail = "kick"
)

// Policy is a group's active admission rule. At most one policy is active
// per group; replacing it changes the policy hash, which drives
// grandfathering.
type Policy struct {
	Kind               Kind
	Asset              string
	MinAmount          string
	IncludeUnconfirmed bool
	OnFail             OnFail
}

// Basic reports whether the policy only requires a verified address.
func (p Policy) Basic() bool {
	return p.Kind != KindToken
}

// Hash returns a stable digest over the normalized policy fields. The
// field order is fixed here, so storage layout or JSON key order can
// never change the digest.
func (p Policy) Hash() string {
	normalized := fmt.Sprintf("%s|%s|%s|%t|%s",
		p.Kind,
		strings.ToUpper(strings.TrimSpace(p.Asset)),
		strings.TrimSpace(p.MinAmount),
		p.IncludeUnconfirmed,
		p.OnFail,
	)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Validate rejects policies that could never be evaluated.
func (p Policy) Validate() error {
	switch p.Kind {
	case KindBasic:
	case KindToken:
		if strings.TrimSpace(p.Asset) == "" {
			return fmt.Errorf("token policy needs an asset")
		}
		if _, err := ToAtomic(p.MinAmount, DivisibleDecimals); err != nil {
			return fmt.Errorf("token policy minimum: %w", err)
		}
	default:
		return fmt.Errorf("unknown policy kind %q", p.Kind)
	}
	switch p.OnFail {
	case FailRestrict, FailKick:
	default:
		return fmt.Errorf("unknown on-fail action %q", p.OnFail)
	}
	return nil
}
