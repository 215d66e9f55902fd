package verify

import (
	"fmt"

	"github.com/bitgate/gatekeeper/lib/address"
)

// Method identifies which verification path accepted a claim. It is kept
// on the result for auditing; wallets in the wild disagree enough about
// signed-message formats that knowing the matched path matters.
type Method int

const (
	MethodNone Method = iota
	MethodLegacyP2PKH
	MethodBIP137
	MethodBIP322Simple
	MethodBIP322Full
	MethodLooseBIP137
)

func (m Method) String() string {
	switch m {
	case MethodLegacyP2PKH:
		return "legacy-p2pkh"
	case MethodBIP137:
		return "bip137"
	case MethodBIP322Simple:
		return "bip322-simple"
	case MethodBIP322Full:
		return "bip322-full"
	case MethodLooseBIP137:
		return "loose-bip137"
	default:
		return "none"
	}
}

// Reason classifies why a claim failed, distinguishing malformed bytes
// from a well-formed signature that proves the wrong thing.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonFormat   Reason = "format"
	ReasonMismatch Reason = "mismatch"
	ReasonRecovery Reason = "recovery"
)

// Result is the outcome of one verification attempt. A failed claim is a
// Result with Valid=false and a Reason, never an error.
type Result struct {
	Valid       bool
	Method      Method
	AddressType address.Type
	Reason      Reason
	Details     string
}

func pass(method Method, addrType address.Type) Result {
	return Result{Valid: true, Method: method, AddressType: addrType}
}

func fail(reason Reason, format string, args ...interface{}) Result {
	return Result{Reason: reason, Details: fmt.Sprintf(format, args...)}
}
