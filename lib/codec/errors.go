package codec

import "errors"

// Parsers in this package never panic on malformed input. Every failure
// wraps one of these sentinels so callers can fold any parse problem into
// a clean "invalid signature" outcome.
var (
	ErrTruncated    = errors.New("codec: truncated input")
	ErrMalformedDER = errors.New("codec: malformed DER signature")
	ErrBadEncoding  = errors.New("codec: unrecognized signature encoding")
)
