// Package chain parses option contract identifiers and answers per-date questions
// about an options chain: which contract sits closest to a target delta, and what a
// given contract traded at.
package chain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Right is the option right of a contract.
type Right string

const (
	// RightCall is a call option
	RightCall Right = "call"
	// RightPut is a put option
	RightPut Right = "put"
	// RightUnknown marks an identifier without a recognizable right code
	RightUnknown Right = ""
)

// Identifier codes for the right, searched in this order.
const (
	callCode = "CE"
	putCode  = "PE"
	// idSeparator splits an identifier into fields; the last field carries strike and right.
	idSeparator = "-"
)

// ErrMalformedIdentifier is returned when an identifier carries no strike digits.
var ErrMalformedIdentifier = errors.New("malformed contract identifier")

// Valid returns true for call and put.
func (r Right) Valid() bool {
	return r == RightCall || r == RightPut
}

// IsCall reports whether r is a call.
func (r Right) IsCall() bool {
	return r == RightCall
}

// ParseRight parses "call" or "put", case-insensitively.
func ParseRight(s string) (Right, error) {
	switch Right(strings.ToLower(strings.TrimSpace(s))) {
	case RightCall:
		return RightCall, nil
	case RightPut:
		return RightPut, nil
	default:
		return RightUnknown, fmt.Errorf("unknown option right %q", s)
	}
}

// Contract is the strike and right decoded from an identifier.
type Contract struct {
	Strike float64
	Right  Right
}

// ParseContractID decodes an identifier such as "RELIANCE-27JUN19-1300CE".
//
// All digits of the last field form the strike. A field containing neither right
// code yields RightUnknown without an error; such a contract never matches a lookup.
func ParseContractID(id string) (Contract, error) {
	fields := strings.Split(id, idSeparator)
	last := fields[len(fields)-1]

	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, last)
	if digits == "" {
		return Contract{}, fmt.Errorf("%w: %q has no strike digits", ErrMalformedIdentifier, id)
	}
	strike, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return Contract{}, fmt.Errorf("%w: %q: %v", ErrMalformedIdentifier, id, err)
	}

	right := RightUnknown
	switch {
	case strings.Contains(last, callCode):
		right = RightCall
	case strings.Contains(last, putCode):
		right = RightPut
	}
	return Contract{Strike: strike, Right: right}, nil
}
