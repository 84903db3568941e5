package config

import (
	"fmt"
	"strings"
)

// Strategy selects the skip predicate applied once warmup is over.
type Strategy int

const (
	Fixed Strategy = iota
	Dynamic
	Adaptive
)

// Strategies lists every strategy in declaration order.
var Strategies = []Strategy{Fixed, Dynamic, Adaptive}

func (s Strategy) String() string {
	switch s {
	case Fixed:
		return "fixed"
	case Dynamic:
		return "dynamic"
	case Adaptive:
		return "adaptive"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func (s Strategy) Valid() bool {
	return s >= Fixed && s <= Adaptive
}

// ParseStrategy accepts the lower-case strategy names, ignoring case and
// surrounding whitespace.
func ParseStrategy(v string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "fixed":
		return Fixed, nil
	case "dynamic":
		return Dynamic, nil
	case "adaptive":
		return Adaptive, nil
	}
	return 0, &ValidationError{Field: "strategy", Value: v, Reason: "must be one of fixed, dynamic, adaptive"}
}

func (s Strategy) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, &ValidationError{Field: "strategy", Value: int(s), Reason: "unknown strategy"}
	}
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
