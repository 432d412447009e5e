package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Side uint8

const (
	SIDE_UNKNOWN Side = iota
	BUY
	SELL
)

func (s Side) String() string {
	switch s {
	case BUY:
		return "BUY"
	case SELL:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

func (s Side) IsValid() bool {
	return s == BUY || s == SELL
}

// Opposite returns the side a resting counterparty sits on.
func (s Side) Opposite() Side {
	switch s {
	case BUY:
		return SELL
	case SELL:
		return BUY
	default:
		return SIDE_UNKNOWN
	}
}

// ParseSide accepts BUY/SELL and the BID/ASK aliases, case-insensitive.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "BID":
		return BUY, nil
	case "SELL", "ASK":
		return SELL, nil
	default:
		return SIDE_UNKNOWN, fmt.Errorf("invalid side %q", s)
	}
}

func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseSide(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
