// Package telemetry defines the telemetry records persisted for a session,
// the raw payloads emitted by producers, and the key that ties a row to
// a session snapshot.
package telemetry

import (
	"fmt"
	"strings"
)

// Kind identifies one telemetry stream.
type Kind int

const (
	Location Kind = iota
	Inclination
	Environment
	Body
)

// Kinds lists every telemetry kind in storage order.
var Kinds = []Kind{Location, Inclination, Environment, Body}

var kindNames = [...]string{"location", "inclination", "environment", "body"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind is the inverse of Kind.String. "heart-rate" is accepted as an
// alias for body.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "heart-rate" || s == "heartrate" {
		return Body, nil
	}
	for i, name := range kindNames {
		if s == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown telemetry kind %q", s)
}

// MarshalText implements encoding.TextMarshaler so kinds can key JSON maps.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
