// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package location

import (
	"fmt"
	"strings"
)

// AuthorizationState is the permission the platform granted to read the location.
type AuthorizationState int

const (
	// NotDetermined the user has not been asked yet.
	NotDetermined AuthorizationState = iota
	// Restricted the platform forbids location access.
	Restricted
	// Denied the user refused.
	Denied
	// AuthorizedAlways granted, including background use.
	AuthorizedAlways
	// AuthorizedWhenInUse granted while the application is in use.
	AuthorizedWhenInUse
)

var authorizationNames = []string{
	NotDetermined:       "not_determined",
	Restricted:          "restricted",
	Denied:              "denied",
	AuthorizedAlways:    "authorized_always",
	AuthorizedWhenInUse: "authorized_when_in_use",
}

// Valid reports whether s is one of the known states.
func (s AuthorizationState) Valid() bool {
	return s >= NotDetermined && s <= AuthorizedWhenInUse
}

// Granted reports whether locations may be delivered.
func (s AuthorizationState) Granted() bool {
	return s == AuthorizedAlways || s == AuthorizedWhenInUse
}

// Refused reports whether access was denied or restricted.
func (s AuthorizationState) Refused() bool {
	return s == Denied || s == Restricted
}

func (s AuthorizationState) String() string {
	if !s.Valid() {
		return fmt.Sprintf("unknown(%d)", int(s))
	}

	return authorizationNames[s]
}

// ParseAuthorizationState parses a state name; "when_in_use" and "always" are
// accepted as shorthands. Unknown names map to NotDetermined.
func ParseAuthorizationState(name string) AuthorizationState {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer("-", "_", " ", "_").Replace(name)

	switch name {
	case "when_in_use", "granted", "authorized":
		return AuthorizedWhenInUse
	case "always":
		return AuthorizedAlways
	}

	for i, n := range authorizationNames {
		if n == name {
			return AuthorizationState(i)
		}
	}

	return NotDetermined
}

// MarshalText implements encoding.TextMarshaler.
func (s AuthorizationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *AuthorizationState) UnmarshalText(text []byte) error {
	*s = ParseAuthorizationState(string(text))

	return nil
}
