// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for identifiers
// that end up in store keys, cache keys, or log lines. Validating them at
// the boundary prevents key-injection and unbounded-cardinality problems.
package validation

import (
	"fmt"
	"regexp"
)

// identifierPattern matches station and conversation identifiers.
// Allows: letters, digits, hyphens, underscores. Max length 64.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,63}$`)

// ValidateStationID validates a station identifier before it is used as a
// cache or store key segment.
//
// Valid station IDs are 1-64 characters of letters, digits, hyphens, and
// underscores, starting with an alphanumeric.
func ValidateStationID(stationID string) error {
	if stationID == "" {
		return fmt.Errorf("station id cannot be empty")
	}
	if !identifierPattern.MatchString(stationID) {
		return fmt.Errorf("station id %q contains invalid characters or is too long", stationID)
	}
	return nil
}

// ValidateConversationID validates a conversation identifier. Same character
// set as station IDs; conversation IDs are usually UUIDs, which pass.
func ValidateConversationID(conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}
	if !identifierPattern.MatchString(conversationID) {
		return fmt.Errorf("conversation id %q contains invalid characters or is too long", conversationID)
	}
	return nil
}
