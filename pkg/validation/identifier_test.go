// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"strings"
	"testing"
)

func TestValidateStationID(t *testing.T) {
	valid := []string{"austin-north", "station_42", "S1", "9b2c"}
	for _, id := range valid {
		if err := ValidateStationID(id); err != nil {
			t.Errorf("ValidateStationID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{
		"",
		"-leading-dash",
		"has space",
		"semi;colon",
		"dot.path",
		strings.Repeat("a", 65),
	}
	for _, id := range invalid {
		if err := ValidateStationID(id); err == nil {
			t.Errorf("ValidateStationID(%q) = nil, want error", id)
		}
	}
}

func TestValidateConversationID(t *testing.T) {
	if err := ValidateConversationID("3f2b9d1e-8a4c-4f0e-9c7d-2b1a0e9f8d7c"); err != nil {
		t.Errorf("UUID should be valid, got %v", err)
	}
	if err := ValidateConversationID("../escape"); err == nil {
		t.Error("path-traversal-looking id should be rejected")
	}
}
