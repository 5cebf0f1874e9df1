// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package safety

import (
	_ "embed"
)

// RulesYAML holds the raw bytes of the validation rule file.
//
// Compiled in so the rules are immutable at runtime and cannot be weakened
// by editing a file on the host.
//
//go:embed rules.yaml
var RulesYAML []byte
