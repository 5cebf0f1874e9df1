// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pricing

import (
	_ "embed"
)

// RateCardYAML holds the raw bytes of the default rate card.
//
// Baked in at compile time so a misconfigured or missing config file can
// never leave the calculator without prices. Station-specific overrides
// layer on top at runtime.
//
//go:embed rate_card.yaml
var RateCardYAML []byte
