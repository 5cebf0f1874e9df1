// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/tablefire/concierge/pkg/validation"
)

// The "identifier" rule applies the same character set the stores and
// caches require of key segments, so malformed ids are rejected at the
// HTTP boundary.
func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
			return validation.ValidateStationID(fl.Field().String()) == nil
		})
	}
}
