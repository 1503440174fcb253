// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tomtom215/blockstats/internal/validation"
)

// sanitizeLogValue escapes control characters so request data cannot forge
// log lines.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// playerParam is the {uuid} path parameter.
type playerParam struct {
	UUID string `validate:"required,uuid"`
}

// sessionListParams are the query parameters of GET /api/v1/sessions.
type sessionListParams struct {
	Limit int `validate:"gte=0,lte=10000"`
}

// parsePlayerID validates raw and parses it. The error is a *validation.Error.
func parsePlayerID(raw string) (uuid.UUID, error) {
	if err := validation.ValidateStruct(&playerParam{UUID: raw}); err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(raw)
}

// parseIntParam parses value, falling back to defaultValue when it is empty
// or not a number.
func parseIntParam(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// validationDetails returns the field errors of err for the response body.
func validationDetails(err error) interface{} {
	var verr *validation.Error
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return nil
}
