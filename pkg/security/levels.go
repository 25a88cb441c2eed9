// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package security implements the classification ladder used to gate
// artifact handoffs between sinks. Levels form a total order; a consumer may
// observe data at or below its clearance.
package security

import (
	"fmt"
	"strings"
)

// Levels is the classification ladder, lowest first. The string values are
// part of the configuration surface and must not change.
var Levels = []string{
	"unofficial",
	"official",
	"official-sensitive",
	"secret",
	"top-secret",
}

// Default is the level assumed when none is declared.
const Default = "unofficial"

// Normalize lowercases a level and substitutes the default for empty input.
// Unknown levels are an error.
func Normalize(level string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(level))
	if trimmed == "" {
		return Default, nil
	}
	if index(trimmed) < 0 {
		return "", fmt.Errorf("unknown security level %q", level)
	}
	return trimmed, nil
}

// MustNormalize is Normalize for levels already validated by configuration
// loading; it panics on unknown input.
func MustNormalize(level string) string {
	normalized, err := Normalize(level)
	if err != nil {
		panic(err)
	}
	return normalized
}

// Allowed reports whether a holder of clearanceLevel may observe data at
// dataLevel.
func Allowed(dataLevel, clearanceLevel string) (bool, error) {
	data, err := Normalize(dataLevel)
	if err != nil {
		return false, err
	}
	clearance, err := Normalize(clearanceLevel)
	if err != nil {
		return false, err
	}
	return index(clearance) >= index(data), nil
}

// Resolve returns the highest of the given levels, skipping empty entries.
// With no input it returns the default level.
func Resolve(levels ...string) (string, error) {
	best := Default
	for _, level := range levels {
		if strings.TrimSpace(level) == "" {
			continue
		}
		normalized, err := Normalize(level)
		if err != nil {
			return "", err
		}
		if index(normalized) > index(best) {
			best = normalized
		}
	}
	return best, nil
}

func index(level string) int {
	for i, l := range Levels {
		if l == level {
			return i
		}
	}
	return -1
}
