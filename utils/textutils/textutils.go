// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package textutils normalizes user typed text before it is matched against place names.
package textutils

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// LowerASCIIFolding removes accents, lowercases and trims s.
func LowerASCIIFolding(s string) string {
	s, _, _ = transform.String(
		transform.Chain(
			norm.NFD,
			runes.Remove(runes.In(unicode.Mn)),
			norm.NFC,
		),
		strings.TrimSpace(strings.ToLower(s)),
	)

	return s
}

// CollapseSpaces replaces runs of white space with a single blank.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern returns a SQL LIKE pattern (escape character '\') matching
// folded values that contain the folded form of s.
func ContainsPattern(s string) string {
	return "%" + likeEscaper.Replace(CollapseSpaces(LowerASCIIFolding(s))) + "%"
}

// FormatCount renders n with comma thousands separators, as in 12,345.
func FormatCount(n int) string {
	digits := strconv.Itoa(n)

	sign := ""
	if n < 0 {
		sign, digits = "-", digits[1:]
	}

	var b strings.Builder

	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}

		b.WriteRune(d)
	}

	return sign + b.String()
}
