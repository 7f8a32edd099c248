// SPDX-License-Identifier: MPL-2.0

package config

import "strings"

// SanitizeName derives a valid project name from an arbitrary directory
// name: lowercased, disallowed characters replaced with hyphens, trimmed
// to the length limit. Returns "project" when nothing usable remains.
func SanitizeName(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	name := strings.Trim(b.String(), "-_")
	if len(name) > maxProjectNameLen {
		name = name[:maxProjectNameLen]
		name = strings.Trim(name, "-_")
	}
	if name == "" {
		return "project"
	}
	return name
}
