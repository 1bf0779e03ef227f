// Package stringutils provides utility functions for string operations.
package stringutils

import "strings"

// IsASCII checks if a string contains only ASCII characters.
func IsASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

// IsPathComponent checks if s can be used verbatim as a single file name:
// printable ASCII without path separators, and neither "." nor "..".
func IsPathComponent(s string) bool {
	if s == "" || s == "." || s == ".." || !IsASCII(s) {
		return false
	}
	if strings.ContainsAny(s, `/\`) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7f {
			return false
		}
	}
	return true
}
