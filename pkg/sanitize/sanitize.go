// Package sanitize makes untrusted values safe to print on a terminal.
//
// Device names, addresses and alert details come straight from uploaded
// tables and API callers. Rendering them raw would let a crafted value move
// the cursor, clear the screen or rewrite earlier lines.
package sanitize

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
	"unicode/utf8"
)

const (
	// Ellipsis marks truncated output.
	Ellipsis = "…"

	// InvalidAddress replaces a value that does not parse as an IP.
	InvalidAddress = "[invalid]"
)

// Terminal drops ANSI escape sequences, folds tab, CR and LF to a space and
// replaces every other control rune with '?'. Invalid UTF-8 bytes are
// replaced the same way.
func Terminal(s string) string {
	if clean(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == 0x1B:
			i += escapeLen(s[i:])
			continue
		case r == '\t' || r == '\n' || r == '\r':
			b.WriteByte(' ')
		case r == utf8.RuneError && size == 1:
			b.WriteByte('?')
		case r < 0x20 || (r >= 0x7F && r < 0xA0):
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

func clean(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if r < 0x20 || (r >= 0x7F && r < 0xA0) {
			return false
		}
	}
	return true
}

// escapeLen returns the byte length of the escape sequence at the start of
// s, which begins with ESC.
func escapeLen(s string) int {
	if len(s) < 2 {
		return len(s)
	}
	switch s[1] {
	case '[':
		// CSI: parameters and intermediates up to a final byte in 0x40-0x7E.
		for i := 2; i < len(s); i++ {
			if s[i] >= 0x40 && s[i] <= 0x7E {
				return i + 1
			}
		}
		return len(s)
	case ']':
		// OSC: terminated by BEL or ST.
		for i := 2; i < len(s); i++ {
			if s[i] == 0x07 {
				return i + 1
			}
			if s[i] == 0x1B && i+1 < len(s) && s[i+1] == '\\' {
				return i + 2
			}
		}
		return len(s)
	default:
		return 2
	}
}

// Truncate shortens s to at most max runes, ending in Ellipsis when cut.
// max <= 0 disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max == 1 {
		return Ellipsis
	}
	n := 0
	for i := range s {
		if n == max-1 {
			return s[:i] + Ellipsis
		}
		n++
	}
	return s
}

// Line sanitizes s and truncates it to max runes.
func Line(s string, max int) string {
	return Truncate(Terminal(s), max)
}

// Address returns the canonical form of an IP address, or InvalidAddress.
func Address(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return InvalidAddress
	}
	return addr.String()
}

// Value renders an alert detail value on one line. Strings are sanitized as
// is; numbers and booleans use their natural format; everything else is
// rendered as compact JSON.
func Value(v any, max int) string {
	var s string
	switch x := v.(type) {
	case nil:
		s = "null"
	case string:
		s = x
	case bool, int, int64, float64:
		s = fmt.Sprint(x)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			s = fmt.Sprintf("%v", x)
		} else {
			s = string(data)
		}
	}
	return Line(s, max)
}
