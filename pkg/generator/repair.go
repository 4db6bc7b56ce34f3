package generator

import (
	"bytes"
	"strings"
)

// Repair applies best-effort fixes for the ways models commonly break JSON:
// surrounding prose or markdown fences, trailing commas, missing commas
// between adjacent values, and raw newlines inside strings. The result is
// not guaranteed to be valid JSON.
func Repair(raw string) string {
	s := stripFences(strings.TrimSpace(raw))
	s = trimToValue(s)
	return fixSeparators(s)
}

func stripFences(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	// Drop the info string (e.g. "json") on the opening fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// trimToValue cuts leading and trailing prose around the outermost object or array.
func trimToValue(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

func fixSeparators(s string) string {
	var out bytes.Buffer
	out.Grow(len(s) + 16)

	inString, escaped := false, false
	var last byte // last significant byte written outside a string
	lastComma := -1

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
				out.WriteByte(c)
			case c == '\\':
				escaped = true
				out.WriteByte(c)
			case c == '"':
				inString = false
				last = '"'
				out.WriteByte(c)
			case c == '\n':
				out.WriteString(`\n`)
			case c == '\r':
				out.WriteString(`\r`)
			case c == '\t':
				out.WriteString(`\t`)
			default:
				out.WriteByte(c)
			}
			continue
		}

		switch c {
		case ' ', '\t', '\n', '\r':
			out.WriteByte(c)
			continue
		case '}', ']':
			if last == ',' && lastComma >= 0 {
				b := out.Bytes()
				out.Reset()
				out.Write(b[:lastComma])
				out.Write(b[lastComma+1:])
			}
		case '"', '{', '[':
			if endsValue(last) {
				out.WriteByte(',')
			}
			if c == '"' {
				inString = true
			}
		}

		if c == ',' {
			lastComma = out.Len()
		}
		out.WriteByte(c)
		if c != '"' {
			last = c
		}
	}
	return out.String()
}

// endsValue reports whether b can be the final byte of a JSON value.
func endsValue(b byte) bool {
	switch {
	case b == '"', b == '}', b == ']':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == 'e', b == 'l': // true, false, null
		return true
	}
	return false
}
