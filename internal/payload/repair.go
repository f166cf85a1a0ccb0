package payload

import (
	"bytes"
	"fmt"
)

// RepairJSON escapes raw control characters (bytes below 0x20) that appear
// inside quoted string spans. Bytes outside strings are copied unchanged, so
// structural whitespace between tokens survives. The boolean reports whether
// any byte was rewritten.
//
// Automation clients that splice SMS text into a JSON template produce bodies
// such as {"message_body": "line1<LF>line2"}; after repair the same body
// decodes to "line1\nline2".
func RepairJSON(raw []byte) ([]byte, bool) {
	var out bytes.Buffer
	out.Grow(len(raw) + 16)

	inString := false
	escaped := false
	changed := false

	for _, b := range raw {
		if !inString {
			if b == '"' {
				inString = true
			}
			out.WriteByte(b)
			continue
		}

		if escaped {
			escaped = false
			if b < 0x20 {
				// A literal backslash followed by a raw control byte. Both are
				// text: complete the written backslash as "\\", then escape b.
				out.WriteByte('\\')
				out.WriteString(controlEscape(b))
				changed = true
				continue
			}
			out.WriteByte(b)
			continue
		}

		switch {
		case b == '\\':
			escaped = true
			out.WriteByte(b)
		case b == '"':
			inString = false
			out.WriteByte(b)
		case b < 0x20:
			out.WriteString(controlEscape(b))
			changed = true
		default:
			out.WriteByte(b)
		}
	}

	if !changed {
		return raw, false
	}
	return out.Bytes(), true
}

func controlEscape(b byte) string {
	switch b {
	case '\n':
		return `\n`
	case '\r':
		return `\r`
	case '\t':
		return `\t`
	case '\b':
		return `\b`
	case '\f':
		return `\f`
	default:
		return fmt.Sprintf(`\u%04x`, b)
	}
}
