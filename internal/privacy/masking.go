// Package privacy masks secrets and message content before they reach logs.
package privacy

import (
	"strings"
	"unicode/utf8"
)

// PreviewRunes is how many leading runes MessagePreview keeps.
const PreviewRunes = 8

// MaskSecret masks a shared secret showing only the last 4 characters.
// Example: "s3cr3t-abcd" -> "*******abcd"
func MaskSecret(secret string) string {
	return maskString(secret, 4)
}

// MaskPhoneNumber masks a phone number showing only the last 4 digits.
// Example: "+1234567890" -> "+******7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}
	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		return "+" + maskString(phone[1:], 4)
	}
	return maskString(phone, 4)
}

// MaskSender masks a sender label. Phone-like values use phone masking;
// short alphanumeric sender ids ("BANK", "Mobile Automation") pass through.
func MaskSender(sender string) string {
	if strings.HasPrefix(sender, "+") || (len(sender) >= 7 && isNumeric(sender)) {
		return MaskPhoneNumber(sender)
	}
	return sender
}

// MessagePreview returns the first PreviewRunes runes of text followed by an
// ellipsis, and the total rune count. Digits in the preview are masked so
// one-time codes do not leak.
func MessagePreview(text string) (string, int) {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return "", 0
	}

	var b strings.Builder
	i := 0
	for _, r := range text {
		if i == PreviewRunes {
			b.WriteString("…")
			break
		}
		if r >= '0' && r <= '9' {
			r = '*'
		}
		b.WriteRune(r)
		i++
	}
	return b.String(), n
}

// maskString masks a string showing only the last keepLast bytes.
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// MaskSensitiveFields applies masking to common log attribute names.
func MaskSensitiveFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}

	masked := make(map[string]any, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "secret", "secret_key", "x-secret-key", "token", "authorization":
			masked[k] = MaskSecret(s)
		case "phone", "phone_number", "from", "to":
			masked[k] = MaskPhoneNumber(s)
		case "sender":
			masked[k] = MaskSender(s)
		case "message_body", "message_body_b64", "text":
			preview, _ := MessagePreview(s)
			masked[k] = preview
		default:
			masked[k] = v
		}
	}
	return masked
}
