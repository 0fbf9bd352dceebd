package observability

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const defaultStringLimit = 256

// sanitizeString trims unwanted characters and limits string length to avoid log injection.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}

	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		cleaned = append(cleaned, r)
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return string(cleaned)
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return maskAll(email)
	}
	local, host := email[:at], email[at+1:]
	first, _ := utf8.DecodeRuneInString(local)
	return string(first) + "***@" + sanitizeString(host, 128)
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	digits := make([]rune, 0, len(phone))
	for _, r := range phone {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 4 {
		return maskAll(string(digits))
	}
	return strings.Repeat("*", len(digits)-4) + string(digits[len(digits)-4:])
}

// MaskValue masks value when key names a contact or payment handle.
func MaskValue(key, value string) string {
	lower := strings.ToLower(key)
	switch {
	case strings.Contains(lower, "email"):
		return MaskEmail(value)
	case strings.Contains(lower, "phone"):
		return MaskPhone(value)
	case strings.Contains(lower, "token"), strings.Contains(lower, "signature"), strings.Contains(lower, "secret"):
		return maskAll(value)
	}
	return sanitizeString(value, defaultStringLimit)
}

func maskAll(value string) string {
	if value == "" {
		return ""
	}
	return "***"
}
