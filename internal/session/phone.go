package session

import (
	"regexp"
	"strings"
)

// E.164: leading '+', no leading zero, 2–15 digits.
var phonePattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidPhone reports whether phone is an international number in E.164 form.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// NormalizePhone keeps only the digits of phone, the form the messaging
// network expects when pairing.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
