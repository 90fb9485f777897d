package normalizer

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// StripPhone keeps only digits, plus a leading "+" when the input had one.
func StripPhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(raw))
	if raw[0] == '+' {
		b.WriteByte('+')
	}
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}

// NormalizePhone strips raw and formats it as E.164 when it parses as a
// valid number for region. Invalid numbers keep their stripped form; nil
// means nothing usable was present.
func NormalizePhone(raw, region string) *string {
	stripped := StripPhone(raw)
	if stripped == "" {
		return nil
	}
	if num, err := phonenumbers.Parse(stripped, region); err == nil && phonenumbers.IsValidNumber(num) {
		e164 := phonenumbers.Format(num, phonenumbers.E164)
		return &e164
	}
	return &stripped
}

// IsValidPhone reports whether phone parses as a valid number for region.
func IsValidPhone(phone, region string) bool {
	if phone == "" {
		return false
	}
	num, err := phonenumbers.Parse(phone, region)
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(num)
}

func digitsOnly(phone string) string {
	return strings.TrimPrefix(phone, "+")
}
