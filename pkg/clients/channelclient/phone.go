package channelclient

import "strings"

// NormalizePhone reduces a phone number to the digits the channel expects as a recipient handle.
// A leading international "00" prefix is dropped. Returns "" when no digits remain.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(strings.TrimSpace(phone), "00") {
		digits = strings.TrimPrefix(digits, "00")
	}
	return digits
}
