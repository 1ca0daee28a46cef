// Package masker redacts personally identifiable information from text
// before it reaches durable log storage.
package masker

import "regexp"

const (
	EmailPlaceholder = "[EMAIL_MASKED]"
	PhonePlaceholder = "[PHONE_MASKED]"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	// Japanese phone formats: landline (03-xxxx, 06-xxxx), mobile (090-xxxx),
	// toll-free (0120-xxxx), with or without separators. Word boundaries keep
	// long opaque identifiers from matching.
	phonePattern = regexp.MustCompile(`\b0\d{1,4}[-\s]?\d{1,4}[-\s]?\d{3,4}\b`)
)

// Mask replaces email addresses and Japanese-format phone numbers with
// fixed placeholder tokens. Emails are rewritten first so digits inside a
// local part are not half-matched as a phone number.
func Mask(text string) string {
	if text == "" {
		return ""
	}
	masked := emailPattern.ReplaceAllString(text, EmailPlaceholder)
	masked = phonePattern.ReplaceAllString(masked, PhonePlaceholder)
	return masked
}
