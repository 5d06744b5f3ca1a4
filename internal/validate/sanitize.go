package validate

import (
	"html"
	"regexp"

	"github.com/microcosm-cc/bluemonday"

	"github.com/canvasgate/canvasgate/internal/apierr"
)

// dangerousPatterns are signatures that reject the whole value.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)vbscript\s*:`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)<\s*(iframe|object|embed)\b`),
	regexp.MustCompile(`(?i)<[^>]*\bon[a-z]+\s*=`),
}

// Policies are safe for concurrent use once built.
var (
	displayPolicy = newDisplayPolicy()
	plainPolicy   = bluemonday.StrictPolicy()
)

func newDisplayPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "em", "strong", "code", "pre", "br", "p", "ul", "ol", "li")
	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	p.RequireNoFollowOnLinks(true)
	return p
}

// CheckDangerous rejects s if it matches any dangerous pattern.
func CheckDangerous(field, s string) error {
	for _, re := range dangerousPatterns {
		if re.MatchString(s) {
			return apierr.Validation(field, "contains disallowed markup")
		}
	}
	return nil
}

// SanitizeDisplay prepares content for rendering: dangerous input is
// rejected, then everything outside the formatting allow-list is removed.
func SanitizeDisplay(field, s string) (string, error) {
	if err := CheckDangerous(field, s); err != nil {
		return "", err
	}
	return displayPolicy.Sanitize(s), nil
}

// SanitizeOutput applies the display allow-list to generated text. Unlike
// SanitizeDisplay it never rejects; disallowed markup is removed.
func SanitizeOutput(s string) string {
	return displayPolicy.Sanitize(s)
}

// SanitizePlain removes every tag, for storage-bound and plain-text values.
// The result is unescaped text, so sanitizing it again is a no-op.
func SanitizePlain(s string) string {
	return html.UnescapeString(plainPolicy.Sanitize(s))
}
