package control

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// InvalidURLError rejects input that cannot become a well-formed absolute
// URL. Never triggers recovery.
type InvalidURLError struct {
	Raw string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid url: %q", e.Raw)
}

var schemePattern = regexp.MustCompile(`(?i)^https?://`)

// NormalizeURL resolves user input into an absolute URL, prefixing https://
// when no scheme is present. "example.com" and "https://example.com" resolve
// identically.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &InvalidURLError{Raw: raw}
	}

	candidate := trimmed
	if !schemePattern.MatchString(trimmed) {
		candidate = "https://" + trimmed
	}

	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" {
		return "", &InvalidURLError{Raw: raw}
	}
	return u.String(), nil
}
