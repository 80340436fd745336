package logging

import (
	"net/url"
	"strings"
)

// SanitizeToken masks a credential for logging, keeping the first and last
// four characters of anything longer than eight.
func SanitizeToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "***" + token[len(token)-4:]
}

// SanitizeURL drops query parameters whose name mentions a token.
// Unparseable input is returned unchanged.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.RawQuery == "" {
		return u.String()
	}
	q := u.Query()
	for key := range q {
		if strings.Contains(strings.ToLower(key), "token") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
