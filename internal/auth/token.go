package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minTokenLength = 10

// Token kinds, detected from the credential prefix.
const (
	KindPersonalAccess = "personal_access_token"
	KindOAuth          = "oauth_token"
	KindUserAccess     = "user_access_token"
	KindServerToServer = "server_to_server_token"
	KindRefresh        = "refresh_token"
	KindUnknown        = "unknown"
)

var tokenPrefixes = []struct {
	prefix string
	kind   string
}{
	{"ghp_", KindPersonalAccess},
	{"gho_", KindOAuth},
	{"ghu_", KindUserAccess},
	{"ghs_", KindServerToServer},
	{"ghr_", KindRefresh},
}

// DetectKind classifies a raw credential by its prefix.
func DetectKind(raw string) string {
	for _, p := range tokenPrefixes {
		if strings.HasPrefix(raw, p.prefix) {
			return p.kind
		}
	}
	return KindUnknown
}

// jwtExpiry returns the exp claim of a JWT-shaped credential. The signature is
// not checked: upstream remains the authority on validity.
func jwtExpiry(raw string) (time.Time, bool) {
	if strings.Count(raw, ".") != 2 {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
