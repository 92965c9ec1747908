package classify

import "strings"

// securityKeywords are matched case-insensitively as substrings. A false
// positive only keeps a thread out of automatic resolution.
var securityKeywords = []string{
	"injection",
	"xss",
	"cross-site",
	"csrf",
	"ssrf",
	"path traversal",
	"directory traversal",
	"authentication",
	"authorization",
	"auth bypass",
	"privilege",
	"secret",
	"password",
	"credential",
	"api key",
	"api_key",
	"access token",
	"private key",
	"hardcoded",
	"hard-coded",
	"unsafe",
	"eval(",
	"exec(",
	"deserializ",
	"pickle",
	"insecure",
	"vulnerab",
	"security",
	"cve-",
	"sanitiz",
}

// IsSecuritySensitive reports whether text mentions a security concern.
func IsSecuritySensitive(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range securityKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
