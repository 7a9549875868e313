package config

import (
	"net/url"
	"regexp"
	"strings"
)

// secrets maps the config keys holding credentials to the function that
// hides them for display.
var secrets = map[string]func(string) string{
	"llm.api_key":    maskToken,
	"telegram.token": maskToken,
	"database.dsn":   maskDSN,
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	_, ok := secrets[key]
	return ok
}

// Flatten turns nested config maps into dot-separated keys, so
// {"llm": {"model": "x"}} becomes {"llm.model": "x"}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = v
	}
	return out
}

// MaskSecrets returns a copy of flat with credentials hidden. Empty values
// stay empty so an unset secret is still visible as unset.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok && s != "" {
			if mask := secrets[k]; mask != nil {
				v = mask(s)
			}
		}
		out[k] = v
	}
	return out
}

// maskToken keeps the last four characters of long tokens so two keys can
// be told apart. Short tokens are hidden entirely.
func maskToken(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return "***" + s[len(s)-4:]
}

const redacted = "xxxxx"

var dsnPassword = regexp.MustCompile(`(?i)(\bpassword\s*=\s*)('[^']*'|[^\s&]+)`)

// maskDSN hides only the password of a connection string, leaving host and
// database readable. URL DSNs carry it in the userinfo or as a query
// parameter, key/value DSNs as password=...; sqlite paths have none.
func maskDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redacted)
			dsn = u.String()
		}
	}
	return dsnPassword.ReplaceAllString(dsn, "${1}"+redacted)
}
