package s3client

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseLocation splits an s3://, s3a:// or s3n:// URL into bucket and key.
// The key has no leading or trailing slash.
func ParseLocation(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("parse location %q: %w", location, err)
	}
	switch u.Scheme {
	case "s3", "s3a", "s3n":
	default:
		return "", "", fmt.Errorf("location %q: scheme %q is not s3", location, u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("location %q: missing bucket", location)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// JoinKey joins key segments with single slashes, skipping empty ones.
func JoinKey(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('/')
		}
		b.WriteString(p)
	}
	return b.String()
}
