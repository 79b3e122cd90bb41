package crawler

import (
	"net/url"
	"path"
	"strings"
)

// IsValidURL reports whether raw parses with both a scheme and a host.
func IsValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// FixURL repairs two observed defects: a scheme truncated to "http:/" and
// two URLs glued together ("https://a.orghttps://b.org/x.pdf"), in which case
// only the part starting at the last "http" is kept.
func FixURL(raw string) string {
	if !strings.Contains(raw, "http") {
		return raw
	}
	if !strings.Contains(raw, "https://") && strings.Contains(raw, "https:/") {
		raw = strings.ReplaceAll(raw, "https:/", "https://")
	}
	if !strings.Contains(raw, "http://") && strings.Contains(raw, "http:/") {
		raw = strings.ReplaceAll(raw, "http:/", "http://")
	}
	parts := strings.Split(raw, "http")
	if len(parts) <= 2 {
		return raw
	}
	return "http" + parts[len(parts)-1]
}

// AddBaseURLIfMissing turns a relative link into an absolute one using base.
func AddBaseURLIfMissing(base, link string) string {
	if !IsValidURL(link) && !strings.HasPrefix(link, base) {
		link = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(link, "/")
	}
	return FixURL(link)
}

// BaseURL returns the scheme://host part of raw, or "" when raw is invalid.
func BaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// OrganizationDir returns the lowercased, slash-separated download directory
// of an organization relative to the blob store root, e.g. "who/eastern-mediterranean".
func OrganizationDir(acronym, region string) string {
	acronym = strings.ReplaceAll(strings.TrimSpace(acronym), " ", "")
	region = strings.ReplaceAll(strings.TrimSpace(region), " ", "-")
	return strings.ToLower(path.Join(acronym, region))
}
