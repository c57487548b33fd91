// Package match compares discovered face embeddings against the contributor
// registry and applies per-tier gating to the resulting matches.
package match

import (
	"net/url"
	"strings"
)

// PlatformRef is the deterministic mapping of a page URL to a platform,
// handle and domain, used for allowlist checks.
type PlatformRef struct {
	Platform string // empty when the host is not a recognized platform
	Handle   string
	Domain   string
}

// Recognized platform hosts. Subdomains m. and www. are stripped before the
// lookup; anything else yields Platform == "" with the bare host as Domain.
var platformHosts = map[string]string{
	"instagram.com":  "instagram",
	"twitter.com":    "twitter",
	"x.com":          "twitter",
	"tiktok.com":     "tiktok",
	"facebook.com":   "facebook",
	"linkedin.com":   "linkedin",
	"deviantart.com": "deviantart",
	"reddit.com":     "reddit",
	"civitai.com":    "civitai",
	"youtube.com":    "youtube",
}

// ParsePageURL maps a URL to (platform, handle, domain). Handles are
// lowercased; TikTok's leading @ is removed. Unknown hosts yield an empty
// platform with the host as domain.
func ParsePageURL(raw string) PlatformRef {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return PlatformRef{}
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")

	platform, ok := platformHosts[host]
	if !ok {
		return PlatformRef{Domain: host}
	}

	handle := firstPathSegment(u.Path)
	switch platform {
	case "tiktok":
		handle = strings.TrimPrefix(handle, "@")
	case "reddit":
		// reddit.com/user/<name> and reddit.com/u/<name>
		segs := pathSegments(u.Path)
		if len(segs) >= 2 && (segs[0] == "user" || segs[0] == "u") {
			handle = segs[1]
		}
	case "linkedin":
		segs := pathSegments(u.Path)
		if len(segs) >= 2 && segs[0] == "in" {
			handle = segs[1]
		}
	case "youtube":
		handle = strings.TrimPrefix(handle, "@")
	}

	return PlatformRef{
		Platform: platform,
		Handle:   strings.ToLower(handle),
		Domain:   host,
	}
}

func firstPathSegment(path string) string {
	segs := pathSegments(path)
	if len(segs) == 0 {
		return ""
	}
	return segs[0]
}

func pathSegments(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
