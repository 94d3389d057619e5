// Package privacy scrubs credentials and host details out of URLs before
// they reach logs, alerts or telemetry.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// any scheme: shoutrrr alone knows dozens
	urlPattern = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]*://\S+`)

	ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// ScrubMessage replaces every URL in message with an anonymized token.
func ScrubMessage(message string) string {
	return urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
}

// AnonymizeURL converts a URL to a stable hash that keeps scheme, host class,
// port and path shape but drops credentials and names. Equal inputs produce
// equal tokens so repeated failures can still be correlated.
func AnonymizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var parts []string
	if u.Scheme != "" {
		parts = append(parts, u.Scheme)
	}
	if host := u.Hostname(); host != "" {
		parts = append(parts, categorizeHost(host))
	}
	if u.Port() != "" {
		parts = append(parts, "port-"+u.Port())
	}
	if u.Path != "" && u.Path != "/" {
		parts = append(parts, anonymizePath(u.Path))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("url-%x", hash[:12])
}

// SanitizeURL returns a display form of source with credentials, path and
// query removed: "icecast://source:pw@host:8000/live" becomes
// "icecast://host:8000". Strings that do not parse as URLs with a host are
// returned unchanged.
func SanitizeURL(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return source
	}
	return u.Scheme + "://" + u.Host
}

// ServiceName returns the scheme of a shoutrrr style URL, e.g. "ntfy", or
// "unknown" when there is none.
func ServiceName(rawURL string) string {
	scheme, _, ok := strings.Cut(rawURL, "://")
	if !ok || scheme == "" {
		return "unknown"
	}
	return strings.ToLower(scheme)
}

func categorizeHost(host string) string {
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return "localhost"
	}
	if isPrivateIP(host) {
		return "private-ip"
	}
	if isIPAddress(host) {
		return "public-ip"
	}
	// keep only the TLD of domain names
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return "domain-" + parts[len(parts)-1]
	}
	return "unknown-host"
}

func anonymizePath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}

	var out []string
	for segment := range strings.SplitSeq(path, "/") {
		if segment == "" {
			continue
		}
		switch {
		case isCommonMountName(segment):
			out = append(out, "mount")
		case isNumeric(segment):
			out = append(out, "numeric")
		default:
			hash := sha256.Sum256([]byte(segment))
			out = append(out, fmt.Sprintf("seg-%x", hash[:4]))
		}
	}
	return strings.Join(out, "/")
}

func isPrivateIP(host string) bool {
	privateRanges := []string{
		"10.", "172.16.", "172.17.", "172.18.", "172.19.", "172.20.", "172.21.", "172.22.", "172.23.",
		"172.24.", "172.25.", "172.26.", "172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
		"192.168.", "169.254.",
		"fc00:", "fd00:",
		"fe80:",
		"::1",
	}
	host = strings.ToLower(host)
	for _, prefix := range privateRanges {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}
	return false
}

func isIPAddress(host string) bool {
	if ipv4Pattern.MatchString(host) {
		return true
	}
	return strings.Contains(host, ":")
}

// isCommonMountName reports segments that say nothing about the station,
// like "live" or "stream.mp3".
func isCommonMountName(segment string) bool {
	segment = strings.ToLower(segment)
	for _, name := range []string{"live", "stream", "radio", "audio", "studio", "api", "station", "streamer-metadata"} {
		if strings.Contains(segment, name) {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
