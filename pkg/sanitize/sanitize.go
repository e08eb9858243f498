// Package sanitize normalizes user-authored chat messages into DNS labels and
// composes the query names sent to the chat backend.
package sanitize

import (
	"net"
	"strings"

	"dnschat/pkg/dnserror"
)

// maxQueryNameLength is the RFC 1035 limit on an encoded name, including the
// length bytes and the terminating zero label.
const maxQueryNameLength = 255

// Sanitize turns one raw label into a policy-compliant DNS label. The rule
// order is fixed: fold, lowercase, replace whitespace, strip invalid
// characters, collapse and trim the replacement character.
func Sanitize(raw string, cfg *Config) (string, error) {
	working := strings.TrimSpace(raw)
	if working == "" {
		return "", dnserror.New(dnserror.QueryFailed, "DNS label cannot be empty")
	}

	working = foldUnicode(working, cfg)
	working = strings.ToLower(working)
	working = cfg.Whitespace.replaceAll(working, cfg.SpaceReplacement)
	working = cfg.InvalidChars.replaceAll(working, "")
	working = cfg.DashCollapse.replaceAll(working, cfg.SpaceReplacement)
	working = cfg.EdgeDashes.replaceAll(working, "")

	if working == "" {
		return "", dnserror.New(dnserror.QueryFailed,
			"DNS label must contain at least one alphanumeric character after sanitization")
	}
	if len(working) > cfg.MaxLabelLength {
		return "", dnserror.Newf(dnserror.QueryFailed,
			"DNS label exceeds %d characters after sanitization", cfg.MaxLabelLength)
	}
	return working, nil
}

func foldUnicode(value string, cfg *Config) string {
	normalized := cfg.form.String(value)
	return cfg.CombiningMarks.replaceAll(normalized, "")
}

// NormalizeQueryName sanitizes every label of a dotted query name and enforces
// the total encoded-name length cap.
func NormalizeQueryName(name string, cfg *Config) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", dnserror.New(dnserror.QueryFailed, "query name cannot be empty")
	}

	labels := strings.Split(trimmed, ".")
	totalLength := 1 // terminating zero label
	var normalized strings.Builder
	for _, label := range labels {
		clean, err := Sanitize(label, cfg)
		if err != nil {
			return "", err
		}
		if normalized.Len() > 0 {
			normalized.WriteByte('.')
		}
		normalized.WriteString(clean)
		totalLength += 1 + len(clean)
		if totalLength > maxQueryNameLength {
			return "", dnserror.New(dnserror.QueryFailed, "DNS query name exceeds 255 bytes")
		}
	}
	return normalized.String(), nil
}

// NormalizeHostInput lowercases a host and strips surrounding whitespace and
// trailing dots. An all-dots input normalizes to the empty string.
func NormalizeHostInput(host string) string {
	trimmed := strings.ToLower(strings.TrimSpace(host))
	return strings.TrimRight(trimmed, ".")
}

// NormalizeServerHost normalizes a server host and enforces the allow-list.
func NormalizeServerHost(host string, cfg *Config) (string, error) {
	normalized := NormalizeHostInput(host)
	if normalized == "" {
		return "", dnserror.New(dnserror.QueryFailed, "DNS domain cannot be empty")
	}
	if len(cfg.AllowedServers) > 0 {
		if _, ok := cfg.AllowedServers[normalized]; !ok {
			return "", dnserror.New(dnserror.QueryFailed, "DNS server not allowed")
		}
	}
	return normalized, nil
}

// Compose joins a sanitized label and a server host or zone into the
// fully-qualified query name. A bare IPv4 resolver address is not a zone, so
// the well-known backend zone is substituted in that case.
func Compose(label, serverOrZone string) (string, error) {
	cleanLabel := strings.TrimRight(strings.TrimSpace(label), ".")
	if cleanLabel == "" {
		return "", dnserror.New(dnserror.QueryFailed, "DNS label cannot be empty")
	}
	zone := NormalizeHostInput(serverOrZone)
	if zone == "" {
		return "", dnserror.New(dnserror.QueryFailed, "DNS zone cannot be empty")
	}
	if ip := net.ParseIP(zone); ip != nil && ip.To4() != nil {
		zone = DefaultZone
	}
	return cleanLabel + "." + zone, nil
}
