// Package dedup computes content fingerprints and detects repeat submissions.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// trackingParams are query keys that never change which posting a URL points at.
var trackingParams = map[string]bool{
	"gh_src":       true,
	"ref":          true,
	"source":       true,
	"src":          true,
	"lever-source": true,
	"trk":          true,
	"fbclid":       true,
	"gclid":        true,
}

// NormalizeText folds line endings, whitespace runs and case so cosmetic edits hash the same.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeURL canonicalises a posting URL.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid url %q: scheme and host are required", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "http" {
		u.Scheme = "https"
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimSuffix(host, ":443")
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	query := u.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") || trackingParams[lk] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		values := query[k]
		sort.Strings(values)
		for _, v := range values {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	u.RawQuery = strings.Join(parts, "&")

	return u.String(), nil
}

// TextFingerprint returns the hex SHA-256 of the normalized text.
func TextFingerprint(s string) string {
	return hash(NormalizeText(s))
}

// URLFingerprint returns the hex SHA-256 of the normalized URL.
func URLFingerprint(raw string) (string, error) {
	normalized, err := NormalizeURL(raw)
	if err != nil {
		return "", err
	}
	return hash(normalized), nil
}

func hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
