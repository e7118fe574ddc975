package clipper

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// NormalizeURL lowercases scheme and host, strips default ports and the
// fragment, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q must be absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// Domain returns the lowercase host of rawURL without a leading "www.".
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

var (
	unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	invisibleChars  = regexp.MustCompile(`[\x{200b}-\x{200f}\x{feff}]`)
	nameSpaces      = regexp.MustCompile(`[\s_]+`)
)

const maxNameRunes = 80

// DocumentName turns a title into a store-safe document name.
func DocumentName(title string) string {
	name := invisibleChars.ReplaceAllString(title, "")
	name = unsafeNameChars.ReplaceAllString(name, " ")
	name = nameSpaces.ReplaceAllString(name, " ")
	name = strings.Trim(name, " ._")
	if utf8.RuneCountInString(name) > maxNameRunes {
		name = strings.TrimSpace(string([]rune(name)[:maxNameRunes]))
	}
	if name == "" {
		return "untitled"
	}
	return name
}

// JoinPath joins a folder path and a document name into a store path with a
// single leading slash.
func JoinPath(folder, name string) string {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	name = strings.Trim(name, "/")
	if folder == "" {
		return "/" + name
	}
	return "/" + folder + "/" + name
}
