package client

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseListing accepts either a bare numeric item number or a listing URL
// (e.g. "https://www.ebay.com/itm/123456789012") and returns the item number.
func ParseListing(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty listing")
	}
	if isDigits(s) {
		return s, nil
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("listing %q is neither an item number nor a URL", s)
	}
	// /itm/<title>/<number> and /itm/<number> both occur in the wild.
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if isDigits(parts[i]) && len(parts[i]) >= 9 {
			return parts[i], nil
		}
	}
	// Older listing URLs carry the number in the "item" query parameter.
	if v := u.Query().Get("item"); isDigits(v) {
		return v, nil
	}
	return "", fmt.Errorf("no item number found in URL %q", s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
