// Package resolveurl resolves relative manifest references against a base URI.
package resolveurl

import "net/url"

// Resolve resolves ref against base and returns the absolute URI string.
//
// When base is empty there is no location context to resolve against, so
// ref is returned unchanged. Malformed input never fails: the original
// reference is returned as-is.
func Resolve(base, ref string) string {
	if base == "" {
		return ref
	}

	b, err := url.Parse(base)
	if err != nil {
		return ref
	}

	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}

	return b.ResolveReference(r).String()
}
