// Package naming builds the qualified names the fabric uses as object keys.
package naming

import "strings"

// Separator joins a namespace and an object name. It must not appear in
// object names; collisions are not checked here.
const Separator = "\\"

// Qualify prefixes name with namespace. An empty namespace leaves name as is.
// Path-like characters in name are passed through untouched so the fabric
// can interpret hierarchical names.
func Qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + Separator + name
}

// Unescape rewrites '~' to '/' in a name that travelled as a single URL
// path segment.
func Unescape(name string) string {
	return strings.ReplaceAll(name, "~", "/")
}

// Escape is the inverse of Unescape for building request paths.
func Escape(name string) string {
	return strings.ReplaceAll(name, "/", "~")
}
