// Package pathname validates and normalizes filesystem paths into portable,
// slash-separated collection entry names.
package pathname

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrInvalidPath indicates a path component that cannot appear in a portable
// name.
type ErrInvalidPath struct {
	Component string
	Reason    string
}

func (e ErrInvalidPath) Error() string {
	return fmt.Sprintf("invalid path component %q: %s", e.Component, e.Reason)
}

// ValidateComponent checks that a single name segment is usable as a path
// component. Separators are disallowed inside a component regardless of the
// host platform's native separator.
func ValidateComponent(component string) error {
	switch {
	case component == "":
		return ErrInvalidPath{Component: component, Reason: "empty component"}
	case component == "." || component == "..":
		return ErrInvalidPath{Component: component, Reason: "relative directory marker"}
	case strings.ContainsAny(component, `/\`):
		return ErrInvalidPath{Component: component, Reason: "embedded path separator"}
	case !utf8.ValidString(component):
		return ErrInvalidPath{Component: component, Reason: "not valid UTF-8"}
	}
	return nil
}

// ToPortable converts an already canonicalized path into a portable
// /-separated name.
//
// If mustBeRelative is true, a root marker fails with ErrInvalidPath.
// Otherwise it contributes a single leading separator to the output. Any
// component containing a separator, or a `.` or `..` marker, fails.
func ToPortable(path string, mustBeRelative bool) (string, error) {
	if path == "" {
		return "", ErrInvalidPath{Component: path, Reason: "empty path"}
	}
	var b strings.Builder
	p := filepath.ToSlash(path)
	if strings.HasPrefix(p, "/") {
		if mustBeRelative {
			return "", ErrInvalidPath{Component: "/", Reason: "root marker in relative path"}
		}
		b.WriteByte('/')
		p = strings.TrimLeft(p, "/")
	}
	parts := strings.Split(p, "/")
	components := make([]string, 0, len(parts))
	for _, part := range parts {
		// Doubled or trailing separators produce empty segments, which carry
		// no name information.
		if part == "" {
			continue
		}
		if err := ValidateComponent(part); err != nil {
			return "", err
		}
		components = append(components, part)
	}
	b.WriteString(strings.Join(components, "/"))
	return b.String(), nil
}
