// Package filename maps stored artifact file names to their logical name and
// content hash.
//
// A stored name has the form <base>-<hex><ext>. The hash is the last
// hyphen-prefixed run of lowercase hex digits that is directly followed by a
// dot; ext is everything from that dot on.
package filename

import (
	"regexp"
	"strings"
)

var hashedRe = regexp.MustCompile(`^(.*)(-[0-9a-f]*)(\..*)$`)

// Parts is a stored file name split around its hash segment.
type Parts struct {
	Base string
	Hash string // includes the leading hyphen
	Ext  string
}

// String rebuilds the stored file name.
func (p Parts) String() string {
	return p.Base + p.Hash + p.Ext
}

// Split breaks name into its parts. ok is false when name carries no hash
// segment.
func Split(name string) (p Parts, ok bool) {
	m := hashedRe.FindStringSubmatch(name)
	if m == nil {
		return Parts{}, false
	}
	return Parts{Base: m[1], Hash: m[2], Ext: m[3]}, true
}

// StripHash removes the hash segment from name, keeping the extension. Names
// without a hash segment are returned unchanged.
func StripHash(name string) string {
	p, ok := Split(name)
	if !ok {
		return name
	}
	return p.Base + p.Ext
}

// ExtractHash returns the hash segment of name including its leading hyphen.
// A bare hyphen before the extension yields "-".
func ExtractHash(name string) (string, bool) {
	p, ok := Split(name)
	if !ok {
		return "", false
	}
	return p.Hash, true
}

// LogicalName returns the display name of a stored file: the hash is
// stripped and so is everything from the first remaining dot.
func LogicalName(name string) string {
	stripped := StripHash(name)
	if i := strings.Index(stripped, "."); i >= 0 {
		return stripped[:i]
	}
	return stripped
}
