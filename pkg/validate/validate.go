package validate

import (
	"fmt"
	"regexp"
)

var (
	// Slug matches wiki slugs: lowercase alphanumerics and dashes, 3-64 chars.
	Slug = regexp.MustCompile(`^[0-9a-z-]{3,64}$`)

	// Group matches wiki group names.
	Group = regexp.MustCompile(`^[0-9a-zA-Z-\*\. ]{1,64}$`)

	// Perm matches wiki permission names.
	Perm = regexp.MustCompile(`^[0-9a-zA-Z-\*\. ]{1,64}$`)

	// Dir matches template subdirectory names (extensions, skins).
	Dir = regexp.MustCompile(`^[0-9a-zA-Z-_]{1,64}$`)
)

// reservedSlugs can never be claimed by a wiki; they collide with
// infrastructure hostnames on the shared fleet.
var reservedSlugs = map[string]struct{}{
	"portainer": {},
	"main":      {},
	"pubwiki":   {},
	"mcp":       {},
	"chat":      {},
}

// ParamError reports a parameter that failed whitelist validation.
type ParamError struct {
	Value string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("parameter %s is invalid", e.Value)
}

// Check validates s against re and returns a ParamError carrying the
// offending value on mismatch.
func Check(s string, re *regexp.Regexp) error {
	if re.MatchString(s) {
		return nil
	}
	return &ParamError{Value: s}
}

// Reserved reports whether slug belongs to the reserved set.
func Reserved(slug string) bool {
	_, ok := reservedSlugs[slug]
	return ok
}

// Ident validates a string for use as a SQL identifier interpolated into
// schema or table positions. Only a conservative subset is accepted; callers
// wrap the result in backticks. There is no escaping, only rejection.
func Ident(s string) error {
	if len(s) == 0 || len(s) > 64 {
		return &ParamError{Value: s}
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return &ParamError{Value: s}
		}
	}
	return nil
}
