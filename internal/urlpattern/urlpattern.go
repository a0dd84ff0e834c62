// Package urlpattern classifies servlet URL patterns and ranks them for
// request matching.
package urlpattern

import (
	"fmt"
	"strings"

	"github.com/ggoodman/jerrymouse/servlet"
)

type Kind int

const (
	Exact Kind = iota + 1
	Prefix
	Named
	Suffix
	Default
)

func (k Kind) String() string {
	switch k {
	case Exact:
		return "exact"
	case Prefix:
		return "prefix"
	case Named:
		return "named"
	case Suffix:
		return "suffix"
	case Default:
		return "default"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Pattern is a parsed URL pattern. The zero value matches nothing.
type Pattern struct {
	Raw  string
	Kind Kind

	// stem is the literal part compared against the path: the whole path for
	// exact patterns, the directory for prefix patterns and the extension
	// including the dot for suffix patterns.
	stem string
}

// Parse classifies p. Empty and malformed patterns return an error wrapping
// servlet.ErrInvalidArgument.
func Parse(p string) (Pattern, error) {
	switch {
	case p == "":
		return Pattern{}, fmt.Errorf("%w: empty url pattern", servlet.ErrInvalidArgument)
	case p == "/":
		return Pattern{Raw: p, Kind: Default}, nil
	case p == "*":
		return Pattern{Raw: p, Kind: Named}, nil
	case strings.HasPrefix(p, "*."):
		ext := p[1:]
		if len(ext) == 1 || strings.ContainsAny(ext, "*/") {
			return Pattern{}, fmt.Errorf("%w: malformed extension pattern %q", servlet.ErrInvalidArgument, p)
		}
		return Pattern{Raw: p, Kind: Suffix, stem: ext}, nil
	case strings.HasPrefix(p, "/"):
		if strings.HasSuffix(p, "/*") {
			dir := strings.TrimSuffix(p, "/*")
			if strings.Contains(dir, "*") {
				return Pattern{}, fmt.Errorf("%w: wildcard inside path pattern %q", servlet.ErrInvalidArgument, p)
			}
			return Pattern{Raw: p, Kind: Prefix, stem: dir}, nil
		}
		if strings.Contains(p, "*") {
			return Pattern{}, fmt.Errorf("%w: wildcard inside path pattern %q", servlet.ErrInvalidArgument, p)
		}
		return Pattern{Raw: p, Kind: Exact, stem: p}, nil
	}
	return Pattern{}, fmt.Errorf("%w: url pattern %q must start with '/' or '*.'", servlet.ErrInvalidArgument, p)
}

// MustParse is like Parse but panics on error.
func MustParse(p string) Pattern {
	pat, err := Parse(p)
	if err != nil {
		panic(err)
	}
	return pat
}

// Precedence is the rank used to order mapping tables. Lower wins.
func (p Pattern) Precedence() int {
	switch p.Kind {
	case Exact:
		return 1
	case Prefix, Named:
		return 2
	case Suffix:
		return 3
	case Default:
		return 4
	}
	return 5
}

// Matches reports whether path, a request URI without query string, is
// selected by p.
func (p Pattern) Matches(path string) bool {
	switch p.Kind {
	case Exact:
		return path == p.stem
	case Prefix:
		// "/*" has an empty stem and matches everything.
		if p.stem == "" {
			return true
		}
		return path == p.stem || strings.HasPrefix(path, p.stem+"/")
	case Named, Default:
		return true
	case Suffix:
		return strings.HasSuffix(path, p.stem)
	}
	return false
}

func (p Pattern) String() string { return p.Raw }

// Less orders a before b when a has the lower precedence rank, or the same
// rank and a longer pattern. Use it with a stable sort so registration order
// breaks the remaining ties.
func Less(a, b Pattern) bool {
	if pa, pb := a.Precedence(), b.Precedence(); pa != pb {
		return pa < pb
	}
	return len(a.Raw) > len(b.Raw)
}
