// Package charset resolves character encoding names used by requests and
// responses.
package charset

import (
	"fmt"
	"io"
	"strings"

	"github.com/ggoodman/jerrymouse/servlet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// Lookup returns the encoding registered under name. Names are matched
// case-insensitively using the WHATWG label table. UTF-8 resolves to
// encoding.Nop since Go strings already hold UTF-8.
func Lookup(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", servlet.ErrUnsupportedEncoding)
	}
	if IsUTF8(name) {
		return encoding.Nop, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", servlet.ErrUnsupportedEncoding, name)
	}
	return enc, nil
}

// IsUTF8 reports whether name is a label for UTF-8.
func IsUTF8(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "utf-8", "utf8", "unicode-1-1-utf-8":
		return true
	}
	return false
}

// DecodeString converts raw bytes held in s from enc into UTF-8. UTF-8 input
// is returned unchanged.
func DecodeString(enc encoding.Encoding, s string) string {
	if enc == nil || enc == encoding.Nop {
		return s
	}
	out, err := enc.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}

// NewReader wraps r so that reads yield UTF-8 decoded from enc.
func NewReader(enc encoding.Encoding, r io.Reader) io.Reader {
	if enc == nil || enc == encoding.Nop {
		return r
	}
	return transform.NewReader(r, enc.NewDecoder())
}
