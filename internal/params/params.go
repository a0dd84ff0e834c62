// Package params implements the merged, lazily decoded view of query string
// and form body parameters.
package params

import (
	"net/url"
	"strings"

	"github.com/ggoodman/jerrymouse/internal/charset"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/text/encoding"
)

// BodyFunc returns the form body to decode. It is called at most once.
type BodyFunc func() ([]byte, error)

// Parameters decodes on first access. The query string is decoded before the
// body so values for the same key keep arrival order.
type Parameters struct {
	query   string
	body    BodyFunc
	charset string

	parsed *orderedmap.OrderedMap[string, []string]
	err    error
}

// New builds a parameter view. body may be nil when the request carries no
// form body.
func New(query string, body BodyFunc, charsetName string) *Parameters {
	return &Parameters{query: query, body: body, charset: charsetName}
}

// SetCharset changes the charset used for decoding. It has no effect once
// parameters have been decoded.
func (p *Parameters) SetCharset(name string) error {
	if _, err := charset.Lookup(name); err != nil {
		return err
	}
	p.charset = name
	return nil
}

// Err returns the error reported while reading the body, if any.
func (p *Parameters) Err() error {
	p.ensure()
	return p.err
}

func (p *Parameters) Get(name string) string {
	p.ensure()
	vs, ok := p.parsed.Get(name)
	if !ok || len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func (p *Parameters) Values(name string) []string {
	p.ensure()
	vs, ok := p.parsed.Get(name)
	if !ok {
		return nil
	}
	return append([]string(nil), vs...)
}

// Names returns parameter names in first-seen order.
func (p *Parameters) Names() []string {
	p.ensure()
	names := make([]string, 0, p.parsed.Len())
	for pair := p.parsed.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

func (p *Parameters) Map() map[string][]string {
	p.ensure()
	m := make(map[string][]string, p.parsed.Len())
	for pair := p.parsed.Oldest(); pair != nil; pair = pair.Next() {
		m[pair.Key] = append([]string(nil), pair.Value...)
	}
	return m
}

func (p *Parameters) ensure() {
	if p.parsed != nil {
		return
	}
	p.parsed = orderedmap.New[string, []string]()
	enc, err := charset.Lookup(p.charset)
	if err != nil {
		enc = nil
	}
	decodeInto(p.parsed, p.query, enc)
	if p.body != nil {
		b, err := p.body()
		if err != nil {
			p.err = err
			return
		}
		decodeInto(p.parsed, string(b), enc)
	}
}

// decodeInto parses an application/x-www-form-urlencoded string. Pairs with
// malformed escapes are skipped.
func decodeInto(dst *orderedmap.OrderedMap[string, []string], raw string, enc encoding.Encoding) {
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		k, err := url.QueryUnescape(k)
		if err != nil {
			continue
		}
		v, err = url.QueryUnescape(v)
		if err != nil {
			continue
		}
		k = charset.DecodeString(enc, k)
		v = charset.DecodeString(enc, v)
		prev, _ := dst.Get(k)
		dst.Set(k, append(prev, v))
	}
}
