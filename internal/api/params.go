package api

import (
	"net/url"
	"slices"
	"strings"
)

// paramSpec names the protocol parameters of one operation.
type paramSpec struct {
	text         string // singular: query or update
	defaultGraph string
	namedGraph   string
	union        string
}

var (
	queryParams = paramSpec{
		text:         "query",
		defaultGraph: "default-graph-uri",
		namedGraph:   "named-graph-uri",
		union:        "union-default-graph",
	}
	updateParams = paramSpec{
		text:         "update",
		defaultGraph: "using-graph-uri",
		namedGraph:   "using-named-graph-uri",
		union:        "using-union-graph",
	}
)

// protocolParams are the resolved parameters of a query or update request.
type protocolParams struct {
	Text          string
	DefaultGraphs []string
	NamedGraphs   []string
	Union         bool
}

func (p *protocolParams) hasGraphs() bool {
	return len(p.DefaultGraphs) > 0 || len(p.NamedGraphs) > 0
}

// resolveParams decodes sources as form data in order and collects the
// parameters listed in names. A non-nil direct is the operation text sent as
// the request body; it counts as the first occurrence of the singular key.
func resolveParams(names paramSpec, sources []string, direct *string) (*protocolParams, error) {
	p := &protocolParams{}
	seen := false
	if direct != nil {
		p.Text = *direct
		seen = true
	}

	for _, src := range sources {
		for _, kv := range decodeForm(src) {
			switch kv.key {
			case names.text:
				if seen {
					return nil, badRequest("Multiple %s parameters provided", names.text)
				}
				p.Text = kv.value
				seen = true
			case names.defaultGraph:
				if !slices.Contains(p.DefaultGraphs, kv.value) {
					p.DefaultGraphs = append(p.DefaultGraphs, kv.value)
				}
			case names.namedGraph:
				if !slices.Contains(p.NamedGraphs, kv.value) {
					p.NamedGraphs = append(p.NamedGraphs, kv.value)
				}
			case names.union:
				p.Union = true
			}
		}
	}

	if !seen {
		return nil, badRequest("You should set the '%s' parameter", names.text)
	}
	if p.Union && p.hasGraphs() {
		return nil, badRequest("%s or %s and %s should not be set at the same time",
			names.defaultGraph, names.namedGraph, names.union)
	}
	for _, g := range slices.Concat(p.DefaultGraphs, p.NamedGraphs) {
		if !isAbsoluteIRI(g) {
			return nil, badRequest("Invalid graph IRI: '%s'", g)
		}
	}
	return p, nil
}

func isAbsoluteIRI(s string) bool {
	if s == "" || strings.ContainsAny(s, " <>\"{}|\\^`") {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.IsAbs()
}

type formPair struct {
	key, value string
}

// decodeForm splits application/x-www-form-urlencoded data into pairs,
// keeping their order. Malformed percent escapes are kept as written.
func decodeForm(s string) []formPair {
	var pairs []formPair
	for _, part := range strings.Split(s, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		pairs = append(pairs, formPair{key: unescapeLenient(k), value: unescapeLenient(v)})
	}
	return pairs
}

func unescapeLenient(s string) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c <= '9':
		return c - '0'
	case c <= 'F':
		return c - 'A' + 10
	default:
		return c - 'a' + 10
	}
}
