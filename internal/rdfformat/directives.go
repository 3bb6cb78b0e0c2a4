package rdfformat

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

// directiveSplitter moves @prefix, @base, PREFIX and BASE directives onto
// their own line. The Turtle and TriG readers treat a line starting with a
// directive as nothing but that directive, so statements sharing the line
// would otherwise be dropped.
type directiveSplitter struct {
	src  *bufio.Reader
	out  bytes.Buffer
	long string // closing delimiter of an open long literal
	err  error
}

func newDirectiveSplitter(r io.Reader) *directiveSplitter {
	return &directiveSplitter{src: bufio.NewReader(r)}
}

func (d *directiveSplitter) Read(p []byte) (int, error) {
	for d.out.Len() == 0 {
		if d.err != nil {
			return 0, d.err
		}
		line, err := d.src.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				d.err = err
			} else {
				d.err = io.EOF
			}
		}
		d.split(line)
	}
	return d.out.Read(p)
}

// split writes line to the output, breaking it after each leading directive.
func (d *directiveSplitter) split(line string) {
	for d.long == "" {
		n := directiveLength(line)
		if n == 0 || strings.TrimSpace(line[n:]) == "" {
			break
		}
		d.out.WriteString(line[:n])
		d.out.WriteByte('\n')
		line = line[n:]
	}
	d.out.WriteString(line)
	d.track(line)
}

// directiveLength returns the length of the directive at the start of line,
// or 0 when line does not start with one.
func directiveLength(line string) int {
	rest := strings.TrimLeft(line, " \t")
	indent := len(line) - len(rest)
	lower := strings.ToLower(rest)

	var dotted bool
	switch {
	case strings.HasPrefix(lower, "@prefix"), strings.HasPrefix(lower, "@base"):
		dotted = true
	case hasKeyword(lower, "prefix"), hasKeyword(lower, "base"):
	default:
		return 0
	}

	open := strings.IndexByte(rest, '<')
	if open < 0 {
		return 0
	}
	end := strings.IndexByte(rest[open:], '>')
	if end < 0 {
		return 0
	}
	n := open + end + 1
	if dotted {
		tail := strings.TrimLeft(rest[n:], " \t")
		if !strings.HasPrefix(tail, ".") {
			return 0
		}
		n = len(rest) - len(tail) + 1
	}
	return indent + n
}

func hasKeyword(s, word string) bool {
	return strings.HasPrefix(s, word) && len(s) > len(word) && (s[len(word)] == ' ' || s[len(word)] == '\t')
}

// track follows long literals across lines so that text inside them is
// never taken for a directive.
func (d *directiveSplitter) track(line string) {
	for i := 0; i < len(line); i++ {
		c := line[i]
		if d.long != "" {
			if c == '\\' {
				i++
			} else if strings.HasPrefix(line[i:], d.long) {
				i += len(d.long) - 1
				d.long = ""
			}
			continue
		}
		switch c {
		case '#':
			return
		case '<':
			if end := strings.IndexByte(line[i:], '>'); end > 0 {
				i += end
			}
		case '"', '\'':
			if delim := strings.Repeat(string(c), 3); strings.HasPrefix(line[i:], delim) {
				d.long = delim
				i += 2
				continue
			}
			for i++; i < len(line) && line[i] != c; i++ {
				if line[i] == '\\' {
					i++
				}
			}
		}
	}
}
