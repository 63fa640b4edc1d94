// Package filter selects messages with regular expressions run against the
// raw header block or the raw body.
package filter

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
)

var ErrModeConflict = errors.New("include and exclude filters are mutually exclusive")

type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Active reports whether any pattern is configured.
func (o Options) Active() bool {
	return len(o.IncludeHeader)+len(o.IncludeBody)+len(o.ExcludeHeader)+len(o.ExcludeBody) > 0
}

// List names the pattern list a rule came from, spelled like its flag.
type List string

const (
	IncludeHeader List = "include-header"
	IncludeBody   List = "include-body"
	ExcludeHeader List = "exclude-header"
	ExcludeBody   List = "exclude-body"
)

type rule struct {
	list List
	re   *regexp.Regexp
	hits atomic.Int64
}

// Filter is safe for concurrent use.
type Filter struct {
	include bool
	rules   []*rule
	header  []*rule
	body    []*rule
}

// Hit is the match count of one pattern.
type Hit struct {
	List    List
	Pattern string
	Count   int
}

// New compiles opts. Blank patterns are ignored.
func New(opts Options) (*Filter, error) {
	lists := []struct {
		list     List
		patterns []string
	}{
		{IncludeHeader, opts.IncludeHeader},
		{IncludeBody, opts.IncludeBody},
		{ExcludeHeader, opts.ExcludeHeader},
		{ExcludeBody, opts.ExcludeBody},
	}

	f := &Filter{}
	var include, exclude bool
	for _, l := range lists {
		for _, pattern := range l.patterns {
			pattern = strings.TrimSpace(pattern)
			if pattern == "" {
				continue
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("compile %s pattern %q: %w", l.list, pattern, err)
			}

			r := &rule{list: l.list, re: re}
			f.rules = append(f.rules, r)
			switch l.list {
			case IncludeHeader, ExcludeHeader:
				f.header = append(f.header, r)
			default:
				f.body = append(f.body, r)
			}
			if l.list == IncludeHeader || l.list == IncludeBody {
				include = true
			} else {
				exclude = true
			}
		}
	}
	if include && exclude {
		return nil, ErrModeConflict
	}
	f.include = include
	return f, nil
}

// Allows reports whether a message with the given header block and body
// passes. In include mode any match admits the message; in exclude mode any
// match rejects it. A nil or empty Filter admits everything.
func (f *Filter) Allows(header, body []byte) bool {
	if f == nil || len(f.rules) == 0 {
		return true
	}
	// Both sides are always evaluated so every pattern's counter is accurate.
	headerMatch := matchAll(f.header, header)
	bodyMatch := matchAll(f.body, body)
	if f.include {
		return headerMatch || bodyMatch
	}
	return !headerMatch && !bodyMatch
}

// AllowsRaw splits raw at the first blank line and applies Allows.
func (f *Filter) AllowsRaw(raw []byte) bool {
	if f == nil || len(f.rules) == 0 {
		return true
	}
	header, body := SplitRawMessage(raw)
	return f.Allows(header, body)
}

// Hits returns the counters in configuration order.
func (f *Filter) Hits() []Hit {
	if f == nil {
		return nil
	}
	hits := make([]Hit, 0, len(f.rules))
	for _, r := range f.rules {
		hits = append(hits, Hit{List: r.list, Pattern: r.re.String(), Count: int(r.hits.Load())})
	}
	return hits
}

// SplitRawMessage returns the header block and body of raw. A message
// without a blank line is all header.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n")} {
		if i := bytes.Index(raw, sep); i >= 0 {
			return raw[:i], raw[i+len(sep):]
		}
	}
	return raw, nil
}

func matchAll(rules []*rule, text []byte) bool {
	matched := false
	for _, r := range rules {
		if r.re.Match(text) {
			r.hits.Add(1)
			matched = true
		}
	}
	return matched
}
