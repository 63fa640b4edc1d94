package mailparse

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// htmlPolicy drops scripts, styles and unsafe markup but keeps block structure.
var htmlPolicy = bluemonday.UGCPolicy()

var blockElements = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "table": true, "ul": true, "ol": true,
}

// ExtractBody returns the trimmed plain-text body of the tree rooted at root.
// A single-part message yields its own payload. For containers the first
// text/plain leaf in document order wins; parts marked as attachments are
// skipped together with everything below them. Without a text/plain leaf the
// body is empty unless htmlFallback is set, in which case the first HTML
// leaf is stripped to text.
func ExtractBody(root *Part, htmlFallback bool) string {
	if root == nil {
		return ""
	}
	if root.Kind == KindLeaf {
		return strings.TrimSpace(root.Text())
	}

	if p := firstLeaf(root, "text/plain"); p != nil {
		return strings.TrimSpace(p.Text())
	}
	if htmlFallback {
		if p := firstLeaf(root, "text/html"); p != nil {
			return strings.TrimSpace(htmlToText(p.Text()))
		}
	}
	return ""
}

func firstLeaf(root *Part, mediaType string) *Part {
	var found *Part
	root.Walk(func(p *Part) bool {
		if found != nil || p.IsAttachment() {
			return false
		}
		if p.Kind == KindLeaf && p.ContentType == mediaType {
			found = p
			return false
		}
		return true
	})
	return found
}

// htmlToText renders sanitized HTML as text with one line per block element.
func htmlToText(s string) string {
	z := html.NewTokenizer(strings.NewReader(htmlPolicy.Sanitize(s)))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapseLines(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockElements[string(name)] {
				b.WriteByte('\n')
			}
		}
	}
}

func collapseLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			lines = append(lines, strings.Join(fields, " "))
		}
	}
	return strings.Join(lines, "\n")
}
