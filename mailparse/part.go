package mailparse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
)

// MaxNesting bounds how deep container parts may nest.
const MaxNesting = 32

var ErrNestingTooDeep = errors.New("mime parts nested too deeply")

type Kind int

const (
	KindLeaf Kind = iota
	KindContainer
)

func (k Kind) String() string {
	if k == KindContainer {
		return "container"
	}
	return "leaf"
}

// Part is one node of a message's MIME tree. Leaves hold the still
// transfer-encoded Payload; containers hold Children in document order.
type Part struct {
	Kind        Kind
	ContentType string
	Disposition string
	Charset     string
	Header      message.Header
	Payload     []byte
	Children    []*Part
}

// IsAttachment reports whether the Content-Disposition mentions "attachment".
func (p *Part) IsAttachment() bool {
	return strings.Contains(strings.ToLower(p.Disposition), "attachment")
}

// Text decodes the payload using the part's transfer encoding and charset.
// Unknown encodings or charsets leave the bytes as they are, a truncated
// payload keeps what could be decoded, and invalid UTF-8 is dropped.
func (p *Part) Text() string {
	if p.Kind != KindLeaf || len(p.Payload) == 0 {
		return ""
	}

	var body io.Reader = bytes.NewReader(p.Payload)
	if entity, err := message.New(p.Header, body); entity != nil {
		body = entity.Body
	} else if err != nil {
		return strings.ToValidUTF8(string(p.Payload), "")
	}

	decoded, _ := io.ReadAll(body)
	return strings.ToValidUTF8(string(decoded), "")
}

// ParseTree parses raw into a MIME tree. It fails only on structural
// problems: a malformed header block or parts nested beyond MaxNesting.
func ParseTree(raw []byte) (*Part, error) {
	return readPart(bufio.NewReader(bytes.NewReader(raw)), 0)
}

func readPart(r *bufio.Reader, depth int) (*Part, error) {
	h, err := textproto.ReadHeader(r)
	if err != nil && !isEOF(err) {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return buildPart(h, r, depth)
}

func buildPart(h textproto.Header, body io.Reader, depth int) (*Part, error) {
	if depth > MaxNesting {
		return nil, ErrNestingTooDeep
	}

	header := message.Header{Header: h}
	mediaType, params := contentType(header)
	part := &Part{
		ContentType: mediaType,
		Disposition: header.Get("Content-Disposition"),
		Charset:     params["charset"],
		Header:      header,
	}

	switch {
	case strings.HasPrefix(mediaType, "multipart/") && params["boundary"] != "":
		part.Kind = KindContainer
		mr := textproto.NewMultipartReader(body, params["boundary"])
		for {
			p, err := mr.NextPart()
			if isEOF(err) || truncated(err) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("%s part %d: %w", mediaType, len(part.Children), err)
			}
			child, err := buildPart(p.Header, p, depth+1)
			if err != nil {
				return nil, err
			}
			part.Children = append(part.Children, child)
		}
	case mediaType == "message/rfc822":
		part.Kind = KindContainer
		child, err := readPart(bufio.NewReader(body), depth+1)
		if err != nil {
			return nil, fmt.Errorf("embedded message: %w", err)
		}
		part.Children = append(part.Children, child)
	default:
		part.Kind = KindLeaf
		payload, err := io.ReadAll(body)
		if err != nil && !isEOF(err) {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		part.Payload = payload
	}

	return part, nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// truncated reports whether a multipart reader ran out of input before the
// closing boundary. go-message formats that error with %v, so only its text
// is left to match.
func truncated(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.HasPrefix(msg, "multipart: NextPart: ") &&
		(strings.HasSuffix(msg, io.EOF.Error()) || strings.HasSuffix(msg, io.ErrUnexpectedEOF.Error()))
}

// contentType defaults to text/plain when the header is missing or unparsable.
func contentType(h message.Header) (string, map[string]string) {
	raw := h.Get("Content-Type")
	if strings.TrimSpace(raw) == "" {
		return "text/plain", map[string]string{}
	}

	mediaType, params, err := mime.ParseMediaType(raw)
	if err != nil && !errors.Is(err, mime.ErrInvalidMediaParameter) {
		return "text/plain", map[string]string{}
	}
	if params == nil {
		params = map[string]string{}
	}
	return mediaType, params
}

// Walk visits p and its descendants depth-first in document order. Returning
// false from fn skips the children of the visited part.
func (p *Part) Walk(fn func(*Part) bool) {
	if !fn(p) {
		return
	}
	for _, child := range p.Children {
		child.Walk(fn)
	}
}
