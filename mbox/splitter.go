package mbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"

	mboxlib "github.com/emersion/go-mbox"
)

// ErrInvalidFormat is returned by strict splitters when the archive does not
// start with a delimiter line.
var ErrInvalidFormat = errors.New("invalid mbox format")

// Framing selects how message boundaries are detected.
type Framing string

const (
	// FramingLenient never fails on framing: content before the first
	// delimiter, or an archive without any delimiter, becomes a message.
	FramingLenient Framing = "lenient"
	// FramingStrict requires a leading "From " line.
	FramingStrict Framing = "strict"
)

// Splitter yields the raw messages of an archive in order. Next returns
// io.EOF once the archive is exhausted.
type Splitter interface {
	Next() ([]byte, error)
}

var delimiter = regexp.MustCompile(`^From \S+ .*$`)

// IsDelimiter reports whether line starts a new message. A trailing line
// break is ignored. Escaped lines such as ">From x y" never match.
func IsDelimiter(line []byte) bool {
	if !bytes.HasPrefix(line, []byte("From ")) {
		return false
	}
	line = bytes.TrimRight(line, "\r\n")
	return delimiter.Match(line)
}

// NewSplitter returns a splitter for the given framing mode.
func NewSplitter(r io.Reader, framing Framing) (Splitter, error) {
	switch framing {
	case "", FramingLenient:
		return NewLenientSplitter(r), nil
	case FramingStrict:
		return NewStrictSplitter(r), nil
	default:
		return nil, fmt.Errorf("unknown framing %q", framing)
	}
}

type lenientSplitter struct {
	r *bufio.Reader
	// open is set when a delimiter for the next message was consumed.
	open bool
	err  error
}

// NewLenientSplitter splits r line by line on delimiter lines.
func NewLenientSplitter(r io.Reader) Splitter {
	return &lenientSplitter{r: bufio.NewReaderSize(r, 64*1024)}
}

func (s *lenientSplitter) Next() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}

	var buf []byte
	started := s.open
	s.open = false

	for {
		line, err := s.r.ReadBytes('\n')
		if len(line) > 0 {
			if IsDelimiter(line) {
				if started || hasContent(buf) {
					s.open = true
					return trimSeparator(buf), nil
				}
				// Leading delimiter; a whitespace-only preamble is dropped.
				started = true
				buf = buf[:0]
				continue
			}
			buf = append(buf, line...)
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.err = err
				return nil, err
			}
			s.err = io.EOF
			if started || hasContent(buf) {
				return trimSeparator(buf), nil
			}
			return nil, io.EOF
		}
	}
}

func hasContent(b []byte) bool {
	return len(bytes.TrimSpace(b)) > 0
}

// trimSeparator drops the blank line the format places before the next delimiter.
func trimSeparator(b []byte) []byte {
	switch {
	case bytes.HasSuffix(b, []byte("\r\n\r\n")):
		return b[:len(b)-2]
	case bytes.HasSuffix(b, []byte("\n\n")):
		return b[:len(b)-1]
	}
	return b
}

type strictSplitter struct {
	r *mboxlib.Reader
}

// NewStrictSplitter splits r with github.com/emersion/go-mbox.
func NewStrictSplitter(r io.Reader) Splitter {
	return &strictSplitter{r: mboxlib.NewReader(r)}
}

func (s *strictSplitter) Next() ([]byte, error) {
	msg, err := s.r.NextMessage()
	if err != nil {
		if errors.Is(err, mboxlib.ErrInvalidFormat) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		return nil, err
	}
	raw, err := io.ReadAll(msg)
	if err != nil {
		return nil, err
	}
	// go-mbox ends every line with CRLF; LF keeps message hashes equal to the
	// lenient splitter's for the same archive.
	return trimSeparator(bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))), nil
}
