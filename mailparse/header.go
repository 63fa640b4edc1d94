// Package mailparse turns one raw RFC 822 message into a normalized record.
// Every helper degrades instead of failing: undecodable input yields the
// closest readable text rather than an error.
package mailparse

import (
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/goware/emailx"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// charsetReader converts input from label to UTF-8. Unknown labels are read
// as UTF-8.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	r, err := charset.Reader(label, input)
	if err != nil {
		return input, nil
	}
	return r, nil
}

// DecodeHeader resolves RFC 2047 encoded words in a raw header value.
// Text without encoded words is returned unchanged; byte sequences invalid
// in their charset become U+FFFD.
func DecodeHeader(raw string) string {
	if raw == "" {
		return ""
	}

	value := unfold(raw)
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		decoded = value
	}
	return strings.ToValidUTF8(decoded, "\uFFFD")
}

// ExtractAddress returns the address between angle brackets, or header
// unchanged if there is no complete "<...>" pair.
func ExtractAddress(header string) string {
	start := strings.IndexByte(header, '<')
	if start < 0 {
		return header
	}
	end := strings.IndexByte(header[start+1:], '>')
	if end < 0 {
		return header
	}
	return header[start+1 : start+1+end]
}

// BareAddresses reduces an address list header to its normalized addresses
// joined by ", ". Unparsable lists fall back to ExtractAddress per item.
func BareAddresses(raw string) string {
	value := unfold(raw)
	if strings.TrimSpace(value) == "" {
		return ""
	}

	var addrs []string
	if list, err := mail.ParseAddressList(value); err == nil && len(list) > 0 {
		for _, a := range list {
			addrs = append(addrs, emailx.Normalize(a.Address))
		}
	} else {
		for _, item := range strings.Split(DecodeHeader(value), ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			addrs = append(addrs, emailx.Normalize(ExtractAddress(item)))
		}
	}
	return strings.Join(addrs, ", ")
}

func unfold(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r\n", "", "\n", "", "\r", "").Replace(s)
}
