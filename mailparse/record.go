package mailparse

import (
	"errors"
	"fmt"

	"github.com/dhcgn/mbox-to-csv/model"
)

var ErrMalformedMessage = errors.New("malformed message")

type Options struct {
	// HTMLFallback converts the first HTML part to text when a message has
	// no text/plain part.
	HTMLFallback bool
	// BareAddresses reduces From, To and Cc to normalized addresses.
	BareAddresses bool
}

// BuildRecord parses raw and normalizes it into a record. Header, date and
// body decoding never fail; the returned error always wraps
// ErrMalformedMessage and means the message structure could not be read.
func BuildRecord(raw []byte, opts Options) (model.Record, error) {
	root, err := ParseTree(raw)
	if err != nil {
		return model.Record{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	address := DecodeHeader
	if opts.BareAddresses {
		address = BareAddresses
	}

	h := root.Header
	return model.Record{
		From:    address(h.Get("From")),
		To:      address(h.Get("To")),
		Cc:      address(h.Get("Cc")),
		Subject: DecodeHeader(h.Get("Subject")),
		Date:    NormalizeDate(h.Get("Date")),
		Body:    ExtractBody(root, opts.HTMLFallback),
	}, nil
}
