package mailparse

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// TimestampLayout is the canonical Date column format.
const TimestampLayout = "2006-01-02 15:04:05"

// looseDate is what the loose parser is trusted with: a four digit year and
// a time of day. dateparse fills in anything missing, which would invent
// timestamps for values like "2024".
var looseDate = regexp.MustCompile(`\d{4}.*\b\d{1,2}:\d{2}|\b\d{1,2}:\d{2}.*\d{4}`)

// NormalizeDate formats an RFC 2822 date in its own offset. Dates that only
// a loose parser understands are read as UTC when they carry no zone. Input
// that cannot be parsed is returned verbatim.
func NormalizeDate(raw string) string {
	value := strings.TrimSpace(unfold(raw))
	if value == "" {
		return ""
	}

	if t, err := mail.ParseDate(value); err == nil {
		return t.Format(TimestampLayout)
	}
	if looseDate.MatchString(value) {
		if t, err := dateparse.ParseIn(value, time.UTC); err == nil {
			return t.Format(TimestampLayout)
		}
	}
	return raw
}
