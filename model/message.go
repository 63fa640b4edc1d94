package model

// CSVHeader is the fixed first row of every conversion.
var CSVHeader = []string{"From", "To", "Cc", "Subject", "Date", "Body"}

// Message represents a single raw email message extracted from an mbox archive.
type Message struct {
	// Index is the 0-based position of the message in the archive.
	Index int
	// Seq is the position among messages forwarded past filters and dedupe.
	Seq  int
	Hash string
	Size int64
	Raw  []byte
}

// Envelope wraps a message alongside an optional error encountered while decoding.
type Envelope struct {
	Message Message
	Err     error
}

// Record is the normalized form of one message and becomes exactly one CSV row.
type Record struct {
	From    string
	To      string
	Cc      string
	Subject string
	Date    string
	Body    string
}

// Fields returns the record columns in CSVHeader order.
func (r Record) Fields() []string {
	return []string{r.From, r.To, r.Cc, r.Subject, r.Date, r.Body}
}

// Outcome is the result of parsing one forwarded message. Exactly one of
// Record and Err is meaningful.
type Outcome struct {
	Seq    int
	Index  int
	Hash   string
	Record Record
	Err    error
}
