package csvout

import (
	"bytes"
	"encoding/csv"
	"reflect"
	"strings"
	"testing"

	"github.com/dhcgn/mbox-to-csv/model"
)

func TestEmitter_QuotingRoundTrip(t *testing.T) {
	records := []model.Record{
		{From: "a@x.com", Subject: `Hello, "World"`, Body: "line one\nline two"},
		{From: "b@x.com", To: "c@x.com", Date: "2024-01-01 10:00:00", Body: "plain"},
	}

	var buf bytes.Buffer
	e := NewEmitter(&buf, Options{})
	if err := e.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader() error = %v", err)
	}
	for _, r := range records {
		if err := e.Write(r); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if e.Rows() != len(records) {
		t.Errorf("Rows() = %d, want %d", e.Rows(), len(records))
	}

	if !strings.Contains(buf.String(), `"Hello, ""World"""`) {
		t.Errorf("subject not quoted as expected:\n%s", buf.String())
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(rows) != len(records)+1 {
		t.Fatalf("got %d rows, want %d", len(rows), len(records)+1)
	}
	if !reflect.DeepEqual(rows[0], model.CSVHeader) {
		t.Errorf("header = %v", rows[0])
	}
	for i, r := range records {
		if !reflect.DeepEqual(rows[i+1], r.Fields()) {
			t.Errorf("row %d = %q, want %q", i+1, rows[i+1], r.Fields())
		}
	}
}

func TestEmitter_EmptyCells(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf, Options{})
	if err := e.Write(model.Record{Subject: "only"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got, want := buf.String(), ",,,only,,\n"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestEmitter_Options(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"defaults", Options{}, "From,To,Cc,Subject,Date,Body\n"},
		{"crlf", Options{CRLF: true}, "From,To,Cc,Subject,Date,Body\r\n"},
		{"bom", Options{BOM: true}, "\xef\xbb\xbfFrom,To,Cc,Subject,Date,Body\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			e := NewEmitter(&buf, tt.opts)
			if err := e.WriteHeader(); err != nil {
				t.Fatalf("WriteHeader() error = %v", err)
			}
			if err := e.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEmitter_MultilineBody(t *testing.T) {
	rec := model.Record{Subject: "s", Body: "line one\nline two"}
	tests := []struct {
		name string
		crlf bool
		want string
	}{
		{"lf", false, ",,,s,,\"line one\nline two\"\n"},
		{"crlf", true, ",,,s,,\"line one\r\nline two\"\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			e := NewEmitter(&buf, Options{CRLF: tt.crlf})
			if err := e.Write(rec); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if err := e.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}
