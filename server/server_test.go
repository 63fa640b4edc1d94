package server

import (
	"bytes"
	"encoding/csv"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dhcgn/mbox-to-csv/convert"
	"github.com/dhcgn/mbox-to-csv/mbox"
)

const archive = `From a@x.com Mon Jan  1 10:00:00 2024
From: a@x.com
Subject: =?utf-8?q?Hi=21?=
Date: Mon, 1 Jan 2024 10:00:00 +0000

hello

From b@x.com Mon Jan  1 11:00:00 2024
Subject: broken
Content-Type: multipart/mixed; boundary="b"

--b
this line is not a header

x
--b--
`

func newTestServer(opts convert.Options) *httptest.Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return httptest.NewServer(New(opts, logger).Handler())
}

func upload(t *testing.T, url, field, filename, content string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(fw, content); err != nil {
			t.Fatal(err)
		}
	} else if err := mw.WriteField("note", "no file"); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(url+"/convert", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /convert: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestConvert(t *testing.T) {
	srv := newTestServer(convert.Options{Workers: 2})
	defer srv.Close()

	resp := upload(t, srv.URL, FormField, "Inbox.MBOX", archive)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, b)
	}
	if got := resp.Header.Get("Content-Disposition"); got != `attachment; filename=Inbox.csv` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if got := resp.Header.Get("X-Skipped-Messages"); got != "1" {
		t.Errorf("X-Skipped-Messages = %q, want 1", got)
	}
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/csv") {
		t.Errorf("Content-Type = %q", got)
	}

	rows, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if want := []string{"a@x.com", "", "", "Hi!", "2024-01-01 10:00:00", "hello"}; strings.Join(rows[1], "|") != strings.Join(want, "|") {
		t.Errorf("row = %q, want %q", rows[1], want)
	}
}

func TestConvert_Rejections(t *testing.T) {
	srv := newTestServer(convert.Options{Mbox: mbox.Options{Framing: mbox.FramingStrict}})
	defer srv.Close()

	tests := []struct {
		name     string
		field    string
		filename string
		content  string
		status   int
		message  string
	}{
		{"missing file part", "", "", "", http.StatusBadRequest, "no file part"},
		{"empty file name", FormField, "", archive, http.StatusBadRequest, "no file"},
		{"wrong extension", FormField, "mail.txt", archive, http.StatusBadRequest, "file type not allowed"},
		{"no extension", FormField, "mbox", archive, http.StatusBadRequest, "file type not allowed"},
		{"not an mbox", FormField, "mail.mbox", "Subject: x\n\nbody\n", http.StatusUnprocessableEntity, "could not convert"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := upload(t, srv.URL, tt.field, tt.filename, tt.content)
			b, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.status, b)
			}
			if !strings.Contains(string(b), tt.message) {
				t.Errorf("body = %q, want it to contain %q", b, tt.message)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(convert.Options{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestUploadName(t *testing.T) {
	tests := map[string]string{
		"inbox.mbox":             "inbox.mbox",
		"../../etc/passwd.mbox":  "passwd.mbox",
		`C:\Users\me\Inbox.mbox`: "Inbox.mbox",
		"":                       "",
		"..":                     "",
	}
	for in, want := range tests {
		if got := uploadName(in); got != want {
			t.Errorf("uploadName(%q) = %q, want %q", in, got, want)
		}
	}
}
