// Package csvout writes normalized records as RFC 4180 CSV.
package csvout

import (
	"encoding/csv"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/dhcgn/mbox-to-csv/model"
)

type Options struct {
	// CRLF terminates rows with \r\n instead of \n. Line breaks inside
	// quoted fields are written as \r\n too, so a multi-line body reads back
	// with CRLF line endings.
	CRLF bool
	// BOM prefixes the output with a UTF-8 byte order mark.
	BOM bool
}

// Emitter writes the header row followed by one row per record. Fields
// containing the delimiter, a quote or a line break are quoted; empty fields
// are written as empty cells.
type Emitter struct {
	csv  *csv.Writer
	bom  io.WriteCloser
	rows int
}

func NewEmitter(w io.Writer, opts Options) *Emitter {
	e := &Emitter{}
	if opts.BOM {
		e.bom = transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
		w = e.bom
	}
	e.csv = csv.NewWriter(w)
	e.csv.UseCRLF = opts.CRLF
	return e
}

func (e *Emitter) WriteHeader() error {
	if err := e.csv.Write(model.CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	return nil
}

func (e *Emitter) Write(rec model.Record) error {
	if err := e.csv.Write(rec.Fields()); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	e.rows++
	return nil
}

// Rows returns the number of records written, excluding the header.
func (e *Emitter) Rows() int {
	return e.rows
}

// Flush pushes buffered rows to the underlying writer.
func (e *Emitter) Flush() error {
	e.csv.Flush()
	return e.csv.Error()
}

// Close flushes all rows. It does not close the underlying writer.
func (e *Emitter) Close() error {
	if err := e.Flush(); err != nil {
		return err
	}
	if e.bom != nil {
		return e.bom.Close()
	}
	return nil
}
