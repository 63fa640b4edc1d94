package convert

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/pgzip"
)

var gzipMagic = []byte{0x1f, 0x8b}

// OpenInput returns a reader over the archive bytes of r. Gzip-compressed
// input is detected by its magic number and decompressed transparently.
// The returned reader must be closed; closing does not close r.
func OpenInput(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	magic, err := br.Peek(len(gzipMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read input: %w", err)
	}

	if !bytes.Equal(magic, gzipMagic) {
		return io.NopCloser(br), nil
	}

	zr, err := pgzip.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("open gzip input: %w", err)
	}
	return zr, nil
}
