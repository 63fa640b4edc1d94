package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
)

// outputFile writes to a temporary file next to the destination and renames
// it into place on Commit, so a failed run never leaves a partial CSV.
type outputFile struct {
	file  *os.File
	enc   io.WriteCloser
	w     io.Writer
	final string
}

func createOutput(path string, ageRecipients []string) (*outputFile, error) {
	recipients := make([]age.Recipient, 0, len(ageRecipients))
	for _, s := range ageRecipients {
		recip, err := age.ParseX25519Recipient(s)
		if err != nil {
			return nil, fmt.Errorf("parse age recipient %q: %w", s, err)
		}
		recipients = append(recipients, recip)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.CreateTemp(dir, ".mbox-to-csv-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}

	out := &outputFile{file: file, w: file, final: path}
	if len(recipients) > 0 {
		enc, err := age.Encrypt(file, recipients...)
		if err != nil {
			out.Abort()
			return nil, fmt.Errorf("start age encryption: %w", err)
		}
		out.enc = enc
		out.w = enc
	}
	return out, nil
}

func (o *outputFile) Write(p []byte) (int, error) {
	return o.w.Write(p)
}

// Commit finishes encryption and moves the file to its final path.
func (o *outputFile) Commit() error {
	if o.enc != nil {
		if err := o.enc.Close(); err != nil {
			o.Abort()
			return fmt.Errorf("finish age encryption: %w", err)
		}
	}
	if err := o.file.Close(); err != nil {
		_ = os.Remove(o.file.Name())
		return fmt.Errorf("close output file: %w", err)
	}
	if err := os.Rename(o.file.Name(), o.final); err != nil {
		_ = os.Remove(o.file.Name())
		return fmt.Errorf("move output into place: %w", err)
	}
	return nil
}

// Abort discards the temporary file.
func (o *outputFile) Abort() {
	_ = o.file.Close()
	_ = os.Remove(o.file.Name())
}
