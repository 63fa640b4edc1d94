package mbox

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dhcgn/mbox-to-csv/dedupe"
	"github.com/dhcgn/mbox-to-csv/filter"
	"github.com/dhcgn/mbox-to-csv/model"
	"github.com/dhcgn/mbox-to-csv/runner"
	"github.com/dhcgn/mbox-to-csv/stats"
)

type Options struct {
	Framing Framing
	Filter  filter.Options
	// Dedupe drops messages whose raw bytes were already seen in this run.
	Dedupe bool
	// History drops messages exported by earlier runs.
	History dedupe.Tracker
}

type Reader interface {
	Stream(ctx context.Context, out chan<- model.Envelope) error
}

func NewReader(r io.Reader, opts Options, logger *slog.Logger) (Reader, error) {
	if r == nil {
		return nil, fmt.Errorf("mbox input is nil")
	}

	f, err := filter.New(opts.Filter)
	if err != nil {
		return nil, err
	}

	splitter, err := NewSplitter(r, opts.Framing)
	if err != nil {
		return nil, err
	}

	reader := &streamReader{
		splitter: splitter,
		logger:   logger,
		filter:   f,
		history:  opts.History,
	}
	if opts.Dedupe {
		reader.seen = dedupe.NewMemoryTracker()
	}
	return reader, nil
}

type streamReader struct {
	splitter Splitter
	logger   *slog.Logger
	filter   *filter.Filter
	seen     *dedupe.MemoryTracker
	history  dedupe.Tracker
	emit     func(stats.Event)
}

func (s *streamReader) Stream(ctx context.Context, out chan<- model.Envelope) error {
	seq := 0
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := s.splitter.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return s.emitError(fmt.Errorf("message %d: %w", idx, err))
		}
		s.event(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeScanned, Index: idx})

		if !s.filter.AllowsRaw(raw) {
			s.event(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeFiltered, Index: idx})
			continue
		}

		hash := hashRaw(raw)
		if s.history != nil && s.history.AlreadyProcessed(hash) {
			s.event(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeDuplicate, Index: idx, Detail: "exported earlier"})
			continue
		}
		if s.seen != nil && s.seen.Observe(hash, idx) {
			first, _ := s.seen.FirstIndex(hash)
			s.event(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeDuplicate, Index: idx, Detail: fmt.Sprintf("duplicate of message %d", first)})
			if s.logger != nil {
				s.logger.Debug("duplicate message dropped", "index", idx, "first", first, "hash", hash)
			}
			continue
		}

		msg := model.Message{
			Index: idx,
			Seq:   seq,
			Hash:  hash,
			Size:  int64(len(raw)),
			Raw:   raw,
		}
		if err := s.emitEnvelope(ctx, out, model.Envelope{Message: msg}); err != nil {
			return err
		}
		s.event(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeEnqueued, Index: idx})
		seq++
	}
}

// FilterHits exposes the hit counters of the configured filter.
func (s *streamReader) FilterHits() []filter.Hit {
	return s.filter.Hits()
}

func (s *streamReader) event(evt stats.Event) {
	if s.emit != nil {
		s.emit(evt)
	}
}

// emitError reports a read failure. Framing never fails in lenient mode, so
// anything reaching this point is fatal for the whole archive.
func (s *streamReader) emitError(err error) error {
	if s.logger != nil {
		s.logger.Error("mbox stream error", "err", err)
	}
	s.event(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeError, Err: err})
	return err
}

func (s *streamReader) emitEnvelope(ctx context.Context, out chan<- model.Envelope, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}

func hashRaw(raw []byte) string {
	sum := sha256.Sum256(raw)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Producer feeds the messages of an archive into a runner stage.
type Producer struct {
	reader *streamReader
	runner *runner.Runner
	out    chan model.Envelope
}

func NewProducer(r io.Reader, opts Options, run *runner.Runner, out chan model.Envelope) (*Producer, error) {
	reader, err := NewReader(r, opts, run.Logger())
	if err != nil {
		return nil, err
	}
	sr := reader.(*streamReader)
	sr.emit = run.EmitEvent

	producer := &Producer{reader: sr, runner: run, out: out}
	run.AddStage("mbox", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer close(p.out)
	return p.reader.Stream(ctx, p.out)
}

// FilterHits returns the filter hit counters. Only meaningful after the run.
func (p *Producer) FilterHits() []filter.Hit {
	return p.reader.FilterHits()
}

// Read iterates through the messages of r in archive order, calling fn for
// each raw message. Iteration stops at the first error returned by fn.
func Read(r io.Reader, framing Framing, fn func(index int, raw []byte) error) error {
	splitter, err := NewSplitter(r, framing)
	if err != nil {
		return err
	}

	for idx := 0; ; idx++ {
		raw, err := splitter.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if err := fn(idx, raw); err != nil {
			return err
		}
	}
}

// CountMessages counts the messages in r without parsing them.
func CountMessages(r io.Reader, framing Framing) (int, error) {
	count := 0
	err := Read(r, framing, func(int, []byte) error {
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
