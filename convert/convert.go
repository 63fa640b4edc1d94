// Package convert wires the archive reader, the record builder and the CSV
// emitter into one pipeline.
package convert

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/dhcgn/mbox-to-csv/csvout"
	"github.com/dhcgn/mbox-to-csv/dedupe"
	"github.com/dhcgn/mbox-to-csv/filter"
	"github.com/dhcgn/mbox-to-csv/mailparse"
	"github.com/dhcgn/mbox-to-csv/mbox"
	"github.com/dhcgn/mbox-to-csv/model"
	"github.com/dhcgn/mbox-to-csv/runner"
	"github.com/dhcgn/mbox-to-csv/stats"
)

type Options struct {
	// Workers bounds the number of messages parsed concurrently. Zero means
	// one worker per CPU.
	Workers int
	Mbox    mbox.Options
	Record  mailparse.Options
	CSV     csvout.Options
	Logger  *slog.Logger
	// Observers are attached to the stats stream before the run starts.
	Observers []func(stats.EventStream)
}

type Summary struct {
	// Messages is the number of messages found in the archive.
	Messages   int
	Rows       int
	Skipped    int
	Filtered   int
	Duplicates int
}

func (s Summary) LogAttrs() []any {
	return []any{
		"messages", s.Messages,
		"rows", s.Rows,
		"skipped", s.Skipped,
		"filtered", s.Filtered,
		"duplicates", s.Duplicates,
	}
}

// SkipError describes a message that could not be converted and was left
// out of the output.
type SkipError struct {
	Index int
	Err   error
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("message %d skipped: %v", e.Index, e.Err)
}

func (e *SkipError) Unwrap() error {
	return e.Err
}

// ConvertMboxToCsv reads an mbox archive from in and writes one CSV row per
// message to out, in archive order. Messages whose structure cannot be read
// are skipped and counted. An error is returned only when the input cannot
// be read, the output cannot be written or ctx is cancelled; the summary then
// reflects the rows written so far.
func ConvertMboxToCsv(ctx context.Context, in io.Reader, out io.Writer, opts Options) (Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	input, err := OpenInput(in)
	if err != nil {
		return Summary{}, err
	}
	defer input.Close()

	run := runner.New(ctx, logger)

	envelopes := make(chan model.Envelope, workers*2)
	outcomes := make(chan model.Outcome, workers*2)

	producer, err := mbox.NewProducer(input, opts.Mbox, run, envelopes)
	if err != nil {
		return Summary{}, fmt.Errorf("mbox.NewProducer: %w", err)
	}

	p := &parser{pipeline: run, in: envelopes, out: outcomes, workers: workers, opts: opts.Record}
	run.AddStage(string(stats.StageParse), p.run)

	s := &sink{
		pipeline: run,
		in:       outcomes,
		emitter:  csvout.NewEmitter(out, opts.CSV),
		history:  opts.Mbox.History,
	}
	run.AddStage(string(stats.StageCSV), s.run)

	collector := stats.NewCollector()
	run.SubscribeStats("convert-summary", func(ctx context.Context, events <-chan stats.Event) error {
		collector.Run(ctx, events)
		return nil
	})
	for _, observe := range opts.Observers {
		observe(run)
	}

	err = run.Start()

	counts := collector.Snapshot()
	summary := Summary{
		Messages:   counts.Scanned,
		Rows:       s.emitter.Rows(),
		Skipped:    s.skipped,
		Filtered:   counts.Filtered,
		Duplicates: counts.Duplicates,
	}
	if opts.Mbox.Filter.Active() {
		logFilterHits(logger, producer.FilterHits())
	}
	return summary, err
}

func logFilterHits(logger *slog.Logger, hits []filter.Hit) {
	for _, h := range hits {
		logger.Debug("filter hits", "list", h.List, "pattern", h.Pattern, "hits", h.Count)
	}
}

type parser struct {
	pipeline *runner.Runner
	in       <-chan model.Envelope
	out      chan<- model.Outcome
	workers  int
	opts     mailparse.Options
}

// run parses envelopes on a bounded pool. Cancellation is only observed
// between messages.
func (p *parser) run(ctx context.Context) error {
	defer close(p.out)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for env := range p.in {
		if gctx.Err() != nil {
			break
		}
		env := env
		g.Go(func() error {
			outcome := parseEnvelope(env, p.opts)
			select {
			case <-gctx.Done():
				return gctx.Err()
			case p.out <- outcome:
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func parseEnvelope(env model.Envelope, opts mailparse.Options) (outcome model.Outcome) {
	msg := env.Message
	outcome = model.Outcome{Seq: msg.Seq, Index: msg.Index, Hash: msg.Hash}
	if env.Err != nil {
		outcome.Err = env.Err
		return outcome
	}

	defer func() {
		if r := recover(); r != nil {
			outcome.Record = model.Record{}
			outcome.Err = fmt.Errorf("%w: panic: %v", mailparse.ErrMalformedMessage, r)
		}
	}()

	outcome.Record, outcome.Err = mailparse.BuildRecord(msg.Raw, opts)
	return outcome
}

// sink is the only writer of the output. It reorders outcomes by sequence
// number so rows follow archive order.
type sink struct {
	pipeline *runner.Runner
	in       <-chan model.Outcome
	emitter  *csvout.Emitter
	history  dedupe.Tracker
	skipped  int
}

func (s *sink) run(ctx context.Context) error {
	if err := s.emitter.WriteHeader(); err != nil {
		return err
	}

	pending := make(map[int]model.Outcome)
	next := 0
	for {
		select {
		case <-ctx.Done():
			if err := s.emitter.Close(); err != nil {
				return err
			}
			return ctx.Err()
		case outcome, ok := <-s.in:
			if !ok {
				if len(pending) > 0 {
					return fmt.Errorf("%d outcomes missing before sequence %d", len(pending), next)
				}
				return s.emitter.Close()
			}

			pending[outcome.Seq] = outcome
			for {
				o, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				if err := s.handle(o); err != nil {
					return err
				}
			}
		}
	}
}

func (s *sink) handle(o model.Outcome) error {
	if o.Err != nil {
		s.skipped++
		skipErr := &SkipError{Index: o.Index, Err: o.Err}
		s.pipeline.Logger().Warn("message skipped", "index", o.Index, "err", o.Err)
		s.pipeline.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeSkipped, Index: o.Index, Err: skipErr})
		return nil
	}

	if err := s.emitter.Write(o.Record); err != nil {
		s.pipeline.EmitEvent(stats.Event{Stage: stats.StageCSV, Type: stats.EventTypeError, Index: o.Index, Err: err})
		return err
	}
	s.pipeline.EmitEvent(stats.Event{Stage: stats.StageCSV, Type: stats.EventTypeWritten, Index: o.Index})

	if s.history != nil {
		if err := s.history.MarkProcessed(o.Hash, o.Index); err != nil {
			return fmt.Errorf("mark message %d exported: %w", o.Index, err)
		}
	}
	return nil
}
