// Package stats carries the per-message events of a conversion and folds
// them into counters.
package stats

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageMbox  Stage = "mbox"
	StageParse Stage = "parse"
	StageCSV   Stage = "csv"
)

type EventType string

const (
	EventTypeScanned   EventType = "scanned"
	EventTypeFiltered  EventType = "filtered"
	EventTypeDuplicate EventType = "duplicate"
	EventTypeEnqueued  EventType = "enqueued"
	EventTypeWritten   EventType = "written"
	EventTypeSkipped   EventType = "skipped"
	EventTypeError     EventType = "error"
)

// Event describes what happened to the message at Index in one stage.
type Event struct {
	Stage  Stage
	Type   EventType
	Index  int
	Err    error
	Detail string
}

type Summary struct {
	Scanned    int
	Filtered   int
	Duplicates int
	Enqueued   int
	Written    int
	Skipped    int
	Errors     int
	LastError  error
}

func (s *Summary) add(evt Event) {
	switch evt.Type {
	case EventTypeScanned:
		s.Scanned++
	case EventTypeFiltered:
		s.Filtered++
	case EventTypeDuplicate:
		s.Duplicates++
	case EventTypeEnqueued:
		s.Enqueued++
	case EventTypeWritten:
		s.Written++
	case EventTypeSkipped:
		s.Skipped++
		if evt.Err != nil {
			s.LastError = evt.Err
		}
	case EventTypeError:
		s.Errors++
		if evt.Err != nil {
			s.LastError = evt.Err
		}
	}
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"filtered", s.Filtered,
		"duplicates", s.Duplicates,
		"written", s.Written,
		"skipped", s.Skipped,
	}
	if s.Errors > 0 {
		attrs = append(attrs, "errors", s.Errors)
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Collector folds an event stream into a Summary.
type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

// Run consumes events until the channel closes or ctx is done.
func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.mu.Lock()
			c.summary.add(evt)
			c.mu.Unlock()
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// EventStream is implemented by pipelines that fan out stats events.
type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

// Reporter logs the totals of a stream once it closes.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reporter{collector: NewCollector(), logger: logger, started: time.Now()}
	stream.SubscribeStats("stats-reporter", r.consume)
	return r
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	attrs := append(r.collector.Snapshot().LogAttrs(), "duration", time.Since(r.started))
	if err := ctx.Err(); err != nil {
		r.logger.Debug("stats collection stopped", append(attrs, "err", err)...)
		return err
	}
	r.logger.Info("stats summary", attrs...)
	return nil
}

type Count struct {
	Key   string
	Value int
}

// Counter tallies occurrences of string values.
type Counter map[string]int

// Add counts value once. Empty values are ignored.
func (c Counter) Add(value string) {
	if value != "" {
		c[value]++
	}
}

// Top returns the n most frequent values, highest count first. Ties are
// ordered alphabetically so reports are stable between runs. A negative n
// returns every value.
func (c Counter) Top(n int) []Count {
	counts := make([]Count, 0, len(c))
	for k, v := range c {
		counts = append(counts, Count{Key: k, Value: v})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Value != counts[j].Value {
			return counts[i].Value > counts[j].Value
		}
		return counts[i].Key < counts[j].Key
	})
	if n >= 0 && n < len(counts) {
		counts = counts[:n]
	}
	return counts
}
