package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mbox-to-csv/convert"
	"github.com/dhcgn/mbox-to-csv/stats"
)

// Bar manages a progress bar for tracking message conversion.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	scanned int
	mu      sync.Mutex
	enabled bool
}

// New creates a new progress bar if logLevel is "info".
func New(total int, logLevel string) *Bar {
	bar := &Bar{
		total:   total,
		enabled: logLevel == "info" && total > 0,
	}

	if bar.enabled {
		pterm.Info.Printf("Messages in archive: %d\n", total)
		pterm.Println()

		pb, err := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Converting messages").
			Start()
		if err != nil {
			bar.enabled = false
			return bar
		}
		bar.pb = pb
	}

	return bar
}

// Update advances the bar for every scanned message and prints per-message
// problems above it.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		b.scanned++
		if b.scanned <= b.total {
			b.pb.Increment()
		}
	case stats.EventTypeSkipped:
		var skipErr *convert.SkipError
		if errors.As(evt.Err, &skipErr) {
			pterm.Warning.Printf("Skipped message %d: %v\n", skipErr.Index, skipErr.Err)
		}
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Add(b.total - b.pb.Current)
	}
	_, _ = b.pb.Stop()
}

// Subscriber consumes stats events until the stream closes.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// Attach subscribes the bar to stream. It matches the shape of
// convert.Options.Observers.
func (b *Bar) Attach(stream stats.EventStream) {
	if b.enabled {
		stream.SubscribeStats("progress-bar", b.Subscriber)
	}
}

// PrintSummary renders the final counters of a conversion.
func PrintSummary(summary convert.Summary, output string, duration time.Duration) {
	pterm.Println()
	pterm.DefaultSection.Println("Summary")
	pterm.Info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
	pterm.Info.Printf("Messages: %d\n", summary.Messages)
	pterm.Info.Printf("Rows written: %d\n", summary.Rows)
	pterm.Info.Printf("Filtered: %d\n", summary.Filtered)
	pterm.Info.Printf("Duplicates: %d\n", summary.Duplicates)
	if summary.Skipped > 0 {
		pterm.Warning.Printf("Skipped (malformed): %d\n", summary.Skipped)
	}
	pterm.Success.Printf("CSV written to %s\n", output)
}
