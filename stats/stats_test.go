package stats

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestCollector(t *testing.T) {
	events := make(chan Event, 16)
	boom := errors.New("boom")
	for _, evt := range []Event{
		{Type: EventTypeScanned},
		{Type: EventTypeScanned},
		{Type: EventTypeScanned},
		{Type: EventTypeFiltered},
		{Type: EventTypeDuplicate},
		{Type: EventTypeEnqueued},
		{Type: EventTypeWritten},
		{Type: EventTypeSkipped, Err: boom},
	} {
		events <- evt
	}
	close(events)

	c := NewCollector()
	c.Run(context.Background(), events)

	want := Summary{Scanned: 3, Filtered: 1, Duplicates: 1, Enqueued: 1, Written: 1, Skipped: 1, LastError: boom}
	if got := c.Snapshot(); got != want {
		t.Fatalf("Snapshot() = %+v, want %+v", got, want)
	}
}

func TestCounter_Top(t *testing.T) {
	c := Counter{}
	for _, v := range []string{"c", "a", "b", "c", "", "a", "c", "d", "b", "c", "c"} {
		c.Add(v)
	}

	tests := []struct {
		n    int
		want []Count
	}{
		{2, []Count{{"c", 5}, {"a", 2}}},
		{10, []Count{{"c", 5}, {"a", 2}, {"b", 2}, {"d", 1}}},
		{0, []Count{}},
		{-1, []Count{{"c", 5}, {"a", 2}, {"b", 2}, {"d", 1}}},
	}
	for _, tt := range tests {
		if got := c.Top(tt.n); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Top(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestSummary_LastError(t *testing.T) {
	first, second := errors.New("first"), errors.New("second")
	var s Summary
	s.add(Event{Type: EventTypeSkipped, Err: first})
	s.add(Event{Type: EventTypeWritten, Err: second})
	if s.LastError != first {
		t.Fatalf("LastError = %v, want %v", s.LastError, first)
	}
	s.add(Event{Type: EventTypeError, Err: second})
	if s.LastError != second || s.Errors != 1 || s.Written != 1 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestSummary_AddDoesNotAllocate(t *testing.T) {
	var s Summary
	evt := Event{Stage: StageMbox, Type: EventTypeScanned}
	if allocs := testing.AllocsPerRun(100, func() { s.add(evt) }); allocs != 0 {
		t.Fatalf("add allocates %v times per event", allocs)
	}
}

func BenchmarkCollector(b *testing.B) {
	events := make(chan Event, 1024)
	c := NewCollector()
	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), events)
		close(done)
	}()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		events <- Event{Type: EventTypeWritten, Index: i}
	}
	close(events)
	<-done
}
