package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
)

func benchHashes(n int) []string {
	hashes := make([]string, n)
	for i := range hashes {
		sum := sha256.Sum256([]byte(strconv.Itoa(i)))
		hashes[i] = hex.EncodeToString(sum[:])
	}
	return hashes
}

func BenchmarkHistory_MarkProcessed(b *testing.B) {
	h, err := OpenHistory(b.TempDir(), "bench.mbox")
	if err != nil {
		b.Fatal(err)
	}
	defer h.Close()
	hashes := benchHashes(b.N)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := h.MarkProcessed(hashes[i], i); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()

	if err := h.Close(); err != nil {
		b.Fatal(err)
	}
}

// Loading is dominated by JSON decoding of the existing records.
func BenchmarkHistory_Open(b *testing.B) {
	dir := b.TempDir()
	h, err := OpenHistory(dir, "bench.mbox")
	if err != nil {
		b.Fatal(err)
	}
	for i, hash := range benchHashes(10000) {
		if err := h.MarkProcessed(hash, i); err != nil {
			b.Fatal(err)
		}
	}
	if err := h.Close(); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h, err := OpenHistory(dir, "bench.mbox")
		if err != nil {
			b.Fatal(err)
		}
		h.Close()
	}
}

func BenchmarkMemoryTracker_Observe(b *testing.B) {
	tracker := NewMemoryTracker()
	hashes := benchHashes(1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker.Observe(hashes[i%len(hashes)], i)
	}
}
