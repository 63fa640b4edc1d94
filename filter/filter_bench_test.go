package filter

import (
	"bytes"
	"testing"
)

var benchMessage = []byte("From: test@example.com\nTo: user@example.com\nSubject: Test\n\n" +
	string(bytes.Repeat([]byte("This is a test message body with some important content.\n"), 40)))

func BenchmarkFilter_AllowsRaw(b *testing.B) {
	benchmarks := []struct {
		name string
		opts Options
	}{
		{"none", Options{}},
		{"include-header", Options{IncludeHeader: []string{`From:.*@example\.com`}}},
		{"exclude-header", Options{ExcludeHeader: []string{`From:.*@spam\.com`, `Subject:.*URGENT`, `X-Spam-Flag: YES`}}},
		{"include-body", Options{IncludeBody: []string{`important.*content`}}},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			f, err := New(bm.opts)
			if err != nil {
				b.Fatal(err)
			}
			b.SetBytes(int64(len(benchMessage)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				f.AllowsRaw(benchMessage)
			}
		})
	}
}
