package chunker

import (
	"bytes"
	"testing"
)

func BenchmarkChunkerEnvelope(b *testing.B) {
	for _, chunkSize := range []int64{0, 64 << 10, 4 << 20} {
		blob := bytes.Repeat([]byte{0xA5}, 8<<20+32)
		b.Run(sizeName(chunkSize), func(b *testing.B) {
			b.SetBytes(int64(len(blob)))
			for n := 0; n < b.N; n++ {
				c, err := NewChunker(bytes.NewReader(blob), int64(len(blob)), chunkSize)
				if err != nil {
					b.Fatal(err)
				}
				for i := 0; i < c.Count(); i++ {
					if _, _, err := c.Next(); err != nil {
						b.Fatal(err)
					}
				}
			}
		})
	}
}

func BenchmarkPlan(b *testing.B) {
	for n := 0; n < b.N; n++ {
		if _, err := Plan(2<<30, 1<<20); err != nil {
			b.Fatal(err)
		}
	}
}

func sizeName(n int64) string {
	switch {
	case n == 0:
		return "single"
	case n >= 1<<20:
		return "MiB"
	default:
		return "KiB"
	}
}
