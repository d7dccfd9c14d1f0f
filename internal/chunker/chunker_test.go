package chunker

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestPlan_SingleChunk(t *testing.T) {
	cases := []struct {
		total, chunk int64
	}{
		{10000, 0},
		{10000, 10000},
		{10000, 20000},
		{0, 0},
		{0, 4096},
	}
	for _, c := range cases {
		chunks, err := Plan(c.total, c.chunk)
		if err != nil {
			t.Fatalf("Plan(%d, %d) failed: %v", c.total, c.chunk, err)
		}
		if len(chunks) != 1 {
			t.Fatalf("Plan(%d, %d): expected 1 chunk, got %d", c.total, c.chunk, len(chunks))
		}
		want := ChunkDescriptor{SequenceID: 1, Offset: 0, Length: c.total, IsLast: true}
		if chunks[0] != want {
			t.Errorf("Plan(%d, %d) = %+v, want %+v", c.total, c.chunk, chunks[0], want)
		}
	}
}

func TestPlan_WithRemainder(t *testing.T) {
	chunks, err := Plan(10000, 4096)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	want := []ChunkDescriptor{
		{SequenceID: 1, Offset: 0, Length: 4096, IsLast: false},
		{SequenceID: 2, Offset: 4096, Length: 4096, IsLast: false},
		{SequenceID: 3, Offset: 8192, Length: 1808, IsLast: true},
	}
	if len(chunks) != len(want) {
		t.Fatalf("Expected %d chunks, got %d", len(want), len(chunks))
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("Chunk %d = %+v, want %+v", i, chunks[i], want[i])
		}
	}
}

func TestPlan_EvenSplit(t *testing.T) {
	chunks, err := Plan(8192, 4096)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].IsLast {
		t.Error("First chunk should not be last")
	}
	if !chunks[1].IsLast || chunks[1].Length != 4096 {
		t.Errorf("Last full chunk should carry IsLast: %+v", chunks[1])
	}
}

// TestPlan_Partition checks contiguity, coverage, ordering and a single last flag
func TestPlan_Partition(t *testing.T) {
	for total := int64(0); total <= 300; total += 7 {
		for chunk := int64(0); chunk <= 64; chunk++ {
			chunks, err := Plan(total, chunk)
			if err != nil {
				t.Fatalf("Plan(%d, %d) failed: %v", total, chunk, err)
			}

			var offset int64
			lastCount := 0
			for i, d := range chunks {
				if d.SequenceID != i+1 {
					t.Fatalf("Plan(%d, %d): chunk %d has sequence %d", total, chunk, i, d.SequenceID)
				}
				if d.Offset != offset {
					t.Fatalf("Plan(%d, %d): chunk %d starts at %d, want %d", total, chunk, i, d.Offset, offset)
				}
				offset = d.End()
				if d.IsLast {
					lastCount++
					if i != len(chunks)-1 {
						t.Fatalf("Plan(%d, %d): IsLast on chunk %d of %d", total, chunk, i+1, len(chunks))
					}
				}
			}
			if offset != total {
				t.Fatalf("Plan(%d, %d) covers %d bytes", total, chunk, offset)
			}
			if lastCount != 1 {
				t.Fatalf("Plan(%d, %d) has %d last chunks", total, chunk, lastCount)
			}
		}
	}
}

func TestPlan_Negative(t *testing.T) {
	if _, err := Plan(-1, 10); !errors.Is(err, ErrNegativeSize) {
		t.Errorf("Expected ErrNegativeSize, got %v", err)
	}
	if _, err := Plan(10, -1); !errors.Is(err, ErrNegativeSize) {
		t.Errorf("Expected ErrNegativeSize, got %v", err)
	}
}

func TestComputeManifest(t *testing.T) {
	m, err := ComputeManifest(10000, ChunkOptions{ChunkSize: 4096})
	if err != nil {
		t.Fatalf("ComputeManifest failed: %v", err)
	}
	if m.ChunkCount != 3 || len(m.Chunks) != 3 {
		t.Errorf("Expected 3 chunks, got %d", m.ChunkCount)
	}
	if m.ChunkSize != 4096 || m.TotalSize != 10000 {
		t.Errorf("Unexpected manifest sizes: %+v", m)
	}

	single, err := ComputeManifest(500, DefaultChunkOptions())
	if err != nil {
		t.Fatalf("ComputeManifest failed: %v", err)
	}
	if single.ChunkCount != 1 || single.ChunkSize != 500 {
		t.Errorf("Default options should yield one chunk of the whole blob: %+v", single)
	}
}

func TestChunker_Stream(t *testing.T) {
	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i % 251)
	}

	c, err := NewChunker(bytes.NewReader(data), int64(len(data)), 4096)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}
	if c.Count() != 3 {
		t.Fatalf("Expected 3 chunks, got %d", c.Count())
	}

	var out []byte
	for {
		d, chunk, err := c.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if int64(len(chunk)) != d.Length {
			t.Errorf("Chunk %d has %d bytes, descriptor says %d", d.SequenceID, len(chunk), d.Length)
		}
		out = append(out, chunk...)
	}
	if !bytes.Equal(out, data) {
		t.Error("Reassembled chunks do not match input")
	}
}

func TestChunker_ShortReader(t *testing.T) {
	c, err := NewChunker(bytes.NewReader(make([]byte, 100)), 200, 64)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}
	var lastErr error
	for i := 0; i < 4; i++ {
		if _, _, lastErr = c.Next(); lastErr != nil {
			break
		}
	}
	if !errors.Is(lastErr, ErrShortRead) {
		t.Errorf("Expected ErrShortRead, got %v", lastErr)
	}
}
