// Package chunker splits a ciphertext blob into ordered upload chunks.
package chunker

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrNegativeSize = errors.New("sizes must not be negative")
	ErrShortRead    = errors.New("reader ended before the planned size")
)

// Plan partitions totalSize bytes into chunks of chunkSize.
//
// A chunkSize of 0, or one at least as large as totalSize, yields a single
// chunk. Otherwise every chunk but possibly the last has chunkSize bytes;
// when totalSize divides evenly the last full chunk carries IsLast.
// Sequence ids start at 1 and exactly one descriptor is last.
func Plan(totalSize, chunkSize int64) ([]ChunkDescriptor, error) {
	if totalSize < 0 || chunkSize < 0 {
		return nil, fmt.Errorf("%w: total=%d chunk=%d", ErrNegativeSize, totalSize, chunkSize)
	}

	if chunkSize == 0 || chunkSize >= totalSize {
		return []ChunkDescriptor{{
			SequenceID: 1,
			Offset:     0,
			Length:     totalSize,
			IsLast:     true,
		}}, nil
	}

	fullChunks := totalSize / chunkSize
	remainder := totalSize % chunkSize

	count := fullChunks
	if remainder > 0 {
		count++
	}

	chunks := make([]ChunkDescriptor, 0, count)
	for i := int64(0); i < fullChunks; i++ {
		chunks = append(chunks, ChunkDescriptor{
			SequenceID: int(i) + 1,
			Offset:     i * chunkSize,
			Length:     chunkSize,
		})
	}
	if remainder > 0 {
		chunks = append(chunks, ChunkDescriptor{
			SequenceID: int(fullChunks) + 1,
			Offset:     fullChunks * chunkSize,
			Length:     remainder,
		})
	}
	chunks[len(chunks)-1].IsLast = true

	return chunks, nil
}

// ComputeManifest plans a blob of totalSize bytes.
func ComputeManifest(totalSize int64, options ChunkOptions) (*Manifest, error) {
	chunks, err := Plan(totalSize, options.ChunkSize)
	if err != nil {
		return nil, err
	}
	chunkSize := options.ChunkSize
	if chunkSize == 0 || chunkSize > totalSize {
		chunkSize = totalSize
	}
	return &Manifest{
		TotalSize:  totalSize,
		ChunkSize:  chunkSize,
		ChunkCount: len(chunks),
		Chunks:     chunks,
	}, nil
}

// Chunker provides streaming chunking of data from an io.Reader following a Plan.
type Chunker struct {
	reader io.Reader
	plan   []ChunkDescriptor
	next   int
}

// NewChunker creates a chunker over exactly totalSize bytes of r.
func NewChunker(r io.Reader, totalSize, chunkSize int64) (*Chunker, error) {
	plan, err := Plan(totalSize, chunkSize)
	if err != nil {
		return nil, err
	}
	return &Chunker{
		reader: r,
		plan:   plan,
	}, nil
}

// Count returns the number of chunks the chunker will yield.
func (c *Chunker) Count() int {
	return len(c.plan)
}

// Next returns the next descriptor and its bytes, or io.EOF after the last
// chunk. Each call returns a freshly allocated slice owned by the caller.
func (c *Chunker) Next() (ChunkDescriptor, []byte, error) {
	if c.next >= len(c.plan) {
		return ChunkDescriptor{}, nil, io.EOF
	}
	d := c.plan[c.next]

	buf := make([]byte, d.Length)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ChunkDescriptor{}, nil, fmt.Errorf("%w: chunk %d", ErrShortRead, d.SequenceID)
		}
		return ChunkDescriptor{}, nil, fmt.Errorf("failed to read chunk %d: %w", d.SequenceID, err)
	}

	c.next++
	return d, buf, nil
}
