package chunker

// Manifest describes how one ciphertext blob is split for upload.
type Manifest struct {
	TotalSize  int64             `json:"total_size"`
	ChunkSize  int64             `json:"chunk_size"`
	ChunkCount int               `json:"chunk_count"`
	Chunks     []ChunkDescriptor `json:"chunks"`
}

// ChunkDescriptor describes a single upload chunk
type ChunkDescriptor struct {
	SequenceID int   `json:"sequence_id"` // 1-based
	Offset     int64 `json:"offset"`      // Byte offset within the blob
	Length     int64 `json:"length"`      // Chunk length in bytes
	IsLast     bool  `json:"is_last"`
}

// End returns the exclusive end offset of the chunk.
func (d ChunkDescriptor) End() int64 {
	return d.Offset + d.Length
}

// ChunkOptions configures chunking behavior
type ChunkOptions struct {
	ChunkSize int64 // Chunk size in bytes; 0 uploads the blob in one piece
}

// DefaultChunkOptions returns default chunking options
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{
		ChunkSize: 0,
	}
}
