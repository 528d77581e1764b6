package audio

import (
	"bytes"
	"fmt"
)

// Chunker accumulates frame bytes into fixed-duration chunks
type Chunker struct {
	format         Format
	chunkSizeMs    int
	chunkSizeBytes int
	buffer         *bytes.Buffer
}

// NewChunker creates a chunker emitting chunkSizeMs of audio per chunk.
func NewChunker(format Format, chunkSizeMs int) *Chunker {
	return &Chunker{
		format:         format,
		chunkSizeMs:    chunkSizeMs,
		chunkSizeBytes: format.BytesFor(chunkSizeMs),
		buffer:         bytes.NewBuffer(nil),
	}
}

// Add appends data and returns every complete chunk now available.
func (c *Chunker) Add(data []byte) ([][]byte, error) {
	if c.chunkSizeBytes <= 0 {
		return nil, fmt.Errorf("%d ms chunks hold no samples at %d Hz", c.chunkSizeMs, c.format.SampleRate)
	}
	if _, err := c.buffer.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}

	var chunks [][]byte
	for c.buffer.Len() >= c.chunkSizeBytes {
		chunk := make([]byte, c.chunkSizeBytes)
		if _, err := c.buffer.Read(chunk); err != nil {
			return nil, fmt.Errorf("failed to read from buffer: %w", err)
		}
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// Flush returns the partial chunk left in the buffer, or nil.
func (c *Chunker) Flush() []byte {
	if c.buffer.Len() == 0 {
		return nil
	}
	// Keep whole samples only.
	align := c.format.Channels * BytesPerSample
	n := c.buffer.Len() - c.buffer.Len()%align
	rest := make([]byte, n)
	copy(rest, c.buffer.Bytes()[:n])
	c.buffer.Reset()
	if n == 0 {
		return nil
	}
	return rest
}

// Buffered is the number of bytes waiting for the next chunk.
func (c *Chunker) Buffered() int {
	return c.buffer.Len()
}

// ChunkBytes is the size of a full chunk.
func (c *Chunker) ChunkBytes() int {
	return c.chunkSizeBytes
}
