package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

const wavHeaderSize = 44

// WAVHeader represents a canonical 44-byte PCM WAV header
type WAVHeader struct {
	// RIFF chunk descriptor
	ChunkID   [4]byte // "RIFF"
	ChunkSize uint32  // 36 + SubChunk2Size
	Format    [4]byte // "WAVE"

	// "fmt " sub-chunk
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample/8
	BlockAlign    uint16 // NumChannels * BitsPerSample/8
	BitsPerSample uint16

	// "data" sub-chunk
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // NumSamples * NumChannels * BitsPerSample/8
}

// newWAVHeader builds the header for dataSize bytes of 16-bit PCM.
func newWAVHeader(format Format, dataSize int) WAVHeader {
	bitsPerSample := uint16(16)
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.SampleRate * format.Channels * int(bitsPerSample/8)),
		BlockAlign:    uint16(format.Channels * int(bitsPerSample/8)),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}
}

// EncodeWAV wraps raw PCM in a WAV container.
func EncodeWAV(format Format, pcm []byte) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, newWAVHeader(format, len(pcm))); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// ReadWAVHeader reads and validates the header of a 16-bit PCM WAV stream.
// The fmt chunk must be the canonical 16 bytes. Chunks between fmt and data,
// such as LIST, are skipped.
func ReadWAVHeader(r io.Reader) (*WAVHeader, error) {
	var header WAVHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if string(header.ChunkID[:]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(header.Format[:]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}
	if string(header.Subchunk1ID[:]) != "fmt " {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if header.AudioFormat != 1 {
		return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}
	if header.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}

	// Skip non-data chunks until the data chunk header.
	for string(header.Subchunk2ID[:]) != "data" {
		if _, err := io.CopyN(io.Discard, r, int64(header.Subchunk2Size)); err != nil {
			return nil, fmt.Errorf("invalid WAV file: missing data chunk: %w", err)
		}
		var next struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &next); err != nil {
			return nil, fmt.Errorf("invalid WAV file: missing data chunk: %w", err)
		}
		header.Subchunk2ID = next.ID
		header.Subchunk2Size = next.Size
	}

	return &header, nil
}

// StreamFormat returns the stream format described by the header.
func (h *WAVHeader) StreamFormat(frameMs int) Format {
	return Format{SampleRate: int(h.SampleRate), Channels: int(h.NumChannels), FrameMs: frameMs}
}

// Duration is the playing time of the data chunk.
func (h *WAVHeader) Duration() time.Duration {
	if h.ByteRate == 0 {
		return 0
	}
	return time.Duration(int64(h.Subchunk2Size) * int64(time.Second) / int64(h.ByteRate))
}

// ValidateWAVFile checks that path holds a readable PCM WAV whose data size
// matches the file length, and returns its header.
func ValidateWAVFile(path string) (*WAVHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	header, err := ReadWAVHeader(f)
	if err != nil {
		return nil, err
	}
	dataStart, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	if info.Size() < dataStart+int64(header.Subchunk2Size) {
		return nil, fmt.Errorf("truncated WAV file: header declares %d data bytes, file has %d",
			header.Subchunk2Size, info.Size()-dataStart)
	}
	return header, nil
}
