package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/metrics"
	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/pkg/logger"
)

// ChunkStore is the part of the session store the writer needs
type ChunkStore interface {
	InsertChunk(rec *sqlite.ChunkRecord) error
	MarkChunkPersisted(sessionID string, seq int) error
	DeleteChunk(sessionID string, seq int) error
}

// ChunkWriterConfig configures a ChunkWriter
type ChunkWriterConfig struct {
	SessionID    string
	Dir          string
	Format       Format
	ChunkMs      int
	WriteRetries int
	// FirstSeq and OffsetMs continue numbering after chunks already on disk.
	FirstSeq int
	OffsetMs int64
	// Start is the capture time of offset zero.
	Start time.Time
}

// ChunkWriter drains a FrameQueue into durable WAV chunk files
type ChunkWriter struct {
	cfg         ChunkWriterConfig
	chunker     *Chunker
	store       ChunkStore
	onPersisted func(*sqlite.ChunkRecord)
	metrics     *metrics.Metrics
	logger      *logger.Logger

	nextSeq  int
	offsetMs int64
	written  int
}

// NewChunkWriter creates a writer. onPersisted is called after each chunk
// row is marked persisted.
func NewChunkWriter(cfg ChunkWriterConfig, store ChunkStore, onPersisted func(*sqlite.ChunkRecord), m *metrics.Metrics, log *logger.Logger) *ChunkWriter {
	if cfg.WriteRetries <= 0 {
		cfg.WriteRetries = 1
	}
	return &ChunkWriter{
		cfg:         cfg,
		chunker:     NewChunker(cfg.Format, cfg.ChunkMs),
		store:       store,
		onPersisted: onPersisted,
		metrics:     m,
		logger:      log.Named("writer").WithSession(cfg.SessionID),
		nextSeq:     cfg.FirstSeq,
		offsetMs:    cfg.OffsetMs,
	}
}

// ChunkPath is the final file name of chunk seq in dir.
func ChunkPath(dir string, seq int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk_%04d.wav", seq))
}

// Run consumes frames until the queue is closed and drained, then persists
// the remainder as a final short chunk. If ctx ends first the remainder is
// still persisted and ctx.Err() is returned.
func (w *ChunkWriter) Run(ctx context.Context, queue *FrameQueue) error {
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session audio directory: %w", err)
	}

	for {
		frame, err := queue.Pop(ctx)
		if err != nil {
			w.flush()
			if errors.Is(err, errs.ErrQueueClosed) {
				return nil
			}
			return err
		}

		chunks, err := w.chunker.Add(frame.Data)
		if err != nil {
			return err
		}
		for _, pcm := range chunks {
			w.persist(pcm)
		}
	}
}

func (w *ChunkWriter) flush() {
	if rest := w.chunker.Flush(); len(rest) > 0 {
		w.logger.Debug("Flushing final partial chunk", logger.Int("bytes", len(rest)))
		w.persist(rest)
	}
}

// Written is the number of chunks persisted by this writer.
func (w *ChunkWriter) Written() int {
	return w.written
}

// NextSeq is the sequence number the next chunk would get.
func (w *ChunkWriter) NextSeq() int {
	return w.nextSeq
}

// OffsetMs is the stream time covered so far.
func (w *ChunkWriter) OffsetMs() int64 {
	return w.offsetMs
}

func (w *ChunkWriter) persist(pcm []byte) {
	durationMs := w.cfg.Format.DurationOf(len(pcm)).Milliseconds()
	rec := &sqlite.ChunkRecord{
		SessionID:  w.cfg.SessionID,
		Seq:        w.nextSeq,
		Path:       ChunkPath(w.cfg.Dir, w.nextSeq),
		CapturedAt: w.cfg.Start.Add(time.Duration(w.offsetMs) * time.Millisecond),
		OffsetMs:   w.offsetMs,
		DurationMs: durationMs,
	}
	// Stream time advances even if the chunk is lost, so later timestamps
	// stay true to the recording.
	w.offsetMs += durationMs

	var lastErr error
	for attempt := 1; attempt <= w.cfg.WriteRetries; attempt++ {
		if lastErr = w.writeOnce(rec, pcm); lastErr == nil {
			break
		}
		w.metrics.ChunkWriteFailed()
		w.logger.Warn("Chunk write failed",
			logger.Seq(rec.Seq),
			logger.Int("attempt", attempt),
			logger.Error(&errs.TransientIOError{Op: "write chunk", Err: lastErr}))
		os.Remove(rec.Path + ".tmp")
		if attempt < w.cfg.WriteRetries {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
	}

	if lastErr != nil {
		// Drop the chunk; the sequence number is reused so numbering stays gap-free.
		if err := w.store.DeleteChunk(rec.SessionID, rec.Seq); err != nil {
			w.logger.Error("Failed to remove row of dropped chunk", logger.Seq(rec.Seq), logger.Error(err))
		}
		w.logger.Error("Dropped chunk after retries",
			logger.Seq(rec.Seq),
			logger.Int64("duration_ms", durationMs),
			logger.Error(lastErr))
		return
	}

	rec.Persisted = true
	w.nextSeq++
	w.written++
	w.metrics.ChunkPersisted()
	w.logger.Debug("Chunk persisted", logger.Seq(rec.Seq), logger.Int64("duration_ms", durationMs))

	if w.onPersisted != nil {
		w.onPersisted(rec)
	}
}

// writeOnce records intent, writes to a temp file, syncs, renames into place
// and only then marks the chunk persisted.
func (w *ChunkWriter) writeOnce(rec *sqlite.ChunkRecord, pcm []byte) error {
	if err := w.store.InsertChunk(rec); err != nil {
		return err
	}

	data, err := EncodeWAV(w.cfg.Format, pcm)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(rec.Path, data); err != nil {
		return err
	}

	return w.store.MarkChunkPersisted(rec.SessionID, rec.Seq)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp chunk: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temp chunk: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync temp chunk: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp chunk: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename chunk into place: %w", err)
	}
	syncDir(filepath.Dir(path))
	return nil
}

// syncDir makes the rename durable. Not every platform supports syncing a
// directory, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
