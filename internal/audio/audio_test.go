package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/metrics"
	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/pkg/logger"
)

// 1 kHz mono keeps test buffers small: 200 bytes per 100ms frame.
var testFormat = Format{SampleRate: 1000, Channels: 1, FrameMs: 100}

func frame(b byte) Frame {
	data := make([]byte, testFormat.FrameBytes())
	for i := range data {
		data[i] = b
	}
	return Frame{Data: data, CapturedAt: time.Now()}
}

func TestFrameQueueDropsOldest(t *testing.T) {
	m := metrics.New()
	q := NewFrameQueue(3, m, logger.NewNop())
	for i := byte(1); i <= 5; i++ {
		q.Push(frame(i))
	}

	if q.Dropped() != 2 {
		t.Fatalf("dropped = %d, want 2", q.Dropped())
	}
	q.Close()

	var got []byte
	for {
		f, err := q.Pop(context.Background())
		if errors.Is(err, errs.ErrQueueClosed) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, f.Data[0])
	}
	if string(got) != string([]byte{3, 4, 5}) {
		t.Errorf("popped %v, want [3 4 5]", got)
	}
}

func TestFrameQueuePopHonoursContext(t *testing.T) {
	q := NewFrameQueue(2, nil, logger.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
}

func TestFrameQueuePopWakesOnPush(t *testing.T) {
	q := NewFrameQueue(2, nil, logger.NewNop())
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(frame(9))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := q.Pop(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.Data[0] != 9 {
		t.Errorf("got frame %d", f.Data[0])
	}
}

func TestChunkerSplitsAndFlushes(t *testing.T) {
	c := NewChunker(testFormat, 1000) // 2000 bytes per chunk
	var chunks [][]byte
	for i := 0; i < 25; i++ {
		out, err := c.Add(frame(1).Data)
		if err != nil {
			t.Fatal(err)
		}
		chunks = append(chunks, out...)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	rest := c.Flush()
	if len(rest) != 1000 {
		t.Errorf("remainder = %d bytes, want 1000", len(rest))
	}
	if c.Flush() != nil {
		t.Error("second flush should be empty")
	}
}

func TestChunkSizeIsExact(t *testing.T) {
	cd := Format{SampleRate: 44100, Channels: 2, FrameMs: 20}
	c := NewChunker(cd, 30_000)
	if want := 44100 * 2 * BytesPerSample * 30; c.ChunkBytes() != want {
		t.Errorf("chunk = %d bytes, want %d", c.ChunkBytes(), want)
	}
	if d := cd.DurationOf(c.ChunkBytes()); d != 30*time.Second {
		t.Errorf("chunk lasts %v, want 30s", d)
	}
	if cd.FrameBytes() != 882*2*BytesPerSample {
		t.Errorf("frame = %d bytes", cd.FrameBytes())
	}
}

func TestChunkerRejectsEmptyChunks(t *testing.T) {
	c := NewChunker(Format{SampleRate: 400, Channels: 1, FrameMs: 1}, 1)
	if _, err := c.Add(make([]byte, 10)); err == nil {
		t.Fatal("expected an error for chunks that hold no samples")
	}

	data, err := EncodeWAV(Format{SampleRate: 400, Channels: 1, FrameMs: 1}, make([]byte, 80))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "slow.wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewWAVFileSource(path, 1, time.Now(), logger.NewNop()); err == nil {
		t.Error("expected an error opening a file whose frames hold no samples")
	}
}

func TestWAVEncodeValidate(t *testing.T) {
	pcm := make([]byte, 400)
	data, err := EncodeWAV(testFormat, pcm)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "a.wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	h, err := ValidateWAVFile(path)
	if err != nil {
		t.Fatalf("ValidateWAVFile: %v", err)
	}
	if h.Subchunk2Size != 400 {
		t.Errorf("data bytes = %d, want 400", h.Subchunk2Size)
	}
	if h.Duration() != 200*time.Millisecond {
		t.Errorf("duration = %v, want 200ms", h.Duration())
	}

	if err := os.WriteFile(path, data[:100], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateWAVFile(path); err == nil {
		t.Error("truncated file should not validate")
	}
}

type fakeChunkStore struct {
	mu        sync.Mutex
	rows      map[int]*sqlite.ChunkRecord
	failMarks int
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{rows: map[int]*sqlite.ChunkRecord{}}
}

func (s *fakeChunkStore) InsertChunk(rec *sqlite.ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.Persisted = false
	s.rows[rec.Seq] = &cp
	return nil
}

func (s *fakeChunkStore) MarkChunkPersisted(_ string, seq int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMarks > 0 {
		s.failMarks--
		return errors.New("disk full")
	}
	s.rows[seq].Persisted = true
	return nil
}

func (s *fakeChunkStore) DeleteChunk(_ string, seq int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, seq)
	return nil
}

func TestChunkWriterPersistsAtomically(t *testing.T) {
	dir := t.TempDir()
	store := newFakeChunkStore()
	store.failMarks = 1

	var notified []int
	w := NewChunkWriter(ChunkWriterConfig{
		SessionID:    "s1",
		Dir:          dir,
		Format:       testFormat,
		ChunkMs:      1000,
		WriteRetries: 3,
		Start:        time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}, store, func(rec *sqlite.ChunkRecord) { notified = append(notified, rec.Seq) }, nil, logger.NewNop())

	q := NewFrameQueue(100, nil, logger.NewNop())
	for i := 0; i < 25; i++ {
		q.Push(frame(byte(i)))
	}
	q.Close()

	if err := w.Run(context.Background(), q); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(notified) != 3 || notified[0] != 0 || notified[2] != 2 {
		t.Fatalf("notified = %v, want [0 1 2]", notified)
	}
	for seq := 0; seq < 3; seq++ {
		if !store.rows[seq].Persisted {
			t.Errorf("chunk %d not marked persisted", seq)
		}
		if _, err := ValidateWAVFile(ChunkPath(dir, seq)); err != nil {
			t.Errorf("chunk %d: %v", seq, err)
		}
	}
	if store.rows[2].DurationMs != 500 || store.rows[2].OffsetMs != 2000 {
		t.Errorf("final chunk = %+v, want 500ms at offset 2000", store.rows[2])
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestChunkWriterDropsAfterRetriesWithoutGap(t *testing.T) {
	store := newFakeChunkStore()
	store.failMarks = 2

	w := NewChunkWriter(ChunkWriterConfig{
		SessionID:    "s1",
		Dir:          t.TempDir(),
		Format:       testFormat,
		ChunkMs:      1000,
		WriteRetries: 2,
	}, store, nil, nil, logger.NewNop())

	q := NewFrameQueue(100, nil, logger.NewNop())
	for i := 0; i < 20; i++ {
		q.Push(frame(1))
	}
	q.Close()

	if err := w.Run(context.Background(), q); err != nil {
		t.Fatal(err)
	}

	if w.Written() != 1 {
		t.Fatalf("written = %d, want 1", w.Written())
	}
	if _, ok := store.rows[0]; !ok || !store.rows[0].Persisted {
		t.Fatalf("second chunk should take seq 0, rows = %v", store.rows)
	}
	if store.rows[0].OffsetMs != 1000 {
		t.Errorf("offset = %d, want 1000", store.rows[0].OffsetMs)
	}
}

func TestWAVFileSourceReplaysIntoPacedQueue(t *testing.T) {
	pcm := make([]byte, 2500)
	data, err := EncodeWAV(testFormat, pcm)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "in.wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := NewWAVFileSource(path, 100, time.Now(), logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	// Capacity smaller than the file forces the source to wait for room.
	q := NewFrameQueue(2, nil, logger.NewNop())
	if err := src.Start(context.Background(), "", q); err != nil {
		t.Fatal(err)
	}

	total := 0
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		<-src.Done()
		q.Close()
	}()
	for {
		f, err := q.Pop(ctx)
		if errors.Is(err, errs.ErrQueueClosed) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		total += len(f.Data)
	}

	if total != 2500 {
		t.Errorf("replayed %d bytes, want 2500", total)
	}
	if q.Dropped() != 0 {
		t.Errorf("dropped %d frames", q.Dropped())
	}
	if src.Err() != nil {
		t.Errorf("source error: %v", src.Err())
	}
}
