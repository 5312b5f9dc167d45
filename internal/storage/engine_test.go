package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/meshstore/internal/core/domain"
	"github.com/yndnr/meshstore/internal/storage/segment"
	"github.com/yndnr/meshstore/pkg/crypto/adaptive"
)

const (
	testSegmentSize = 16 << 10
	testMaxPayload  = 1 << 10
)

func testOptions(d Durability) Options {
	opts := DefaultOptions(d)
	opts.SegmentSizeBytes = testSegmentSize
	opts.MaxPayloadBytes = testMaxPayload
	opts.MaxIdentifierBytes = 64
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return opts
}

func openTest(t *testing.T, dir string, mutate ...func(*Options)) *Engine {
	t.Helper()
	opts := testOptions(DurabilitySync)
	for _, fn := range mutate {
		fn(&opts)
	}
	e, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e
}

func mustPut(t *testing.T, e *Engine, id, payload string) uint64 {
	t.Helper()
	seq, err := e.Put(context.Background(), []byte(id), []byte(payload))
	if err != nil {
		t.Fatalf("Put(%q): %v", id, err)
	}
	return seq
}

func mustGet(t *testing.T, e *Engine, id string) []byte {
	t.Helper()
	v, err := e.Get(context.Background(), []byte(id))
	if err != nil {
		t.Fatalf("Get(%q): %v", id, err)
	}
	return v
}

// scanAll collects a full scan into a map.
func scanAll(t *testing.T, e *Engine) map[string]string {
	t.Helper()
	out := make(map[string]string)
	it := e.Scan(context.Background())
	defer it.Close()
	for it.Next() {
		if _, dup := out[string(it.ID())]; dup {
			t.Fatalf("scan yielded %q twice", it.ID())
		}
		out[string(it.ID())] = string(it.Payload())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func equalMaps(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func TestOpen_RequiresExplicitDurability(t *testing.T) {
	opts := testOptions("")
	if _, err := Open(t.TempDir(), opts); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("Open error = %v, want ErrInvalidArgument", err)
	}
}

func TestOpen_ValidatesOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"unknown durability", func(o *Options) { o.Durability = "fsync-ish" }},
		{"segment too small", func(o *Options) { o.SegmentSizeBytes = 1024 }},
		{"threshold zero", func(o *Options) { o.CompactionThreshold = -1 }},
		{"threshold above one", func(o *Options) { o.CompactionThreshold = 1.5 }},
		{"negative rate", func(o *Options) { o.CompactionBytesPerSecond = -1 }},
		{"identifier too long", func(o *Options) { o.MaxIdentifierBytes = domain.MaxIdentifierLen + 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(DurabilitySync)
			tt.mutate(&opts)
			if _, err := Open(t.TempDir(), opts); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Fatalf("Open error = %v, want ErrInvalidArgument", err)
			}
		})
	}

	if _, err := Open("", testOptions(DurabilitySync)); err == nil {
		t.Fatal("Open with empty dir succeeded")
	}
}

func TestParseDurability(t *testing.T) {
	for _, s := range []string{"sync", "buffered"} {
		if d, err := ParseDurability(s); err != nil || string(d) != s {
			t.Fatalf("ParseDurability(%q) = %q, %v", s, d, err)
		}
	}
	if _, err := ParseDurability(""); err == nil {
		t.Fatal("ParseDurability(\"\") succeeded")
	}
}

func TestEngine_PutGetPayloadSizes(t *testing.T) {
	e := openTest(t, t.TempDir())
	defer e.Close()

	for _, size := range []int{0, 1, 17, 512, testMaxPayload - 1, testMaxPayload} {
		t.Run(fmt.Sprintf("%d bytes", size), func(t *testing.T) {
			id := []byte(fmt.Sprintf("id-%d", size))
			payload := bytes.Repeat([]byte{byte(size)}, size)
			if _, err := e.Put(context.Background(), id, payload); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, err := e.Get(context.Background(), id)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("Get returned %d bytes, want %d", len(got), len(payload))
			}
		})
	}
}

func TestEngine_Rejects(t *testing.T) {
	e := openTest(t, t.TempDir())
	defer e.Close()
	ctx := context.Background()

	if _, err := e.Put(ctx, []byte("k"), make([]byte, testMaxPayload+1)); !errors.Is(err, domain.ErrPayloadTooLarge) {
		t.Fatalf("Put oversized error = %v, want ErrPayloadTooLarge", err)
	}
	if _, err := e.Put(ctx, nil, []byte("v")); !errors.Is(err, domain.ErrInvalidIdentifier) {
		t.Fatalf("Put empty id error = %v, want ErrInvalidIdentifier", err)
	}
	if _, err := e.Put(ctx, make([]byte, 65), []byte("v")); !errors.Is(err, domain.ErrInvalidIdentifier) {
		t.Fatalf("Put long id error = %v, want ErrInvalidIdentifier", err)
	}
	if _, err := e.Get(ctx, []byte("missing")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get missing error = %v, want ErrNotFound", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := e.Put(cancelled, []byte("k"), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Put with cancelled ctx error = %v", err)
	}
}

func TestEngine_DeleteThenPut(t *testing.T) {
	e := openTest(t, t.TempDir())
	defer e.Close()
	ctx := context.Background()

	mustPut(t, e, "x", "payload1")
	found, err := e.Delete(ctx, []byte("x"))
	if err != nil || !found {
		t.Fatalf("Delete = %v, %v, want true, nil", found, err)
	}
	if _, err := e.Get(ctx, []byte("x")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get after delete error = %v, want ErrNotFound", err)
	}
	if ok, _ := e.Contains(ctx, []byte("x")); ok {
		t.Fatal("Contains after delete = true")
	}

	mustPut(t, e, "x", "payload2")
	if got := mustGet(t, e, "x"); string(got) != "payload2" {
		t.Fatalf("Get = %q, want payload2", got)
	}
}

func TestEngine_DeleteAbsentStillAppends(t *testing.T) {
	e := openTest(t, t.TempDir())
	defer e.Close()

	before := e.Stats()
	found, err := e.Delete(context.Background(), []byte("never"))
	if err != nil || found {
		t.Fatalf("Delete = %v, %v, want false, nil", found, err)
	}
	after := e.Stats()
	if after.NextSeq != before.NextSeq+1 || after.DataBytes <= before.DataBytes {
		t.Fatalf("no tombstone appended: seq %d -> %d, data %d -> %d", before.NextSeq, after.NextSeq, before.DataBytes, after.DataBytes)
	}
}

func TestEngine_SequenceStrictlyIncreases(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir)

	var last uint64
	for i := 0; i < 50; i++ {
		seq := mustPut(t, e, "same", "identical bytes")
		if seq <= last {
			t.Fatalf("seq %d after %d", seq, last)
		}
		last = seq
	}
	_ = e.Close()

	e = openTest(t, dir)
	defer e.Close()
	if seq := mustPut(t, e, "same", "again"); seq <= last {
		t.Fatalf("seq after reopen = %d, want > %d", seq, last)
	}
}

func TestEngine_FailedSyncStillPublishes(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir)
	ctx := context.Background()
	mustPut(t, e, "a", "1")

	flushErr := errors.New("msync: input/output error")
	e.syncSegment = func(*segment.Segment) error { return flushErr }

	seq, err := e.Put(ctx, []byte("a"), []byte("2"))
	if !errors.Is(err, domain.ErrIO) || !errors.Is(err, flushErr) {
		t.Fatalf("Put error = %v, want ErrIO wrapping the flush error", err)
	}
	if seq == 0 {
		t.Fatal("Put returned no sequence number for an appended record")
	}
	if got := mustGet(t, e, "a"); string(got) != "2" {
		t.Fatalf("Get(a) = %q, want the appended value", got)
	}
	if got := e.Stats().NextSeq; got != seq+1 {
		t.Fatalf("NextSeq = %d, want %d", got, seq+1)
	}

	found, err := e.Delete(ctx, []byte("a"))
	if !errors.Is(err, domain.ErrIO) || !found {
		t.Fatalf("Delete = %v, %v, want true and ErrIO", found, err)
	}
	if _, err := e.Get(ctx, []byte("a")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get(a) after delete error = %v, want ErrNotFound", err)
	}

	e.syncSegment = (*segment.Segment).Sync
	mustPut(t, e, "b", "3")
	_ = e.Close()

	// What the engine served before the restart is what replay rebuilds.
	e = openTest(t, dir)
	defer e.Close()
	if _, err := e.Get(ctx, []byte("a")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get(a) after reopen error = %v, want ErrNotFound", err)
	}
	if got := mustGet(t, e, "b"); string(got) != "3" {
		t.Fatalf("Get(b) after reopen = %q", got)
	}
}

func TestEngine_ScanExampleSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir)
	ctx := context.Background()

	if _, err := e.Put(ctx, []byte("a"), []byte{1, 2, 3}); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if _, err := e.Put(ctx, []byte("b"), []byte{9}); err != nil {
		t.Fatalf("Put b: %v", err)
	}
	if _, err := e.Delete(ctx, []byte("a")); err != nil {
		t.Fatalf("Delete a: %v", err)
	}

	want := map[string]string{"b": string([]byte{9})}
	if got := scanAll(t, e); !equalMaps(got, want) {
		t.Fatalf("scan = %v, want %v", got, want)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e = openTest(t, dir)
	defer e.Close()
	if got := scanAll(t, e); !equalMaps(got, want) {
		t.Fatalf("scan after reopen = %v, want %v", got, want)
	}
}

func TestEngine_ClosedFailsFast(t *testing.T) {
	e := openTest(t, t.TempDir())
	mustPut(t, e, "a", "1")
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	ctx := context.Background()
	checks := map[string]error{}
	_, checks["put"] = e.Put(ctx, []byte("a"), nil)
	_, checks["get"] = e.Get(ctx, []byte("a"))
	_, checks["delete"] = e.Delete(ctx, []byte("a"))
	_, checks["contains"] = e.Contains(ctx, []byte("a"))
	_, checks["compact"] = e.Compact(ctx)
	checks["sync"] = e.Sync()
	checks["scan"] = e.Scan(ctx).Err()

	for op, err := range checks {
		if !errors.Is(err, domain.ErrEngineClosed) {
			t.Errorf("%s after close error = %v, want ErrEngineClosed", op, err)
		}
	}
}

func TestEngine_RotatesAndReopens(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir)

	want := make(map[string]string)
	payload := string(bytes.Repeat([]byte("p"), 900))
	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("key-%03d", i)
		v := fmt.Sprintf("%s-%d", payload, i)
		mustPut(t, e, id, v)
		want[id] = v
	}
	st := e.Stats()
	if st.SealedSegments < 2 || st.Rotations == 0 {
		t.Fatalf("expected rotations, got %d sealed, %d rotations", st.SealedSegments, st.Rotations)
	}
	for id, v := range want {
		if got := mustGet(t, e, id); string(got) != v {
			t.Fatalf("Get(%s) mismatch", id)
		}
	}
	_ = e.Close()

	e = openTest(t, dir)
	defer e.Close()
	if got := scanAll(t, e); !equalMaps(got, want) {
		t.Fatalf("scan after reopen has %d records, want %d", len(got), len(want))
	}
	files, _ := filepath.Glob(filepath.Join(dir, segment.FilePrefix+"*"))
	if len(files) != e.Stats().SealedSegments+1 {
		t.Fatalf("%d files on disk, stats say %d sealed + active", len(files), e.Stats().SealedSegments)
	}
}

func TestEngine_MaxRecordsPerSegment(t *testing.T) {
	e := openTest(t, t.TempDir(), func(o *Options) { o.MaxRecordsPerSegment = 3 })
	defer e.Close()

	for i := 0; i < 10; i++ {
		mustPut(t, e, fmt.Sprintf("k%d", i), "v")
	}
	if got := e.Stats().SealedSegments; got != 3 {
		t.Fatalf("SealedSegments = %d, want 3", got)
	}
}

func TestEngine_ConcurrentDisjoint(t *testing.T) {
	e := openTest(t, t.TempDir(), func(o *Options) { o.Durability = DurabilityBuffered })
	defer e.Close()
	ctx := context.Background()

	const workers, ops = 8, 200
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < ops; i++ {
				id := []byte(fmt.Sprintf("w%d-%d", w, i))
				v := []byte(fmt.Sprintf("value-%d-%d", w, i))
				if _, err := e.Put(ctx, id, v); err != nil {
					errCh <- err
					return
				}
				got, err := e.Get(ctx, id)
				if err != nil || !bytes.Equal(got, v) {
					errCh <- fmt.Errorf("get %s = %q, %v", id, got, err)
					return
				}
				if i%3 == 0 {
					if _, err := e.Delete(ctx, id); err != nil {
						errCh <- err
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}

	for w := 0; w < workers; w++ {
		for i := 0; i < ops; i++ {
			id := []byte(fmt.Sprintf("w%d-%d", w, i))
			ok, _ := e.Contains(ctx, id)
			if ok != (i%3 != 0) {
				t.Fatalf("Contains(%s) = %v", id, ok)
			}
		}
	}
}

func TestEngine_ReadersSeeWholeValues(t *testing.T) {
	e := openTest(t, t.TempDir(), func(o *Options) { o.Durability = DurabilityBuffered })
	defer e.Close()
	ctx := context.Background()

	valid := map[string]bool{}
	var values [][]byte
	for i := 0; i < 4; i++ {
		v := bytes.Repeat([]byte{byte('a' + i)}, 700)
		values = append(values, v)
		valid[string(v)] = true
	}
	if _, err := e.Put(ctx, []byte("hot"), values[0]); err != nil {
		t.Fatalf("Put: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			if _, err := e.Put(ctx, []byte("hot"), values[i%len(values)]); err != nil {
				t.Errorf("Put: %v", err)
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		got, err := e.Get(ctx, []byte("hot"))
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !valid[string(got)] {
			t.Fatalf("Get returned a torn value of %d bytes", len(got))
		}
	}
}

func TestEngine_BufferedSyncAndReopen(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir, func(o *Options) { o.Durability = DurabilityBuffered })
	mustPut(t, e, "a", "1")
	mustPut(t, e, "b", "2")
	if err := e.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	_ = e.Close()

	e = openTest(t, dir, func(o *Options) { o.Durability = DurabilityBuffered })
	defer e.Close()
	if got := mustGet(t, e, "b"); string(got) != "2" {
		t.Fatalf("Get(b) = %q", got)
	}
}

func TestEngine_CipherSealsPayloads(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	c, err := adaptive.New(key)
	if err != nil {
		t.Fatalf("adaptive.New: %v", err)
	}
	dir := t.TempDir()
	withCipher := func(o *Options) { o.Cipher = c }

	e := openTest(t, dir, withCipher)
	secret := []byte("plaintext-marker-0123456789")
	if _, err := e.Put(context.Background(), []byte("s"), secret); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := e.Put(context.Background(), []byte("max"), make([]byte, testMaxPayload)); err != nil {
		t.Fatalf("Put of max payload with cipher overhead: %v", err)
	}
	_ = e.Close()

	files, _ := filepath.Glob(filepath.Join(dir, segment.FilePrefix+"*"))
	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if bytes.Contains(raw, secret) {
			t.Fatalf("%s contains the plaintext payload", f)
		}
	}

	e = openTest(t, dir, withCipher)
	defer e.Close()
	if got := mustGet(t, e, "s"); !bytes.Equal(got, secret) {
		t.Fatalf("Get = %q, want %q", got, secret)
	}
}

func TestEngine_WrongKeyIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	c1, _ := adaptive.New(bytes.Repeat([]byte{1}, 32))
	c2, _ := adaptive.New(bytes.Repeat([]byte{2}, 32))

	e := openTest(t, dir, func(o *Options) { o.Cipher = c1 })
	mustPut(t, e, "k", "v")
	_ = e.Close()

	e = openTest(t, dir, func(o *Options) { o.Cipher = c2 })
	defer e.Close()
	if _, err := e.Get(context.Background(), []byte("k")); !errors.Is(err, domain.ErrCorruptRecord) {
		t.Fatalf("Get with wrong key error = %v, want ErrCorruptRecord", err)
	}
}

type countingObserver struct {
	NopObserver
	mu sync.Mutex

	puts, gets, rotates, deletesFound int
}

func (o *countingObserver) ObservePut(int, time.Duration, error) {
	o.mu.Lock()
	o.puts++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveGet(int, time.Duration, error) {
	o.mu.Lock()
	o.gets++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveDelete(found bool, _ time.Duration, _ error) {
	o.mu.Lock()
	if found {
		o.deletesFound++
	}
	o.mu.Unlock()
}

func (o *countingObserver) ObserveRotate(uint64, uint64) {
	o.mu.Lock()
	o.rotates++
	o.mu.Unlock()
}

func TestEngine_Observer(t *testing.T) {
	obs := &countingObserver{}
	e := openTest(t, t.TempDir(), func(o *Options) {
		o.Observer = obs
		o.MaxRecordsPerSegment = 2
	})
	defer e.Close()

	mustPut(t, e, "a", "1")
	mustPut(t, e, "b", "2")
	mustPut(t, e, "c", "3")
	mustGet(t, e, "a")
	_, _ = e.Delete(context.Background(), []byte("a"))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.puts != 3 || obs.gets != 1 || obs.deletesFound != 1 || obs.rotates != 1 {
		t.Fatalf("observer saw puts=%d gets=%d deletes=%d rotates=%d", obs.puts, obs.gets, obs.deletesFound, obs.rotates)
	}
}
