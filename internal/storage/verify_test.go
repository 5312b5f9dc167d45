package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/yndnr/meshstore/internal/core/domain"
	"github.com/yndnr/meshstore/internal/storage/record"
	"github.com/yndnr/meshstore/internal/storage/segment"
	"github.com/yndnr/meshstore/pkg/crypto/adaptive"
)

func TestVerify_Clean(t *testing.T) {
	e := openTest(t, t.TempDir(), withSmallSegments(4))
	defer e.Close()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		mustPut(t, e, fmt.Sprintf("k%02d", i), "value")
	}
	for i := 0; i < 5; i++ {
		if _, err := e.Delete(ctx, []byte(fmt.Sprintf("k%02d", i))); err != nil {
			t.Fatal(err)
		}
	}

	var calls int
	var lastDone, lastTotal int64
	rep, err := e.Verify(ctx, func(done, total int64) {
		calls++
		lastDone, lastTotal = done, total
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rep.OK() {
		t.Fatalf("problems = %+v", rep.Problems)
	}
	if rep.Records != 25 || rep.Tombstones != 5 || rep.Live != 15 {
		t.Errorf("records=%d tombstones=%d live=%d, want 25/5/15", rep.Records, rep.Tombstones, rep.Live)
	}
	if calls != rep.Segments || rep.Segments < 2 {
		t.Errorf("progress calls = %d, segments = %d", calls, rep.Segments)
	}
	if lastDone != lastTotal || lastDone != rep.Bytes {
		t.Errorf("final progress %d/%d, bytes %d", lastDone, lastTotal, rep.Bytes)
	}
}

func TestVerify_DetectsFlippedByte(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir)
	defer e.Close()
	mustPut(t, e, "a", "payload-a")
	mustPut(t, e, "b", "payload-b")

	// Flip the last byte of the first frame through the file; the shared
	// mapping sees the change.
	active, err := e.segments.Active()
	if err != nil {
		t.Fatal(err)
	}
	off := int64(segment.HeaderSize + record.Size(1, len("payload-a")) - 1)
	f, err := os.OpenFile(filepath.Join(dir, segment.FileName(active.ID())), os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	var b [1]byte
	if _, err := f.ReadAt(b[:], off); err != nil {
		t.Fatal(err)
	}
	b[0] ^= 0xFF
	if _, err := f.WriteAt(b[:], off); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	rep, err := e.Verify(context.Background(), nil)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rep.OK() {
		t.Fatal("Verify found no problems in a corrupted segment")
	}
	if p := rep.Problems[0]; p.SegmentID != active.ID() || p.Offset != segment.HeaderSize {
		t.Errorf("first problem = %+v, want segment %d offset %d", p, active.ID(), segment.HeaderSize)
	}
}

func TestVerify_WrongKey(t *testing.T) {
	dir := t.TempDir()
	c1, _ := adaptive.New(bytes.Repeat([]byte{1}, 32))
	c2, _ := adaptive.New(bytes.Repeat([]byte{2}, 32))

	e := openTest(t, dir, func(o *Options) { o.Cipher = c1 })
	for _, id := range []string{"a", "b", "c"} {
		mustPut(t, e, id, "secret")
	}
	_ = e.Close()

	e = openTest(t, dir, func(o *Options) { o.Cipher = c2 })
	defer e.Close()
	rep, err := e.Verify(context.Background(), nil)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(rep.Problems) != 3 {
		t.Errorf("problems = %d, want one per payload record", len(rep.Problems))
	}
}

func TestVerify_ClosedAndCancelled(t *testing.T) {
	e := openTest(t, t.TempDir())
	mustPut(t, e, "a", "1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Verify(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Verify with cancelled ctx = %v, want context.Canceled", err)
	}

	_ = e.Close()
	if _, err := e.Verify(context.Background(), nil); !errors.Is(err, domain.ErrEngineClosed) {
		t.Errorf("Verify after Close = %v, want ErrEngineClosed", err)
	}
}
