package benchmark

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"testing"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/meshstore/internal/storage"
)

// RecordCounts defines the preloaded record counts for benchmarking.
var RecordCounts = []int{10000, 50000, 100000, 500000}

// SmallRecordCounts for quick benchmarks.
var SmallRecordCounts = []int{1000, 5000, 10000}

// PayloadSizes are the payload sizes exercised by the write benchmarks.
var PayloadSizes = []int{64, 1024, 16384}

func newRecordID() []byte {
	return []byte(ulid.Make().String())
}

func randomPayload(n int) []byte {
	p := make([]byte, n)
	_, _ = rand.Read(p)
	return p
}

func sizeLabel(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%dMB", n>>20)
	case n >= 1<<10:
		return fmt.Sprintf("%dKB", n>>10)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

// openEngine opens an engine in a fresh directory.
func openEngine(b *testing.B, d storage.Durability, mutate ...func(*storage.Options)) *storage.Engine {
	b.Helper()
	opts := storage.DefaultOptions(d)
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, fn := range mutate {
		fn(&opts)
	}
	e, err := storage.Open(b.TempDir(), opts)
	if err != nil {
		b.Fatalf("Failed to open engine: %v", err)
	}
	b.Cleanup(func() { _ = e.Close() })
	return e
}

// prefill writes count records of payloadSize bytes and returns their ids.
func prefill(b *testing.B, e *storage.Engine, count, payloadSize int) [][]byte {
	b.Helper()
	ctx := context.Background()
	payload := randomPayload(payloadSize)
	ids := make([][]byte, count)
	for i := range ids {
		ids[i] = newRecordID()
		if _, err := e.Put(ctx, ids[i], payload); err != nil {
			b.Fatalf("Prefill put failed: %v", err)
		}
	}
	return ids
}

// reportMemory reports memory usage.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(m.NumGC), prefix+"_GC")
}

// runWithRecordCounts runs a benchmark function with various preload sizes.
func runWithRecordCounts(b *testing.B, counts []int, benchFn func(b *testing.B, count int)) {
	for _, count := range counts {
		b.Run(fmt.Sprintf("records_%d", count), func(b *testing.B) {
			benchFn(b, count)
		})
	}
}
