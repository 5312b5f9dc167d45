package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestScan_Empty(t *testing.T) {
	e := openTest(t, t.TempDir())
	defer e.Close()

	it := e.Scan(context.Background())
	defer it.Close()
	if it.Next() {
		t.Fatalf("Next on empty engine returned %q", it.ID())
	}
	if it.Err() != nil || it.Len() != 0 {
		t.Fatalf("Err = %v, Len = %d", it.Err(), it.Len())
	}
}

func TestScan_PointInTimeAndOrdered(t *testing.T) {
	e := openTest(t, t.TempDir())
	defer e.Close()
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		mustPut(t, e, id, "v-"+id)
	}

	it := e.Scan(ctx)
	defer it.Close()

	// Writes after the snapshot are not visible to it. An overwritten
	// record is still read from where the snapshot saw it.
	mustPut(t, e, "d", "v-d")
	mustPut(t, e, "b", "v-b2")
	if _, err := e.Delete(ctx, []byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var ids []string
	for it.Next() {
		ids = append(ids, string(it.ID()))
		if want := "v-" + string(it.ID()); string(it.Payload()) != want {
			t.Fatalf("payload of %s = %q, want %q", it.ID(), it.Payload(), want)
		}
	}
	if it.Err() != nil {
		t.Fatalf("scan: %v", it.Err())
	}
	if got := fmt.Sprint(ids); got != "[a b c]" {
		t.Fatalf("scan ids = %v, want [a b c]", got)
	}

	it.Reset()
	ids = ids[:0]
	for it.Next() {
		ids = append(ids, string(it.ID()))
	}
	if got := fmt.Sprint(ids); got != "[b c d]" {
		t.Fatalf("scan after Reset = %v, want [b c d]", got)
	}
}

func TestScan_ContextCancelled(t *testing.T) {
	e := openTest(t, t.TempDir())
	defer e.Close()
	mustPut(t, e, "a", "1")
	mustPut(t, e, "b", "2")

	ctx, cancel := context.WithCancel(context.Background())
	it := e.Scan(ctx)
	defer it.Close()
	if !it.Next() {
		t.Fatalf("first Next failed: %v", it.Err())
	}
	cancel()
	if it.Next() {
		t.Fatal("Next succeeded after cancel")
	}
	if !errors.Is(it.Err(), context.Canceled) {
		t.Fatalf("Err = %v, want context.Canceled", it.Err())
	}
}

func TestScan_IdentifiersAreCopies(t *testing.T) {
	e := openTest(t, t.TempDir())
	defer e.Close()
	mustPut(t, e, "key", "value")

	it := e.Scan(context.Background())
	defer it.Close()
	if !it.Next() {
		t.Fatalf("Next: %v", it.Err())
	}
	id := it.ID()
	copy(id, "XXX")
	if !bytes.Equal(mustGet(t, e, "key"), []byte("value")) {
		t.Fatal("mutating a scanned identifier changed stored state")
	}
}
