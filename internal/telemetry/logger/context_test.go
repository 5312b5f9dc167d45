package logger

import (
	"context"
	"testing"
)

func TestWithLogger_FromContext(t *testing.T) {
	l, buf := newBufLogger(t, "info")
	ctx := WithLogger(context.Background(), l)

	FromContext(ctx).Info("test message")
	if buf.Len() == 0 {
		t.Error("logger from context produced no output")
	}
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) != Default() {
		t.Error("FromContext without a logger should return Default()")
	}
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("RequestIDFromContext(empty) = %q", got)
	}
	ctx = WithRequestID(ctx, "01J0000000000000000000000")
	if got := RequestIDFromContext(ctx); got != "01J0000000000000000000000" {
		t.Fatalf("RequestIDFromContext = %q", got)
	}
}

func TestL_AddsRequestID(t *testing.T) {
	l, buf := newBufLogger(t, "info")
	ctx := WithRequestID(WithLogger(context.Background(), l), "req-1")

	L(ctx).Info("handled")
	if entry := decodeLine(t, buf); entry["request_id"] != "req-1" {
		t.Fatalf("request_id = %v, want req-1", entry["request_id"])
	}
}

func TestL_NoRequestID(t *testing.T) {
	l, buf := newBufLogger(t, "info")
	L(WithLogger(context.Background(), l)).Info("handled")
	if _, ok := decodeLine(t, buf)["request_id"]; ok {
		t.Fatal("request_id present without one in context")
	}
}
