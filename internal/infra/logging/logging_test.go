//go:build !integration

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestRedact(t *testing.T) {
	t.Run("should keep values in dev mode", func(t *testing.T) {
		if got := Redact("0x1234567890abcdef", true); got != "0x1234567890abcdef" {
			t.Errorf("got %s", got)
		}
	})
	t.Run("should shorten long values", func(t *testing.T) {
		if got := Redact("0x1234567890abcdef", false); got != "0x1234...cdef" {
			t.Errorf("got %s", got)
		}
	})
	t.Run("should hide short values", func(t *testing.T) {
		if got := Redact("0xabc", false); got != "***" {
			t.Errorf("got %s", got)
		}
	})
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	ctx := WithTraceID(context.Background(), "t-1")
	ctx = WithLinkID(ctx, "abcd1234")

	With(ctx, &base).Info().Msg("hello")

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if got["trace_id"] != "t-1" || got["link_id"] != "abcd1234" {
		t.Errorf("expected ctx fields in %v", got)
	}
	if _, ok := got["subscription_id"]; ok {
		t.Error("unset fields must not be logged")
	}
	if TraceID(ctx) != "t-1" {
		t.Errorf("expected trace id t-1, got %q", TraceID(ctx))
	}
}
