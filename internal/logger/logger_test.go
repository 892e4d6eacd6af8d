package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestContextFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "info", Format: "json", Output: &buf, ServiceName: "test"})

	ctx := l.WithContext(context.Background())
	ctx = SetRunID(ctx, "run-1")
	ctx = SetProjectID(ctx, 42)

	With(Fields{FieldCount: 3}).Info(ctx, "processed %d", 3)

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}

	if line["message"] != "processed 3" {
		t.Errorf("unexpected message: %v", line["message"])
	}
	if line[FieldRunID] != "run-1" {
		t.Errorf("expected run_id run-1, got %v", line[FieldRunID])
	}
	if line[FieldProjectID] != float64(42) {
		t.Errorf("expected project_id 42, got %v", line[FieldProjectID])
	}
	if line[FieldCount] != float64(3) {
		t.Errorf("expected count 3, got %v", line[FieldCount])
	}
	if line["service"] != "test" {
		t.Errorf("expected service tag, got %v", line["service"])
	}
	if GetRunID(ctx) != "run-1" {
		t.Errorf("GetRunID mismatch: %q", GetRunID(ctx))
	}
}

func TestFromContextOr(t *testing.T) {
	fallback := New(&Config{Output: &bytes.Buffer{}, ServiceName: "fallback"})
	if got := FromContextOr(context.Background(), fallback); got != fallback {
		t.Error("expected fallback logger for bare context")
	}

	attached := New(&Config{Output: &bytes.Buffer{}, ServiceName: "attached"})
	ctx := attached.WithContext(context.Background())
	if got := FromContextOr(ctx, fallback); got != attached {
		t.Error("expected context logger to win over fallback")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "warn", Output: &buf})
	ctx := l.WithContext(context.Background())

	CtxInfo(ctx, "hidden")
	if buf.Len() != 0 {
		t.Errorf("info line leaked at warn level: %s", buf.String())
	}
	CtxWarn(ctx, "shown")
	if buf.Len() == 0 {
		t.Error("warn line was dropped")
	}
}
