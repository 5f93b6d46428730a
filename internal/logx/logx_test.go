// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
)

func TestWithWorkerAddsFields(t *testing.T) {
	capture := &logCapture{}
	log := WithWorker(capture.logger(), "completion", "abc")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["family"] != "completion" {
		t.Fatalf("expected family field, got %+v", entry)
	}
	if entry["worker"] != "abc" {
		t.Fatalf("expected worker field, got %+v", entry)
	}
}

func TestWithTaskSkipsEmptyID(t *testing.T) {
	capture := &logCapture{}
	WithTask(capture.logger(), "").Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["task"]; ok {
		t.Fatalf("did not expect task field, got %+v", entry)
	}
}

func TestOrPrefersExplicitLogger(t *testing.T) {
	capture := &logCapture{}
	other := &logCapture{}
	ctx := pslog.ContextWithLogger(context.Background(), other.logger())

	Or(capture.logger(), ctx).Info("explicit")
	Or(nil, ctx).Info("from context")

	if !bytes.Contains(capture.buf.Bytes(), []byte("explicit")) {
		t.Fatalf("explicit logger missing entry: %s", capture.buf.String())
	}
	if bytes.Contains(other.buf.Bytes(), []byte("explicit")) {
		t.Fatal("context logger received the explicit entry")
	}
	if !bytes.Contains(other.buf.Bytes(), []byte("from context")) {
		t.Fatalf("context logger missing entry: %s", other.buf.String())
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) logger() pslog.Logger {
	return pslog.NewWithOptions(c, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
