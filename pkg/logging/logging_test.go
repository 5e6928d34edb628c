package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVerboseControlsDebug(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, false).Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug record written without verbose: %q", buf.String())
	}

	NewWithWriter(&buf, true).Debug("shown", "case", "case01")
	if !strings.Contains(buf.String(), "case=case01") {
		t.Errorf("expected case attribute in %q", buf.String())
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctregions.log")
	logger, closer := New(Options{File: path, MaxSize: 1, MaxAge: 1})
	logger.Info("partitioned", "case", "case02")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "msg=partitioned") {
		t.Errorf("unexpected log content %q", data)
	}
}
