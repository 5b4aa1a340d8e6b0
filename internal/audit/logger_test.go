package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad audit line %q: %v", scanner.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func TestDisabledLoggerDropsEverything(t *testing.T) {
	logger, err := NewLogger(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	// Must not panic or block.
	logger.ToolInvoked("start_irrigation", "call_1", `{"zone":3}`)
	logger.LoopTerminated("completed", 2)
}

func TestFileOutputWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(Config{Enabled: true, Output: "file:" + path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.ToolInvoked("start_irrigation", "call_1", `{"zone":3}`)
	logger.ToolCompleted("start_irrigation", "call_1", true, "ok", 120*time.Millisecond)
	logger.ToolDenied("start_irrigation", "call_2", "operator declined")

	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := readEvents(t, path)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	if events[0].Type != EventToolInvocation || events[0].ToolCallID != "call_1" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[0].ID == "" || events[0].Timestamp.IsZero() {
		t.Error("event id and timestamp should be filled in")
	}
	if events[1].Type != EventToolCompletion || events[1].Level != LevelInfo {
		t.Errorf("second event = %+v", events[1])
	}
	if events[2].Type != EventToolDenied || events[2].Level != LevelWarn {
		t.Errorf("third event = %+v", events[2])
	}
}

func TestFailedToolCompletionIsWarn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(Config{Enabled: true, Output: "file:" + path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.ToolCompleted("search", "call_9", false, "Error: timeout", time.Second)
	logger.Close()

	events := readEvents(t, path)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Level != LevelWarn {
		t.Errorf("level = %q, want warn", events[0].Level)
	}
}

func TestTruncatesLongPayloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(Config{Enabled: true, Output: "file:" + path, MaxFieldSize: 10})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.ToolInvoked("search", "call_1", `{"query":"a very long query that keeps going"}`)
	logger.Close()

	events := readEvents(t, path)
	args, _ := events[0].Details["arguments"].(string)
	if len(args) > 10+len("...(truncated)") {
		t.Errorf("arguments not truncated: %q", args)
	}
}

func TestUnsupportedOutputRejected(t *testing.T) {
	if _, err := NewLogger(Config{Enabled: true, Output: "syslog"}); err == nil {
		t.Error("expected error for unsupported output")
	}
}
