package journal

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestAppendWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	j, err := NewFileJournal(Config{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("NewFileJournal: %v", err)
	}
	defer j.Close()

	now := time.Now().UTC()
	recs := []Record{
		{Time: now, Op: "open", Scope: "window", SessionID: "global-session-x-windowId-1", ServerID: 5, Outcome: "ok"},
		{Time: now, Op: "close", Scope: "domain", SessionID: "d1", Outcome: "error", Detail: "connection refused"},
	}
	if err := j.Append(recs...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	path := filepath.Join(dir, "sessions-"+now.Format("2006-01-02")+".log")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal file: %v", err)
	}
	defer f.Close()

	var lines []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		lines = append(lines, rec)
	}
	if len(lines) != 2 {
		t.Fatalf("journal has %d lines, want 2", len(lines))
	}
	if lines[0].Op != "open" || lines[0].ServerID != 5 {
		t.Errorf("first record = %+v", lines[0])
	}
	if lines[1].Outcome != "error" || lines[1].Detail != "connection refused" {
		t.Errorf("second record = %+v", lines[1])
	}
}

func TestSizeRotation(t *testing.T) {
	dir := t.TempDir()
	j, err := NewFileJournal(Config{Dir: dir, MaxFileSizeMB: 1}, testLogger())
	if err != nil {
		t.Fatalf("NewFileJournal: %v", err)
	}
	defer j.Close()

	// Force rotation by pretending the current file is already full.
	j.mu.Lock()
	j.currentSize = j.maxFileSize
	j.mu.Unlock()

	if err := j.Append(Record{Time: time.Now().UTC(), Op: "open", Scope: "tab", SessionID: "t1", Outcome: "ok"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	date := time.Now().UTC().Format("2006-01-02")
	if _, err := os.Stat(filepath.Join(dir, "sessions-"+date+"-1.log")); err != nil {
		t.Errorf("expected rotated file with suffix 1: %v", err)
	}
}

func TestRetentionCleanup(t *testing.T) {
	dir := t.TempDir()

	old := time.Now().UTC().AddDate(0, 0, -30).Format("2006-01-02")
	oldPath := filepath.Join(dir, "sessions-"+old+".log")
	if err := os.WriteFile(oldPath, []byte("{}\n"), 0600); err != nil {
		t.Fatalf("write old file: %v", err)
	}

	j, err := NewFileJournal(Config{Dir: dir, RetentionDays: 7}, testLogger())
	if err != nil {
		t.Fatalf("NewFileJournal: %v", err)
	}
	defer j.Close()

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Error("expected expired journal file to be removed at startup")
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	j, err := NewFileJournal(Config{Dir: t.TempDir()}, testLogger())
	if err != nil {
		t.Fatalf("NewFileJournal: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := j.Append(Record{Time: time.Now(), Op: "open"}); err == nil {
		t.Error("Append after Close succeeded, want error")
	}

	// Close is idempotent.
	if err := j.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		name   string
		ok     bool
		date   string
		suffix int
	}{
		{"sessions-2026-03-01.log", true, "2026-03-01", 0},
		{"sessions-2026-03-01-3.log", true, "2026-03-01", 3},
		{"sessions-garbage.log", false, "", 0},
		{"other-2026-03-01.log", false, "", 0},
	}
	for _, tt := range tests {
		info, ok := parseFilename(tt.name)
		if ok != tt.ok {
			t.Errorf("parseFilename(%q) ok = %v, want %v", tt.name, ok, tt.ok)
			continue
		}
		if ok && (info.date != tt.date || info.suffix != tt.suffix) {
			t.Errorf("parseFilename(%q) = %+v", tt.name, info)
		}
	}
}
