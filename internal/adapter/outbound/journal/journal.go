// Package journal persists a JSON Lines record of session open/close
// outcomes with daily rotation, size caps, and retention cleanup. The
// journal is the local audit trail for what was (or failed to be)
// reported to the collection API.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Record is one journal entry.
type Record struct {
	// Time is when the operation completed.
	Time time.Time `json:"time"`

	// Op is "open", "close", or "retry_close".
	Op string `json:"op"`

	// Scope is "global", "window", "tab", or "domain".
	Scope string `json:"scope"`

	// SessionID is the composed session id the operation addressed.
	SessionID string `json:"session_id"`

	// ServerID is the server-assigned id, when known.
	ServerID int64 `json:"server_id,omitempty"`

	// Outcome is "ok" or "error".
	Outcome string `json:"outcome"`

	// Detail carries the error text on failures.
	Detail string `json:"detail,omitempty"`
}

// Config holds configuration for the file journal.
type Config struct {
	// Dir is the directory where journal files are stored.
	Dir string
	// RetentionDays is the number of days to keep files (default 7).
	RetentionDays int
	// MaxFileSizeMB is the maximum file size before rotation (default 100).
	MaxFileSizeMB int
}

// fileInfo holds parsed information about a journal file.
type fileInfo struct {
	name   string
	date   string
	suffix int
}

// filePattern matches journal filenames: sessions-YYYY-MM-DD.log or
// sessions-YYYY-MM-DD-N.log.
var filePattern = regexp.MustCompile(`^sessions-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

func parseFilename(name string) (fileInfo, bool) {
	matches := filePattern.FindStringSubmatch(name)
	if matches == nil {
		return fileInfo{}, false
	}
	info := fileInfo{name: name, date: matches[1]}
	if matches[2] != "" {
		n, err := strconv.Atoi(matches[2])
		if err != nil {
			return fileInfo{}, false
		}
		info.suffix = n
	}
	return info, true
}

// FileJournal appends records to rotating JSONL files.
type FileJournal struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	currentFile   *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	mu            sync.Mutex
	logger        *slog.Logger
	cancel        context.CancelFunc
	closed        bool
}

// NewFileJournal creates the journal directory if needed, opens today's
// file, runs retention cleanup, and starts the hourly cleanup goroutine.
func NewFileJournal(cfg Config, logger *slog.Logger) (*FileJournal, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &FileJournal{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		cancel:        cancel,
	}

	today := time.Now().UTC().Format("2006-01-02")
	if err := j.openCurrentFile(today); err != nil {
		cancel()
		return nil, fmt.Errorf("open journal file: %w", err)
	}

	j.runCleanup()
	go j.cleanupLoop(ctx)

	return j, nil
}

// Append writes records as JSON lines, rotating by date and size.
func (j *FileJournal) Append(records ...Record) error {
	if len(records) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return fmt.Errorf("journal is closed")
	}

	for _, rec := range records {
		dateStr := rec.Time.UTC().Format("2006-01-02")
		if dateStr != j.currentDate {
			if err := j.rotateDateLocked(dateStr); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if j.currentSize >= j.maxFileSize {
			if err := j.rotateSizeLocked(); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal journal record: %w", err)
		}
		line := append(data, '\n')
		n, err := j.currentFile.Write(line)
		if err != nil {
			return fmt.Errorf("write journal record: %w", err)
		}
		j.currentSize += int64(n)
	}
	return nil
}

// Close stops the cleanup goroutine and closes the current file.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	j.cancel()

	if j.currentFile != nil {
		_ = j.currentFile.Sync()
		err := j.currentFile.Close()
		j.currentFile = nil
		return err
	}
	return nil
}

// openCurrentFile opens or creates the journal file for the given date,
// resuming the highest existing suffix.
func (j *FileJournal) openCurrentFile(dateStr string) error {
	suffix := j.findHighestSuffix(dateStr)
	f, size, err := j.openFile(dateStr, suffix)
	if err != nil {
		return err
	}
	j.currentFile = f
	j.currentDate = dateStr
	j.currentSize = size
	j.currentSuffix = suffix
	return nil
}

func (j *FileJournal) findHighestSuffix(dateStr string) int {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return 0
	}
	highest := 0
	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if !ok || info.date != dateStr {
			continue
		}
		if info.suffix > highest {
			highest = info.suffix
		}
	}
	return highest
}

func (j *FileJournal) openFile(dateStr string, suffix int) (*os.File, int64, error) {
	filename := j.buildFilename(dateStr, suffix)
	path := filepath.Join(j.dir, filename)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, 0, fmt.Errorf("open file %s: %w", filename, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat file %s: %w", filename, err)
	}
	return f, info.Size(), nil
}

func (j *FileJournal) buildFilename(dateStr string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("sessions-%s.log", dateStr)
	}
	return fmt.Sprintf("sessions-%s-%d.log", dateStr, suffix)
}

// rotateDateLocked closes the current file and opens one for the new
// date. Must be called with j.mu held.
func (j *FileJournal) rotateDateLocked(dateStr string) error {
	if j.currentFile != nil {
		_ = j.currentFile.Sync()
		_ = j.currentFile.Close()
		j.currentFile = nil
	}
	j.currentSuffix = 0
	j.currentSize = 0
	j.currentDate = dateStr

	f, size, err := j.openFile(dateStr, 0)
	if err != nil {
		return err
	}
	j.currentFile = f
	j.currentSize = size
	return nil
}

// rotateSizeLocked opens a new file with an incremented suffix. Must be
// called with j.mu held.
func (j *FileJournal) rotateSizeLocked() error {
	if j.currentFile != nil {
		_ = j.currentFile.Sync()
		_ = j.currentFile.Close()
		j.currentFile = nil
	}
	j.currentSuffix++

	f, size, err := j.openFile(j.currentDate, j.currentSuffix)
	if err != nil {
		return err
	}
	j.currentFile = f
	j.currentSize = size
	return nil
}

// runCleanup removes journal files older than the retention window.
func (j *FileJournal) runCleanup() {
	cutoff := time.Now().UTC().AddDate(0, 0, -j.retentionDays).Format("2006-01-02")

	entries, err := os.ReadDir(j.dir)
	if err != nil {
		j.logger.Warn("journal cleanup: read dir failed", "error", err)
		return
	}

	var files []fileInfo
	for _, e := range entries {
		if info, ok := parseFilename(e.Name()); ok {
			files = append(files, info)
		}
	}
	sort.Slice(files, func(a, b int) bool {
		if files[a].date != files[b].date {
			return files[a].date < files[b].date
		}
		return files[a].suffix < files[b].suffix
	})

	for _, f := range files {
		if f.date >= cutoff {
			break
		}
		path := filepath.Join(j.dir, f.name)
		if err := os.Remove(path); err != nil {
			j.logger.Warn("journal cleanup: remove failed", "file", f.name, "error", err)
			continue
		}
		j.logger.Debug("journal file expired", "file", f.name)
	}
}

func (j *FileJournal) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runCleanup()
		}
	}
}
