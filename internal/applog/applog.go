package applog

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix     = "settle-dash-"
	defaultMaxDays = 7
)

// DailyRotator is an io.Writer backed by one log file per calendar day.
// Files beyond maxDays are removed whenever a new day's file is opened.
type DailyRotator struct {
	mu      sync.Mutex
	dir     string
	day     string
	file    *os.File
	maxDays int
	now     func() time.Time
}

// NewDailyRotator returns a DailyRotator writing into dir. A maxDays below 1
// falls back to a week of history.
func NewDailyRotator(dir string, maxDays int) *DailyRotator {
	if maxDays < 1 {
		maxDays = defaultMaxDays
	}
	return &DailyRotator{dir: dir, maxDays: maxDays, now: time.Now}
}

// SetNow replaces the clock. Tests only.
func (r *DailyRotator) SetNow(fn func() time.Time) {
	r.mu.Lock()
	r.now = fn
	r.mu.Unlock()
}

func (r *DailyRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if day := r.now().Format(time.DateOnly); day != r.day {
		if err := r.openDay(day); err != nil {
			return 0, err
		}
	}
	return r.file.Write(p)
}

// FileName returns the log file name used for the given day.
func FileName(day time.Time) string {
	return filePrefix + day.Format(time.DateOnly) + ".log"
}

func (r *DailyRotator) openDay(day string) error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	path := filepath.Join(r.dir, filePrefix+day+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	r.file = f
	r.day = day
	r.prune()
	return nil
}

func (r *DailyRotator) prune() {
	files, err := filepath.Glob(filepath.Join(r.dir, filePrefix+"*.log"))
	if err != nil || len(files) <= r.maxDays {
		return
	}
	// Date-stamped names sort chronologically.
	sort.Strings(files)
	for _, f := range files[:len(files)-r.maxDays] {
		os.Remove(f)
	}
}

// Close closes the current day's file.
func (r *DailyRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.day = ""
	return err
}

// InitConfig holds configuration for Init.
type InitConfig struct {
	LogDir   string
	LogLevel string
	MaxDays  int
}

// Init points slog.Default and the stdlib log package at a daily-rotating
// file in cfg.LogDir. The terminal belongs to the UI, so nothing is written
// to stderr once Init succeeds. The caller must Close the returned io.Closer.
func Init(cfg InitConfig) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	rotator := NewDailyRotator(cfg.LogDir, cfg.MaxDays)
	logger := slog.New(slog.NewTextHandler(rotator, &slog.HandlerOptions{
		Level: ParseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)
	log.SetOutput(rotator)
	log.SetFlags(0)
	return logger, rotator, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel converts a level name to slog.Level. Unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
