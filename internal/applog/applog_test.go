package applog_test

import (
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zsprackett/settle-dash/internal/applog"
)

func TestDailyRotator_CreatesFileOnFirstWrite(t *testing.T) {
	dir := t.TempDir()
	r := applog.NewDailyRotator(dir, 7)
	defer r.Close()

	if _, err := r.Write([]byte("hello\n")); err != nil {
		t.Fatal(err)
	}

	name := filepath.Join(dir, applog.FileName(time.Now()))
	if _, err := os.Stat(name); err != nil {
		t.Errorf("expected log file %q to exist: %v", name, err)
	}
}

func TestDailyRotator_RotatesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	r := applog.NewDailyRotator(dir, 2)

	for day := 1; day <= 4; day++ {
		d := day
		r.SetNow(func() time.Time { return time.Date(2026, 3, d, 9, 0, 0, 0, time.UTC) })
		if _, err := r.Write([]byte("entry\n")); err != nil {
			t.Fatal(err)
		}
	}
	r.Close()

	matches, _ := filepath.Glob(filepath.Join(dir, "settle-dash-*.log"))
	if len(matches) != 2 {
		t.Fatalf("expected 2 log files after pruning, got %d: %v", len(matches), matches)
	}
	for _, name := range matches {
		base := filepath.Base(name)
		if base == "settle-dash-2026-03-01.log" || base == "settle-dash-2026-03-02.log" {
			t.Errorf("old file %q should have been pruned", base)
		}
	}
}

func TestNewDailyRotator_ZeroMaxDaysKeepsAWeek(t *testing.T) {
	dir := t.TempDir()
	r := applog.NewDailyRotator(dir, 0)
	for day := 1; day <= 9; day++ {
		d := day
		r.SetNow(func() time.Time { return time.Date(2026, 3, d, 9, 0, 0, 0, time.UTC) })
		r.Write([]byte("x\n"))
	}
	r.Close()

	matches, _ := filepath.Glob(filepath.Join(dir, "settle-dash-*.log"))
	if len(matches) != 7 {
		t.Errorf("expected 7 files, got %d", len(matches))
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		level slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" ERROR ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := applog.ParseLevel(tc.input); got != tc.level {
			t.Errorf("ParseLevel(%q): got %v want %v", tc.input, got, tc.level)
		}
	}
}

func TestInit_RedirectsStdlibLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	prev := slog.Default()
	defer slog.SetDefault(prev)
	logger, closer, err := applog.Init(applog.InitConfig{LogDir: dir, LogLevel: "debug"})
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()
	defer log.SetOutput(os.Stderr)

	logger.Debug("realtime: frame dropped", "reason", "marker-slog")
	log.Print("marker-stdlib")

	data, err := os.ReadFile(filepath.Join(dir, applog.FileName(time.Now())))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"marker-slog", "marker-stdlib"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file missing %q: %q", want, string(data))
		}
	}
}
