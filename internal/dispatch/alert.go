package dispatch

import (
	"errors"
	"time"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelError   Level = "error"
)

// Alert is a transient user-facing notice.
type Alert struct {
	Level    Level
	Message  string
	Duration time.Duration
	Sound    bool
}

const DefaultDuration = 4 * time.Second

// AlertSink renders alerts and plays the notification tone.
type AlertSink interface {
	Show(a Alert) error
	Beep() error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Show(Alert) error { return nil }
func (NopSink) Beep() error      { return nil }

// MultiSink forwards to every sink and joins their errors.
type MultiSink []AlertSink

func (m MultiSink) Show(a Alert) error {
	var errs []error
	for _, s := range m {
		if err := s.Show(a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Beep() error {
	var errs []error
	for _, s := range m {
		if err := s.Beep(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
