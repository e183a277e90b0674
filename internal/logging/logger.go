// Package logging provides the process-wide honeypot log. Every record carries
// the identifier of the session that produced it so interleaved sessions can be
// reconstructed from a single file.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionField is the logrus field holding the session identifier.
const SessionField = "session"

// NoSession marks records produced outside any session (listener, startup).
const NoSession = "NONE"

// Direction tags session traffic records.
type Direction string

const (
	Input  Direction = "INPUT"
	Output Direction = "OUTPUT"
	System Direction = "SYSTEM"
)

// Config controls where records are written.
type Config struct {
	File   string
	Level  string
	Stderr bool
}

// Logger owns the log sink and hands out session-scoped entries.
type Logger struct {
	base  *logrus.Logger
	file  *os.File
	clock *monotonicHook

	closeOnce sync.Once
}

// New opens the append-only log file described by cfg.
func New(cfg Config) (*Logger, error) {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	var out io.Writer = f
	if cfg.Stderr {
		out = io.MultiWriter(f, os.Stderr)
	}

	l := NewWithWriter(out, level)
	l.file = f
	if !cfg.Stderr {
		// Startup failures must reach the terminal, not only the file.
		l.mirrorSevere(os.Stderr)
	}
	return l, nil
}

// NewWithWriter builds a Logger around an arbitrary writer.
func NewWithWriter(w io.Writer, level logrus.Level) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(level)
	base.SetFormatter(&Formatter{})

	clock := newMonotonicHook()
	base.AddHook(clock)

	return &Logger{base: base, clock: clock}
}

// mirrorSevere copies fatal and panic records to w.
func (l *Logger) mirrorSevere(w io.Writer) {
	l.base.AddHook(&mirrorHook{
		out:       w,
		formatter: &Formatter{},
		levels:    []logrus.Level{logrus.PanicLevel, logrus.FatalLevel},
	})
}

// Entry returns an entry for records outside any session.
func (l *Logger) Entry() *logrus.Entry {
	return l.base.WithField(SessionField, NoSession)
}

// ForSession returns an entry stamped with the given session id.
func (l *Logger) ForSession(id string) *logrus.Entry {
	return l.base.WithField(SessionField, id)
}

// EndSession drops per-session bookkeeping once a session is over.
func (l *Logger) EndSession(id string) {
	l.clock.forget(id)
}

// Close flushes and closes the underlying file, if any.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file == nil {
			return
		}
		if syncErr := l.file.Sync(); syncErr != nil {
			err = syncErr
		}
		if closeErr := l.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	return err
}

type ctxKey struct{}

// WithSession attaches a session-scoped entry to ctx.
func WithSession(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry)
}

// FromContext returns the entry bound by WithSession, falling back to the
// standard logger tagged with NoSession.
func FromContext(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if entry, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok && entry != nil {
			return entry
		}
	}
	return logrus.StandardLogger().WithField(SessionField, NoSession)
}

// Record writes one session traffic record at info level.
func Record(ctx context.Context, dir Direction, text string) {
	FromContext(ctx).Infof("%s: %s", dir, text)
}

// RecordWithFields is Record with extra key=value annotations.
func RecordWithFields(ctx context.Context, dir Direction, text string, fields logrus.Fields) {
	FromContext(ctx).WithFields(fields).Infof("%s: %s", dir, text)
}

// monotonicHook keeps each session's timestamps non-decreasing even if the
// wall clock steps backwards mid-session.
type monotonicHook struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newMonotonicHook() *monotonicHook {
	return &monotonicHook{last: make(map[string]time.Time)}
}

func (h *monotonicHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *monotonicHook) Fire(entry *logrus.Entry) error {
	id, _ := entry.Data[SessionField].(string)
	if id == "" || id == NoSession {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// Round(0) drops the monotonic reading so the comparison is on the
	// wall clock that ends up in the record.
	now := entry.Time.Round(0)
	if last, ok := h.last[id]; ok && now.Before(last) {
		entry.Time = last
		return nil
	}
	entry.Time = now
	h.last[id] = now
	return nil
}

func (h *monotonicHook) forget(id string) {
	h.mu.Lock()
	delete(h.last, id)
	h.mu.Unlock()
}

type mirrorHook struct {
	mu        sync.Mutex
	out       io.Writer
	formatter logrus.Formatter
	levels    []logrus.Level
}

func (h *mirrorHook) Levels() []logrus.Level {
	return h.levels
}

func (h *mirrorHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.out.Write(line)
	return err
}
