package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/llmpot/internal/analysis/command"
	"github.com/zhouzirui/llmpot/internal/logging"
	"github.com/zhouzirui/llmpot/internal/service/ai"
	chatService "github.com/zhouzirui/llmpot/internal/service/chat"
	"github.com/zhouzirui/llmpot/internal/service/monitor"
)

var (
	// ErrInterrupted is returned by a Conn when the client sends an interrupt.
	ErrInterrupted = errors.New("session interrupted by client")
	// ErrMalformedLine marks a single unusable input line; the session goes on.
	ErrMalformedLine = errors.New("malformed input line")
)

// MaxLineLength bounds a single input line in bytes.
const MaxLineLength = 4096

const (
	idPrefix      = "session-"
	defaultPrompt = "$ "
)

// Conn is the line-oriented view of an interactive channel.
type Conn interface {
	ReadLine(ctx context.Context) (string, error)
	Write(text string) error
	Close() error
}

// ConnInfo describes the authenticated client behind a Conn.
type ConnInfo struct {
	Username   string
	RemoteAddr string
	// PersonaID overrides the configured persona when set.
	PersonaID string
}

// Engine produces the fake shell's responses.
type Engine interface {
	SystemPrompt(personaID, username string) (string, error)
	Submit(ctx context.Context, sessionID, text string) error
	Complete(ctx context.Context, sessionID string) (string, error)
}

// Config controls retries and the persona a session runs on.
type Config struct {
	PersonaID      string
	MaxRetries     int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	FailureMessage string
}

// Manager runs the read-respond loop of every interactive session.
type Manager struct {
	engine   Engine
	sessions *chatService.Service
	logger   *logging.Logger
	events   monitor.Publisher
	cfg      Config
}

// NewManager wires the session loop. events may be nil.
func NewManager(engine Engine, sessions *chatService.Service, logger *logging.Logger, events monitor.Publisher, cfg Config) *Manager {
	return &Manager{
		engine:   engine,
		sessions: sessions,
		logger:   logger,
		events:   events,
		cfg:      cfg,
	}
}

// Run serves one session until the client disconnects, interrupts or ctx is
// cancelled, all of which return nil. conn is always closed and the session
// removed from the registry before Run returns.
func (m *Manager) Run(ctx context.Context, conn Conn, info ConnInfo) error {
	defer conn.Close()

	id := idPrefix + uuid.NewString()
	ctx = logging.WithSession(ctx, m.logger.ForSession(id))
	defer m.logger.EndSession(id)

	personaID := info.PersonaID
	if personaID == "" {
		personaID = m.cfg.PersonaID
	}

	system, err := m.engine.SystemPrompt(personaID, info.Username)
	if err != nil {
		return fmt.Errorf("build system prompt: %w", err)
	}
	if _, err := m.sessions.CreateSession(ctx, chatService.CreateParams{
		ID:           id,
		Username:     info.Username,
		PersonaID:    personaID,
		RemoteAddr:   info.RemoteAddr,
		SystemPrompt: system,
	}); err != nil {
		return fmt.Errorf("register session: %w", err)
	}

	s := &run{Manager: m, id: id, info: info, conn: conn, prompt: defaultPrompt}
	logging.Record(ctx, logging.System, fmt.Sprintf("session opened for %s from %s", info.Username, info.RemoteAddr))
	s.publish(monitor.KindOpen, "")

	defer func() {
		if err := m.sessions.CloseSession(context.WithoutCancel(ctx), id); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("failed to drop session")
		}
		logging.Record(ctx, logging.System, "session closed")
		s.publish(monitor.KindClose, "")
	}()

	return s.loop(ctx)
}

// run is the state of one live session.
type run struct {
	*Manager
	id     string
	info   ConnInfo
	conn   Conn
	prompt string
}

func (s *run) loop(ctx context.Context) error {
	// The greeting is the reply to an empty first input and is written
	// before anything is read.
	if err := s.exchange(ctx, ""); err != nil {
		return s.terminal(ctx, err)
	}

	for {
		line, err := s.conn.ReadLine(ctx)
		if errors.Is(err, ErrMalformedLine) {
			logging.FromContext(ctx).WithError(err).Warn("skipping input line")
			continue
		}
		if err != nil {
			return s.terminal(ctx, err)
		}

		line = strings.TrimRight(line, "\r\n")
		if len(line) > MaxLineLength || !utf8.ValidString(line) {
			logging.FromContext(ctx).WithField("bytes", len(line)).Warnf("skipping input line: %v", ErrMalformedLine)
			continue
		}

		s.recordInput(ctx, line)

		if err := s.exchange(ctx, line); err != nil {
			return s.terminal(ctx, err)
		}
	}
}

// exchange appends text as a user turn and writes the reply, falling back to
// the failure message once every retry is spent.
func (s *run) exchange(ctx context.Context, text string) error {
	if err := s.engine.Submit(ctx, s.id, text); err != nil {
		return fmt.Errorf("append user turn: %w", err)
	}

	response, err := s.completeWithRetry(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.FromContext(ctx).WithError(err).Error("response generation gave up")
		response = s.cfg.FailureMessage + s.prompt
	} else {
		if prompt := ai.PromptOf(response); strings.TrimSpace(prompt) != "" {
			s.prompt = prompt
		}
	}

	if err := s.conn.Write(response); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	logging.Record(ctx, logging.Output, response)
	s.publish(monitor.KindOutput, response)
	return nil
}

func (s *run) completeWithRetry(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt, s.cfg.BaseBackoff, s.cfg.MaxBackoff)
			logging.FromContext(ctx).
				WithField("attempt", attempt).
				WithField("delay", delay).
				Warnf("retrying response generation: %v", lastErr)
			if err := sleep(ctx, delay); err != nil {
				return "", err
			}
		}

		response, err := s.engine.Complete(ctx, s.id)
		if err == nil {
			return response, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
	}
	return "", lastErr
}

// terminal maps the error that ended the loop onto Run's result.
func (s *run) terminal(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, io.EOF):
		logging.FromContext(ctx).Debug("client closed input")
		return nil
	case errors.Is(err, ErrInterrupted):
		logging.FromContext(ctx).Debug("client interrupted session")
		return nil
	case ctx.Err() != nil:
		return nil
	}
	return err
}

// recordInput logs and publishes an input line, tagged with its tactic when
// one is recognised.
func (s *run) recordInput(ctx context.Context, line string) {
	decision := command.Classify(line)
	if decision.Tactic == command.None {
		logging.Record(ctx, logging.Input, line)
		s.publishEvent(monitor.Event{Kind: monitor.KindInput, Text: line})
		return
	}

	logging.RecordWithFields(ctx, logging.Input, line, logrus.Fields{"tactic": string(decision.Tactic)})
	s.publishEvent(monitor.Event{Kind: monitor.KindInput, Text: line, Tactic: string(decision.Tactic)})
}

func (s *run) publish(kind monitor.Kind, text string) {
	s.publishEvent(monitor.Event{Kind: kind, Text: text})
}

func (s *run) publishEvent(ev monitor.Event) {
	if s.events == nil {
		return
	}
	ev.SessionID = s.id
	ev.Username = s.info.Username
	ev.RemoteAddr = s.info.RemoteAddr
	ev.Time = time.Now().UTC()
	s.events.Publish(ev)
}

// backoff doubles base per attempt, capped at max.
func backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
