package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
}

func TestFormatterRendersUTCMillis(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, logrus.InfoLevel)

	loc := time.FixedZone("UTC+9", 9*60*60)
	ts := time.Date(2024, 5, 1, 21, 30, 15, 123456789, loc)
	l.ForSession("session-abc").WithTime(ts).Info("INPUT: ls -la")

	assert.Equal(t, "2024-05-01T12:30:15.123Z INFO:session-abc INPUT: ls -la\n", buf.String())
}

func TestEntryOutsideSessionUsesSentinel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, logrus.InfoLevel)

	l.Entry().WithField("peer", "10.0.0.7").Info("SSH connection received from 10.0.0.7.")

	out := buf.String()
	assert.Contains(t, out, " INFO:NONE SSH connection received from 10.0.0.7.")
	assert.Contains(t, out, " peer=10.0.0.7\n")
}

func TestMultilineMessageStaysOnOneLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, logrus.InfoLevel)

	l.ForSession("s1").Info("OUTPUT: total 0\r\nroot@box:~# ")

	got := lines(&buf)
	require.Len(t, got, 1)
	assert.True(t, strings.HasSuffix(got[0], `OUTPUT: total 0\r\nroot@box:~# `))
}

func TestFieldValuesAreQuotedWhenNeeded(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, logrus.InfoLevel)

	l.Entry().WithField("cause", "connection reset by peer").Error("SSH connection error")

	assert.Contains(t, buf.String(), `ERROR:NONE SSH connection error cause="connection reset by peer"`)
}

func TestSessionTimestampsNeverGoBackwards(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, logrus.InfoLevel)

	later := time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC)
	earlier := later.Add(-time.Second)

	entry := l.ForSession("s1")
	entry.WithTime(later).Info("INPUT: a")
	entry.WithTime(earlier).Info("OUTPUT: b")
	l.ForSession("s2").WithTime(earlier).Info("INPUT: c")

	got := lines(&buf)
	require.Len(t, got, 3)
	assert.True(t, strings.HasPrefix(got[0], "2024-05-01T12:00:01.000Z"))
	assert.True(t, strings.HasPrefix(got[1], "2024-05-01T12:00:01.000Z"), "clamped to previous record")
	assert.True(t, strings.HasPrefix(got[2], "2024-05-01T12:00:00.000Z"), "other sessions are independent")

	l.EndSession("s1")
	entry.WithTime(earlier).Info("INPUT: d")
	got = lines(&buf)
	assert.True(t, strings.HasPrefix(got[3], "2024-05-01T12:00:00.000Z"))
}

func TestSessionClockIgnoresMonotonicReading(t *testing.T) {
	hook := newMonotonicHook()

	first := &logrus.Entry{Time: time.Now(), Data: logrus.Fields{SessionField: "s1"}}
	require.NoError(t, hook.Fire(first))
	assert.NotContains(t, first.Time.String(), "m=", "stored time must be wall clock only")

	// A wall clock stepped back an hour, as after an NTP correction.
	stepped := &logrus.Entry{Time: time.Now().Round(0).Add(-time.Hour), Data: logrus.Fields{SessionField: "s1"}}
	require.NoError(t, hook.Fire(stepped))
	assert.False(t, stepped.Time.Before(first.Time), "timestamp went backwards: %s < %s", stepped.Time, first.Time)

	next := &logrus.Entry{Time: time.Now(), Data: logrus.Fields{SessionField: "s1"}}
	require.NoError(t, hook.Fire(next))
	assert.False(t, next.Time.Before(first.Time))
	assert.NotContains(t, next.Time.String(), "m=")
}

func TestSessionRecordsStayOrderedAfterClockStep(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, logrus.InfoLevel)

	now := time.Now()
	entry := l.ForSession("s1")
	entry.WithTime(now).Info("INPUT: a")
	entry.WithTime(now.Round(0).Add(-time.Hour)).Info("OUTPUT: b")

	got := lines(&buf)
	require.Len(t, got, 2)
	first := strings.SplitN(got[0], " ", 2)[0]
	second := strings.SplitN(got[1], " ", 2)[0]
	assert.Equal(t, first, second)
}

func TestSevereRecordsAreMirrored(t *testing.T) {
	var file, terminal bytes.Buffer
	l := NewWithWriter(&file, logrus.InfoLevel)
	l.mirrorSevere(&terminal)

	exited := 0
	l.base.ExitFunc = func(code int) { exited = code }

	l.Entry().Error("SSH connection error")
	assert.Empty(t, terminal.String())

	l.Entry().Fatalf("failed to load host key: %s", "open ssh_host_key: no such file or directory")
	assert.Equal(t, 1, exited)
	assert.Contains(t, terminal.String(), "FATAL:NONE failed to load host key: open ssh_host_key")
	assert.Contains(t, file.String(), "FATAL:NONE failed to load host key")
}

func TestRecordUsesContextEntry(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, logrus.InfoLevel)

	ctx := WithSession(context.Background(), l.ForSession("session-42"))
	Record(ctx, Input, "whoami")
	Record(ctx, Output, "root")

	got := lines(&buf)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "INFO:session-42 INPUT: whoami")
	assert.Contains(t, got[1], "INFO:session-42 OUTPUT: root")
}

func TestFromContextFallback(t *testing.T) {
	entry := FromContext(context.Background())
	assert.Equal(t, NoSession, entry.Data[SessionField])
}

func TestNewAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ssh_log.log")
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0600))

	l, err := New(Config{File: path, Level: "debug"})
	require.NoError(t, err)
	l.Entry().Debug("started")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "existing\n"))
	assert.Contains(t, string(data), "DEBUG:NONE started")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{File: filepath.Join(t.TempDir(), "x.log"), Level: "loud"})
	assert.Error(t, err)
}
