package sshd

import (
	"bufio"
	"context"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"github.com/zhouzirui/llmpot/internal/service/session"
)

type lineResult struct {
	line string
	err  error
}

// lineConn adapts an SSH session channel to session.Conn. With a pty the
// input goes through a line-editing terminal with echo; without one lines are
// read raw.
type lineConn struct {
	ch   ssh.Channel
	term *term.Terminal
	raw  *bufio.Reader

	pending []string
	lines   chan lineResult
	done    chan struct{}

	interrupt chan struct{}

	startOnce     sync.Once
	interruptOnce sync.Once
	closeOnce     sync.Once
}

func newPTYConn(ch ssh.Channel, cols, rows int) *lineConn {
	c := newLineConn(ch)
	c.term = term.NewTerminal(ch, "")
	if cols > 0 && rows > 0 {
		_ = c.term.SetSize(cols, rows)
	}
	return c
}

func newRawConn(ch ssh.Channel) *lineConn {
	c := newLineConn(ch)
	c.raw = bufio.NewReader(ch)
	return c
}

func newLineConn(ch ssh.Channel) *lineConn {
	return &lineConn{
		ch:        ch,
		lines:     make(chan lineResult),
		done:      make(chan struct{}),
		interrupt: make(chan struct{}),
	}
}

// Prepend queues lines that ReadLine returns before any client input.
func (c *lineConn) Prepend(lines ...string) {
	c.pending = append(c.pending, lines...)
}

// ReadLine implements session.Conn.
func (c *lineConn) ReadLine(ctx context.Context) (string, error) {
	if len(c.pending) > 0 {
		line := c.pending[0]
		c.pending = c.pending[1:]
		return line, nil
	}

	c.startOnce.Do(func() { go c.pump() })

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.interrupt:
		return "", session.ErrInterrupted
	case r := <-c.lines:
		return r.line, r.err
	}
}

// pump reads lines off the channel until it fails or the conn is closed.
func (c *lineConn) pump() {
	for {
		line, err := c.readLine()
		select {
		case c.lines <- lineResult{line: line, err: err}:
		case <-c.done:
			return
		}
		if err != nil && err != session.ErrMalformedLine {
			return
		}
	}
}

func (c *lineConn) readLine() (string, error) {
	if c.term != nil {
		return c.term.ReadLine()
	}

	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, isPrefix, err := c.raw.ReadLine()
		if err != nil {
			return "", err
		}
		if len(buf)+len(chunk) > session.MaxLineLength {
			tooLong = true
		} else {
			buf = append(buf, chunk...)
		}
		if !isPrefix {
			break
		}
	}
	if tooLong {
		return "", session.ErrMalformedLine
	}
	return string(buf), nil
}

// Write implements session.Conn. On a pty "\n" is sent as "\r\n".
func (c *lineConn) Write(text string) error {
	var w io.Writer = c.ch
	if c.term != nil {
		w = c.term
	}
	_, err := io.WriteString(w, text)
	return err
}

// Close sends exit status 0 and closes the channel.
func (c *lineConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_, _ = c.ch.SendRequest("exit-status", false, ssh.Marshal(exitStatusMsg{}))
		err = c.ch.Close()
	})
	return err
}

// Interrupt makes pending and future reads return session.ErrInterrupted.
func (c *lineConn) Interrupt() {
	c.interruptOnce.Do(func() { close(c.interrupt) })
}

// Resize updates the terminal dimensions; it is a no-op without a pty.
func (c *lineConn) Resize(cols, rows int) {
	if c.term == nil || cols <= 0 || rows <= 0 {
		return
	}
	_ = c.term.SetSize(cols, rows)
}

type exitStatusMsg struct {
	Status uint32
}

type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

type windowChangeMsg struct {
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
}

type execMsg struct {
	Command string
}

type envMsg struct {
	Name  string
	Value string
}
