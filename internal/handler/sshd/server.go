package sshd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/net/netutil"

	"github.com/zhouzirui/llmpot/internal/config"
	"github.com/zhouzirui/llmpot/internal/logging"
	"github.com/zhouzirui/llmpot/internal/service/session"
)

// Runner serves one interactive session.
type Runner interface {
	Run(ctx context.Context, conn session.Conn, info session.ConnInfo) error
}

// Server accepts SSH connections and hands each shell to the Runner.
type Server struct {
	cfg       config.ServerConfig
	sshConfig *ssh.ServerConfig
	runner    Runner
	logger    *logging.Logger

	wg sync.WaitGroup
}

// NewServer prepares a listener that authenticates through gate and presents
// signer as its host key.
func NewServer(cfg config.ServerConfig, signer ssh.Signer, gate *Gate, runner Runner, logger *logging.Logger) *Server {
	sshConfig := &ssh.ServerConfig{
		ServerVersion:        cfg.ServerVersion,
		PasswordCallback:     gate.passwordCallback,
		NoClientAuth:         true,
		NoClientAuthCallback: gate.noneCallback,
		// Unlimited attempts per connection.
		MaxAuthTries: -1,
	}
	sshConfig.AddHostKey(signer)

	return &Server{
		cfg:       cfg,
		sshConfig: sshConfig,
		runner:    runner,
		logger:    logger,
	}
}

// ListenAndServe binds the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on ln. Cancelling ctx closes the listener and
// every live connection; Serve returns once they have all finished.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer s.wg.Wait()

	s.logger.Entry().Infof("SSH server listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(connCtx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	log := s.logger.Entry()
	ip := remoteIP(conn.RemoteAddr())
	log.Infof("SSH connection received from %s.", ip)

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig)
	if err != nil {
		log.Errorf("SSH connection error: %v", err)
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	info := session.ConnInfo{Username: sshConn.User(), RemoteAddr: ip}

	var channels sync.WaitGroup
	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, chReqs, err := newChan.Accept()
		if err != nil {
			log.WithError(err).Warn("could not accept channel")
			continue
		}
		channels.Add(1)
		go func() {
			defer channels.Done()
			s.handleChannel(connCtx, ch, chReqs, info)
		}()
	}
	cancel()
	channels.Wait()

	if err := sshConn.Wait(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
		log.Errorf("SSH connection error: %v", err)
		return
	}
	log.Info("SSH connection closed.")
}

// handleChannel answers channel requests and starts the session on the first
// shell or exec request.
func (s *Server) handleChannel(ctx context.Context, ch ssh.Channel, reqs <-chan *ssh.Request, info session.ConnInfo) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		pty        bool
		cols, rows int
		conn       *lineConn
		finished   = make(chan struct{})
	)

	open := func(firstLines ...string) func() {
		if pty {
			conn = newPTYConn(ch, cols, rows)
		} else {
			conn = newRawConn(ch)
		}
		conn.Prepend(firstLines...)
		return func() {
			go func() {
				defer close(finished)
				if err := s.runner.Run(ctx, conn, info); err != nil {
					s.logger.Entry().WithError(err).Error("session ended with error")
				}
			}()
		}
	}

	for req := range reqs {
		ok := false
		// then runs after the reply so the client sees it before any effect.
		var then func()

		switch req.Type {
		case "pty-req":
			var msg ptyRequestMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err == nil && conn == nil {
				pty, cols, rows = true, int(msg.Columns), int(msg.Rows)
				ok = true
			}
		case "env":
			var msg envMsg
			ok = ssh.Unmarshal(req.Payload, &msg) == nil
		case "window-change":
			var msg windowChangeMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err == nil {
				cols, rows = int(msg.Columns), int(msg.Rows)
				if conn != nil {
					conn.Resize(cols, rows)
				}
				ok = true
			}
		case "shell":
			if conn == nil {
				then = open()
				ok = true
			}
		case "exec":
			var msg execMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err == nil && conn == nil {
				then = open(msg.Command)
				ok = true
			}
		case "break":
			if conn != nil {
				then = conn.Interrupt
				ok = true
			}
		}

		if req.WantReply {
			_ = req.Reply(ok, nil)
		}
		if then != nil {
			then()
		}
	}

	if conn == nil {
		_ = ch.Close()
		return
	}
	// The channel is gone; stop the session if it is still running.
	cancel()
	<-finished
}

func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
