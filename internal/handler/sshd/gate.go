package sshd

import (
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/zhouzirui/llmpot/internal/model/account"
)

var errDenied = errors.New("permission denied")

// Gate decides which username/password pairs may open a session.
type Gate struct {
	accounts account.Store
	log      *logrus.Entry
}

// NewGate builds a gate over accounts. Attempts are logged on log.
func NewGate(accounts account.Store, log *logrus.Entry) *Gate {
	return &Gate{accounts: accounts, log: log}
}

// Authenticate reports whether password opens username. Unknown users are
// always denied; an account with an empty secret accepts any password.
func (g *Gate) Authenticate(username, password string) bool {
	acct, ok := g.accounts.Lookup(username)
	if !ok {
		return false
	}
	if acct.Open() {
		return true
	}
	return acct.Secret == password
}

// SkipsAuth reports whether username may log in without any password.
func (g *Gate) SkipsAuth(username string) bool {
	acct, ok := g.accounts.Lookup(username)
	return ok && acct.Open()
}

func (g *Gate) passwordCallback(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	ok := g.Authenticate(conn.User(), string(password))
	g.logAttempt(conn, "password", ok)
	if !ok {
		return nil, errDenied
	}
	return &ssh.Permissions{}, nil
}

func (g *Gate) noneCallback(conn ssh.ConnMetadata) (*ssh.Permissions, error) {
	if !g.SkipsAuth(conn.User()) {
		// Not logged: every client probes "none" before its real method.
		return nil, errDenied
	}
	g.logAttempt(conn, "none", true)
	return &ssh.Permissions{}, nil
}

func (g *Gate) logAttempt(conn ssh.ConnMetadata, method string, ok bool) {
	outcome := "accepted"
	if !ok {
		outcome = "denied"
	}
	entry := g.log.WithFields(logrus.Fields{
		"user":   conn.User(),
		"peer":   remoteIP(conn.RemoteAddr()),
		"method": method,
		"auth":   outcome,
	})
	if ok {
		entry.Info("authentication attempt")
		return
	}
	entry.Warn("authentication attempt")
}
