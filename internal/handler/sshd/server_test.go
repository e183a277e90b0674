package sshd

import (
	"bufio"
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/zhouzirui/llmpot/internal/config"
	"github.com/zhouzirui/llmpot/internal/logging"
	"github.com/zhouzirui/llmpot/internal/model/account"
	"github.com/zhouzirui/llmpot/internal/model/persona"
	"github.com/zhouzirui/llmpot/internal/service/ai"
	chatService "github.com/zhouzirui/llmpot/internal/service/chat"
	"github.com/zhouzirui/llmpot/internal/service/session"
)

type echoShell struct{}

func (echoShell) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	last := input[len(input)-1].Content
	if last == ai.LoginInput {
		return schema.AssistantMessage("Last login: Mon Oct  5 09:12:44 2026\nhost:~$", nil), nil
	}
	return schema.AssistantMessage(fmt.Sprintf("out:%s\nhost:~$", last), nil), nil
}

func (e echoShell) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := e.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testServer struct {
	addr     string
	logs     *lockedBuffer
	sessions *chatService.Service
}

func startServer(t *testing.T) *testServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	logs := &lockedBuffer{}
	logger := logging.NewWithWriter(logs, logrus.InfoLevel)

	sessions := chatService.NewService()
	engine, err := ai.NewService(context.Background(), echoShell{}, persona.NewMemoryStore(persona.Seed()), sessions, ai.Config{})
	require.NoError(t, err)
	manager := session.NewManager(engine, sessions, logger, nil, session.Config{PersonaID: persona.DefaultID})

	gate := NewGate(account.NewMemoryStore(map[string]string{
		"alice": "hunter2",
		"bob":   "",
	}), logger.Entry())

	srv := NewServer(config.ServerConfig{ServerVersion: "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.10", MaxConns: 8}, signer, gate, manager, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})

	return &testServer{addr: ln.Addr().String(), logs: logs, sessions: sessions}
}

func dial(addr, user string, auth ...ssh.AuthMethod) (*ssh.Client, error) {
	return ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
}

func readUntil(t *testing.T, r *bufio.Reader, suffix string) string {
	t.Helper()
	result := make(chan string, 1)
	go func() {
		var sb strings.Builder
		for !strings.HasSuffix(sb.String(), suffix) {
			b, err := r.ReadByte()
			if err != nil {
				break
			}
			sb.WriteByte(b)
		}
		result <- sb.String()
	}()
	select {
	case out := <-result:
		return out
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %q", suffix)
		return ""
	}
}

func TestServerAliceShellSession(t *testing.T) {
	ts := startServer(t)

	client, err := dial(ts.addr, "alice", ssh.Password("hunter2"))
	require.NoError(t, err)
	defer client.Close()

	sess, err := client.NewSession()
	require.NoError(t, err)
	stdin, err := sess.StdinPipe()
	require.NoError(t, err)
	stdout, err := sess.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, sess.Shell())

	r := bufio.NewReader(stdout)
	greeting := readUntil(t, r, "host:~$ ")
	assert.True(t, strings.HasPrefix(greeting, "Last login:"))

	_, err = stdin.Write([]byte("ls -la\n"))
	require.NoError(t, err)
	assert.Equal(t, "out:ls -la\nhost:~$ ", readUntil(t, r, "host:~$ "))

	require.NoError(t, stdin.Close())
	assert.NoError(t, sess.Wait(), "session should end with exit status 0")

	logs := ts.logs.String()
	assert.Contains(t, logs, "SSH connection received from 127.0.0.1.")
	assert.Contains(t, logs, "INPUT: ls -la")
	assert.Contains(t, logs, "auth=accepted")
}

func TestServerRejectsWrongPassword(t *testing.T) {
	ts := startServer(t)

	_, err := dial(ts.addr, "alice", ssh.Password("letmein"))
	require.Error(t, err)
	assert.Contains(t, ts.logs.String(), "auth=denied")
}

func TestServerBobNeedsNoPassword(t *testing.T) {
	ts := startServer(t)

	client, err := dial(ts.addr, "bob")
	require.NoError(t, err)
	defer client.Close()

	sess, err := client.NewSession()
	require.NoError(t, err)
	out, err := sess.Output("uname -a")
	require.NoError(t, err)
	assert.Equal(t, "Last login: Mon Oct  5 09:12:44 2026\nhost:~$ out:uname -a\nhost:~$ ", string(out))
}

func TestServerMalloryIsDenied(t *testing.T) {
	ts := startServer(t)

	for _, pw := range []string{"", "hunter2", "root"} {
		_, err := dial(ts.addr, "mallory", ssh.Password(pw))
		assert.Error(t, err, "password %q", pw)
	}
	assert.Equal(t, 0, ts.sessions.Count())
}

func TestServerBreakEndsSession(t *testing.T) {
	ts := startServer(t)

	client, err := dial(ts.addr, "alice", ssh.Password("hunter2"))
	require.NoError(t, err)
	defer client.Close()

	sess, err := client.NewSession()
	require.NoError(t, err)
	stdout, err := sess.StdoutPipe()
	require.NoError(t, err)
	_, err = sess.StdinPipe()
	require.NoError(t, err)
	require.NoError(t, sess.Shell())

	readUntil(t, bufio.NewReader(stdout), "host:~$ ")

	ok, err := sess.SendRequest("break", true, ssh.Marshal(struct{ Length uint32 }{0}))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, sess.Wait())
}

func TestServerConcurrentSessionsAreIsolated(t *testing.T) {
	ts := startServer(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client, err := dial(ts.addr, "bob")
			if !assert.NoError(t, err) {
				return
			}
			defer client.Close()
			sess, err := client.NewSession()
			if !assert.NoError(t, err) {
				return
			}
			out, err := sess.Output(fmt.Sprintf("echo %d", i))
			assert.NoError(t, err)
			assert.True(t, strings.HasSuffix(string(out), fmt.Sprintf("out:echo %d\nhost:~$ ", i)))
		}(i)
	}
	wg.Wait()
}

func TestRemoteIP(t *testing.T) {
	assert.Equal(t, "10.0.0.7", remoteIP(&net.TCPAddr{IP: net.ParseIP("10.0.0.7"), Port: 5555}))
	assert.Equal(t, "", remoteIP(nil))
}
