package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/illmade-knight/eventgen/pkg/publisher"
	"github.com/illmade-knight/eventgen/pkg/reasoncode"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis_ConnectRefused(t *testing.T) {
	cfg := DefaultRedisConfig()
	tr := NewRedis(cfg, zerolog.Nop())
	defer tr.Close()

	hooks := newRecordingHooks()
	// Port 1 is reserved and nothing listens on it.
	require.NoError(t, tr.Connect(context.Background(), "127.0.0.1:1", hooks))
	assert.Equal(t, []reasoncode.Code{reasoncode.ConnRefused}, hooks.Acks())
}

func TestRedis_RejectedThroughConnection(t *testing.T) {
	tr := NewRedis(DefaultRedisConfig(), zerolog.Nop())
	conn := publisher.NewConnection(tr, publisher.DefaultConnectionConfig("127.0.0.1:1"), nil, zerolog.Nop())

	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, publisher.ErrConnectRejected)

	var connectErr *publisher.ConnectError
	require.True(t, errors.As(err, &connectErr))
	assert.Equal(t, reasoncode.ConnRefused, connectErr.Code)
	conn.Close()
}

// fakeRedisServer speaks just enough RESP for PING and PUBLISH. While
// unhealthy it drops every connection as soon as a command arrives.
type fakeRedisServer struct {
	ln      net.Listener
	healthy atomic.Bool
	pings   atomic.Int64

	mu    sync.Mutex
	conns []net.Conn
}

func newFakeRedisServer(t *testing.T) *fakeRedisServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeRedisServer{ln: ln}
	s.healthy.Store(true)
	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *fakeRedisServer) Addr() string { return s.ln.Addr().String() }

func (s *fakeRedisServer) serve() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.mu.Unlock()
		go s.handle(c)
	}
}

func (s *fakeRedisServer) handle(c net.Conn) {
	defer c.Close()
	r := bufio.NewReader(c)
	for {
		args, err := readRESPCommand(r)
		if err != nil || len(args) == 0 {
			return
		}
		cmd := strings.ToUpper(args[0])
		if cmd == "PING" {
			s.pings.Add(1)
		}
		if !s.healthy.Load() {
			return
		}

		reply := "+OK\r\n"
		switch cmd {
		case "PING":
			reply = "+PONG\r\n"
		case "PUBLISH":
			reply = ":0\r\n"
		}
		if _, err := io.WriteString(c, reply); err != nil {
			return
		}
	}
}

func (s *fakeRedisServer) close() {
	_ = s.ln.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
}

func readRESPCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("unexpected request line %q", line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		line, err = r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(line, "$") {
			return nil, fmt.Errorf("unexpected bulk header %q", line)
		}
		size, err := strconv.Atoi(strings.TrimSpace(line[1:]))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestRedis_WatchReportsLossAndRecovery(t *testing.T) {
	server := newFakeRedisServer(t)

	cfg := DefaultRedisConfig()
	cfg.KeepAlive = 30 * time.Millisecond
	tr := NewRedis(cfg, zerolog.Nop())

	hooks := newRecordingHooks()
	require.NoError(t, tr.Connect(context.Background(), server.Addr(), hooks))
	require.Equal(t, []reasoncode.Code{reasoncode.Success}, hooks.Acks())

	outcome, err := tr.Publish(context.Background(), publisher.DefaultTopic, []byte("Message2"))
	require.NoError(t, err)
	assert.True(t, outcome.Delivered)
	assert.Equal(t, "0", outcome.MessageID)

	server.healthy.Store(false)
	require.Eventually(t, func() bool { return len(hooks.Disconnects()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.NotEqual(t, reasoncode.Success, hooks.Disconnects()[0])
	assert.Len(t, hooks.Acks(), 1)

	server.healthy.Store(true)
	require.Eventually(t, func() bool { return len(hooks.Acks()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []reasoncode.Code{reasoncode.Success, reasoncode.Success}, hooks.Acks())
	assert.Len(t, hooks.Disconnects(), 1, "a failure is reported once, not on every failed ping")

	tr.Close()
	pings := server.pings.Load()
	time.Sleep(5 * cfg.KeepAlive)
	assert.Equal(t, pings, server.pings.Load(), "health check kept pinging after Close")
}

func TestRedis_PublishBeforeConnect(t *testing.T) {
	tr := NewRedis(DefaultRedisConfig(), zerolog.Nop())
	outcome, err := tr.Publish(context.Background(), publisher.DefaultTopic, []byte("Message1"))
	assert.ErrorIs(t, err, redis.ErrClosed)
	assert.Equal(t, reasoncode.NoConn, *outcome.ReasonCode)
}

func TestClassifyRedisError(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want reasoncode.Code
	}{
		{name: "nil", err: nil, want: reasoncode.Success},
		{name: "nil reply", err: redis.Nil, want: reasoncode.NotFound},
		{name: "closed client", err: redis.ErrClosed, want: reasoncode.ConnLost},
		{name: "no auth", err: errors.New("NOAUTH Authentication required."), want: reasoncode.Auth},
		{name: "wrong password", err: errors.New("WRONGPASS invalid username-password pair"), want: reasoncode.Auth},
		{name: "acl", err: errors.New("NOPERM this user has no permissions to run the 'publish' command"), want: reasoncode.ACLDenied},
		{name: "oom", err: errors.New("OOM command not allowed when used memory > 'maxmemory'."), want: reasoncode.NoMem},
		{name: "unknown command", err: errors.New("ERR unknown command 'publish'"), want: reasoncode.NotSupported},
		{name: "eof", err: io.EOF, want: reasoncode.ConnLost},
		{name: "deadline", err: context.DeadlineExceeded, want: reasoncode.Again},
		{name: "other", err: errors.New("something odd"), want: reasoncode.Unknown},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyRedisError(tc.err))
		})
	}
}
