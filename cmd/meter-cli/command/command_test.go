package command

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meterhub/internal/adminapi"
	"meterhub/internal/meter"
	"meterhub/internal/microservices/tcp"
)

type nopDispatcher struct{}

func (nopDispatcher) Process(ctx context.Context, msg *meter.Message) {}

func startListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	server := tcp.NewServer(ln.Addr().String(), nopDispatcher{}, tcp.SessionConfig{}, nil, nil)
	done := make(chan struct{})
	go func() {
		server.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSendCommand(t *testing.T) {
	addr := startListener(t)

	out, err := execute(t, "send", "--addr", addr, "--sn", "12345678")
	require.NoError(t, err)
	assert.Contains(t, out, `"sn":"12345678"`)
	assert.Contains(t, out, "Message acknowledged")

	_, err = execute(t, "send", "--addr", addr, "--json", `{"sn":`)
	assert.ErrorContains(t, err, "invalid JSON")
}

func TestBatchAndLoadCommands(t *testing.T) {
	addr := startListener(t)

	out, err := execute(t, "batch", "--addr", addr, "-n", "3", "--delay", "0s", "--sn", "555")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, " OK "))
	assert.Contains(t, out, "succeeded: 3")

	out, err = execute(t, "load", "--addr", addr, "-n", "20", "-c", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "Succeeded:       20")
}

func TestPingCommand(t *testing.T) {
	addr := startListener(t)
	out, err := execute(t, "ping", "--addr", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "Connected to")
}

func TestTokenCommand(t *testing.T) {
	secret := strings.Repeat("s", 32)
	out, err := execute(t, "token", "--secret", secret, "--subject", "ops")
	require.NoError(t, err)

	_, err = adminapi.ValidateToken(secret, strings.TrimSpace(out))
	assert.NoError(t, err)

	_, err = execute(t, "token", "--secret", "")
	assert.Error(t, err)
}
