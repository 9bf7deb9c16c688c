package tcp

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meterhub/internal/meter"
	"meterhub/internal/metrics"
)

// recordingDispatcher remembers serial numbers in dispatch order.
type recordingDispatcher struct {
	mu    sync.Mutex
	sns   []string
	block bool // wait for cancellation instead of returning
}

func (d *recordingDispatcher) Process(ctx context.Context, msg *meter.Message) {
	if d.block {
		<-ctx.Done()
		return
	}
	d.mu.Lock()
	d.sns = append(d.sns, msg.SN)
	d.mu.Unlock()
}

func (d *recordingDispatcher) seen() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sns...)
}

type ackLine struct {
	Status    string `json:"status"`
	SN        string `json:"sn"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// startSession runs a ClientConnection over net.Pipe and returns the client end.
func startSession(t *testing.T, ctx context.Context, d Dispatcher, cfg SessionConfig) (net.Conn, *bufio.Reader, <-chan SessionState) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	client := NewClientConnection(serverSide, d, cfg, metrics.New(), nil)

	done := make(chan SessionState, 1)
	go func() { done <- client.Listen(ctx) }()
	t.Cleanup(func() { clientSide.Close() })
	return clientSide, bufio.NewReader(clientSide), done
}

func readAck(t *testing.T, conn net.Conn, r *bufio.Reader) ackLine {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	var ack ackLine
	require.NoError(t, json.Unmarshal([]byte(line), &ack), line)
	return ack
}

func write(t *testing.T, conn net.Conn, s string) {
	t.Helper()
	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Write([]byte(s))
	require.NoError(t, err)
}

func waitState(t *testing.T, done <-chan SessionState) SessionState {
	t.Helper()
	select {
	case s := <-done:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("session did not terminate")
		return 0
	}
}

func TestSession_AcksInOrder(t *testing.T) {
	d := &recordingDispatcher{}
	conn, r, done := startSession(t, context.Background(), d, SessionConfig{})

	write(t, conn, `{"sn":"M1"}{"sn":"M2"}`)

	first := readAck(t, conn, r)
	second := readAck(t, conn, r)
	assert.Equal(t, "ok", first.Status)
	assert.Equal(t, "M1", first.SN)
	assert.Equal(t, "M2", second.SN)
	_, err := time.Parse(time.RFC3339Nano, first.Timestamp)
	assert.NoError(t, err, "timestamp must be ISO-8601")
	assert.True(t, strings.HasSuffix(first.Timestamp, "Z"), "timestamp must be UTC")
	assert.Equal(t, []string{"M1", "M2"}, d.seen())

	conn.Close()
	assert.Equal(t, StateClosedByPeer, waitState(t, done))
}

func TestSession_MalformedThenValid(t *testing.T) {
	d := &recordingDispatcher{}
	conn, r, _ := startSession(t, context.Background(), d, SessionConfig{})

	write(t, conn, `{"sn":12345}{"sn":"456"}`)

	bad := readAck(t, conn, r)
	assert.Equal(t, "error", bad.Status)
	assert.Equal(t, "Invalid JSON", bad.Message)
	good := readAck(t, conn, r)
	assert.Equal(t, "ok", good.Status)
	assert.Equal(t, "456", good.SN)

	// connection is still usable
	write(t, conn, `{"sn":"789"}`)
	assert.Equal(t, "789", readAck(t, conn, r).SN)
	assert.Equal(t, []string{"456", "789"}, d.seen())
}

func TestSession_ErrorAckBytes(t *testing.T) {
	conn, r, _ := startSession(t, context.Background(), &recordingDispatcher{}, SessionConfig{})

	write(t, conn, `{"sn":"1",}`)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "{\"status\":\"error\",\"message\":\"Invalid JSON\"}\n", line)
}

func TestSession_ObjectSplitAcrossWrites(t *testing.T) {
	d := &recordingDispatcher{}
	conn, r, _ := startSession(t, context.Background(), d, SessionConfig{})

	write(t, conn, `{"sn":"1`)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, d.seen(), "partial object must not be dispatched")

	write(t, conn, `23"}`)
	assert.Equal(t, "123", readAck(t, conn, r).SN)
}

func TestSession_ShutdownWhileReading(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conn, _, done := startSession(t, ctx, &recordingDispatcher{}, SessionConfig{ReadTimeout: time.Hour})

	time.Sleep(50 * time.Millisecond)
	cancel()

	assert.Equal(t, StateClosedByShutdown, waitState(t, done))

	// the server end is closed: the client sees EOF
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err := conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestSession_ShutdownWhileDispatching(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conn, r, done := startSession(t, ctx, &recordingDispatcher{block: true}, SessionConfig{})

	write(t, conn, `{"sn":"1"}`)
	time.Sleep(50 * time.Millisecond)
	cancel()

	assert.Equal(t, StateClosedByShutdown, waitState(t, done))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err := r.ReadString('\n')
	assert.Error(t, err, "no acknowledgment after cancelled dispatch")
}

func TestSession_ReadTimeout(t *testing.T) {
	_, _, done := startSession(t, context.Background(), &recordingDispatcher{}, SessionConfig{ReadTimeout: 100 * time.Millisecond})

	assert.Equal(t, StateClosedByError, waitState(t, done))
}

func TestSession_OversizedGarbageIsDiscarded(t *testing.T) {
	d := &recordingDispatcher{}
	conn, r, _ := startSession(t, context.Background(), d, SessionConfig{ReadBufferSize: 16, MaxBufferSize: 64})

	write(t, conn, strings.Repeat("x", 100))
	write(t, conn, `{"sn":"after"}`)

	assert.Equal(t, "after", readAck(t, conn, r).SN)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	client := NewClientConnection(serverSide, &recordingDispatcher{}, SessionConfig{}, nil, nil)

	assert.NotPanics(t, func() {
		client.Close()
		client.Close()
	})
	assert.Equal(t, StateClosedByShutdown, client.Listen(context.Background()))
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "closed_by_peer", StateClosedByPeer.String())
	assert.Equal(t, "dispatching", StateDispatching.String())
	assert.True(t, StateClosedByError.Closed())
	assert.False(t, StateAcknowledging.Closed())
}
