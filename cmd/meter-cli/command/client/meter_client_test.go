package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestMeterClient_SendAndSession(t *testing.T) {
	addr := startListener(t)
	c := NewMeterClient(addr, 2*time.Second)
	g := NewGenerator(1)

	res := c.Send(context.Background(), g.Payload("11111111", 1))
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, "11111111", res.Ack.SN)

	session, err := c.Open(context.Background())
	require.NoError(t, err)
	defer session.Close()

	bad := session.Send([]byte(`{"sn":1}`))
	assert.False(t, bad.Success)
	assert.Equal(t, `{"status":"error","message":"Invalid JSON"}`, bad.Response)

	for i := 1; i <= 3; i++ {
		res := session.Send(g.Payload("22222222", i))
		assert.True(t, res.Success, res.Err)
	}
}

func TestMeterClient_Ping(t *testing.T) {
	addr := startListener(t)
	_, err := NewMeterClient(addr, time.Second).Ping(context.Background())
	assert.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closed := ln.Addr().String()
	ln.Close()

	_, err = NewMeterClient(closed, time.Second).Ping(context.Background())
	assert.Error(t, err)
}
