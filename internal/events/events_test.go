package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestNATSPublisher(t *testing.T) {
	server := startTestNATSServer(t)

	sub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("fuzagent.runs.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	p, err := Connect(server.ClientURL(), "fuzagent.runs", nil)
	require.NoError(t, err)

	ev := Event{RunID: "run-1", From: "coding", To: "reviewing", Trigger: "code_ready", Iteration: 2}
	require.NoError(t, p.Publish(context.Background(), ev))
	require.NoError(t, p.Close())

	select {
	case msg := <-msgs:
		assert.Equal(t, "fuzagent.runs.run-1.reviewing", msg.Subject)
		var got Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "reviewing", got.To)
		assert.Equal(t, 2, got.Iteration)
		assert.False(t, got.Time.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("event not received")
	}
}

func TestSubject(t *testing.T) {
	p := NewNATSPublisher(nil, "", nil)
	tests := []struct {
		ev   Event
		want string
	}{
		{Event{RunID: "abc", To: "AwaitingCI"}, "fuzagent.runs.abc.awaitingci"},
		{Event{RunID: "a.b*c", To: "Fix Loop"}, "fuzagent.runs.a_b_c.fix_loop"},
		{Event{To: "Planning"}, "fuzagent.runs._.planning"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Subject(tt.ev))
	}
}

func TestConnectFails(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1", "x", nil)
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}
