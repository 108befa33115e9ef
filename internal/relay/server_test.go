package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wagaya/voicerelay/internal/config"
	"github.com/wagaya/voicerelay/internal/observe"
	"github.com/wagaya/voicerelay/internal/voice"
	"github.com/wagaya/voicerelay/internal/wire"
	"github.com/wagaya/voicerelay/pkg/audio"
)

type relayFixture struct {
	server   *Server
	registry *voice.Registry
	hub      *Hub
	url      string
}

func newRelayFixture(t *testing.T, mutate func(*config.Config)) *relayFixture {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	logger := zaptest.NewLogger(t)
	metrics := observe.Nop()

	hub := NewHub(logger, metrics)
	registry, err := voice.NewRegistry(voice.RegistryParams{
		Logger:  logger,
		Config:  cfg,
		Relay:   hub,
		Factory: voice.NewEngineFactory(cfg),
		Metrics: metrics,
	})
	require.NoError(t, err)

	server := NewServer(ServerParams{
		Logger:   logger,
		Config:   cfg,
		Registry: registry,
		Hub:      hub,
		Metrics:  metrics,
	})

	srv := httptest.NewServer(server)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
		srv.Close()
	})

	return &relayFixture{
		server:   server,
		registry: registry,
		hub:      hub,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (f *relayFixture) dial(t *testing.T) *testClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(msg wire.Message) {
	c.t.Helper()
	data, err := wire.Encode(msg)
	require.NoError(c.t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageBinary, data))
}

func (c *testClient) read() wire.Message {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	typ, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err)
	require.Equal(c.t, websocket.MessageBinary, typ)

	msg, err := wire.Decode(data)
	require.NoError(c.t, err)
	return msg
}

func (c *testClient) join(channelID string) {
	c.t.Helper()
	c.send(wire.JoinVoice(channelID))
	ack := c.read()
	require.Equal(c.t, wire.OpAck, ack.Op)
	require.Equal(c.t, wire.OpJoinVoice, ack.AckOp)
	require.Equal(c.t, wire.StatusOK, ack.Status, ack.Text)
}

func (c *testClient) leave(channelID string) {
	c.t.Helper()
	c.send(wire.LeaveVoice(channelID))
	ack := c.read()
	require.Equal(c.t, wire.OpAck, ack.Op)
	require.Equal(c.t, wire.OpLeaveVoice, ack.AckOp)
	require.Equal(c.t, wire.StatusOK, ack.Status)
}

func TestServer_GeneralVoiceScenario(t *testing.T) {
	f := newRelayFixture(t, nil)
	a := f.dial(t)
	b := f.dial(t)

	a.join("general-voice")
	b.join("general-voice")

	silent := make([]byte, audio.SubFrameBytes)
	a.send(wire.SendAudio("general-voice", silent))

	got := b.read()
	assert.Equal(t, wire.OpReceiveAudio, got.Op)
	assert.NotEmpty(t, got.SenderID)
	assert.Equal(t, silent, got.Payload)
	senderA := got.SenderID

	// B answers; A's next message must be B's frame, not an echo of its own.
	b.send(wire.SendAudio("general-voice", silent))
	echo := a.read()
	assert.Equal(t, wire.OpReceiveAudio, echo.Op)
	assert.NotEqual(t, senderA, echo.SenderID)
	assert.Equal(t, silent, echo.Payload)
}

func TestServer_NoDeliveryAfterLeave(t *testing.T) {
	f := newRelayFixture(t, nil)
	a := f.dial(t)
	b := f.dial(t)
	c := f.dial(t)

	a.join("general-voice")
	b.join("general-voice")
	c.join("general-voice")

	a.leave("general-voice")
	assert.Len(t, f.hub.Members("general-voice"), 2)
	assert.Equal(t, 2, f.registry.ActiveSessions())

	frame := make([]byte, audio.SubFrameBytes)
	b.send(wire.SendAudio("general-voice", frame))
	require.Equal(t, wire.OpReceiveAudio, c.read().Op)

	// B's broadcast has completed; A's next message must be its own ack.
	a.send(wire.JoinVoice("general-voice"))
	ack := a.read()
	assert.Equal(t, wire.OpAck, ack.Op)
	assert.Equal(t, wire.OpJoinVoice, ack.AckOp)
}

func TestServer_AudioWithoutSessionIsDropped(t *testing.T) {
	f := newRelayFixture(t, nil)
	a := f.dial(t)
	b := f.dial(t)

	b.join("general-voice")
	a.send(wire.SendAudio("general-voice", make([]byte, audio.SubFrameBytes)))

	// B gets nothing from A; the next thing it sees is its own leave ack.
	b.send(wire.LeaveVoice("general-voice"))
	ack := b.read()
	assert.Equal(t, wire.OpAck, ack.Op)
	assert.Equal(t, wire.OpLeaveVoice, ack.AckOp)
}

func TestServer_JoinRejectedWhenEngineCannotStart(t *testing.T) {
	f := newRelayFixture(t, func(c *config.Config) {
		c.Voice.Denoiser.OverSubtraction = -1
	})
	a := f.dial(t)

	a.send(wire.JoinVoice("general-voice"))
	ack := a.read()
	assert.Equal(t, wire.StatusEngineInitFailed, ack.Status)
	assert.Empty(t, f.hub.Members("general-voice"))
	assert.Equal(t, 0, f.registry.ActiveSessions())
}

func TestServer_JoinRejectedWhenFull(t *testing.T) {
	f := newRelayFixture(t, func(c *config.Config) { c.Voice.MaxSessions = 1 })
	a := f.dial(t)
	b := f.dial(t)

	a.join("general-voice")
	b.send(wire.JoinVoice("general-voice"))
	assert.Equal(t, wire.StatusMaxSessions, b.read().Status)
}

func TestServer_JoinWithoutChannelIsBadRequest(t *testing.T) {
	f := newRelayFixture(t, nil)
	a := f.dial(t)

	a.send(wire.JoinVoice(""))
	assert.Equal(t, wire.StatusBadRequest, a.read().Status)
}

func TestServer_TextFramesCloseConnection(t *testing.T) {
	f := newRelayFixture(t, nil)
	a := f.dial(t)
	a.join("general-voice")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, a.conn.Write(ctx, websocket.MessageText, []byte(`{"op":"send"}`)))

	_, _, err := a.conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusUnsupportedData, websocket.CloseStatus(err))

	assert.Eventually(t, func() bool {
		return f.registry.ActiveSessions() == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestServer_DisconnectEndsSession(t *testing.T) {
	f := newRelayFixture(t, nil)
	a := f.dial(t)
	b := f.dial(t)
	a.join("general-voice")
	b.join("general-voice")

	a.conn.Close(websocket.StatusNormalClosure, "bye")

	assert.Eventually(t, func() bool {
		return f.registry.ActiveSessions() == 1 && len(f.hub.Members("general-voice")) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestServer_StartStop(t *testing.T) {
	f := newRelayFixture(t, func(c *config.Config) { c.Server.ListenAddr = "127.0.0.1:0" })
	require.NoError(t, f.server.Start(context.Background()))
	addr := f.server.Addr()
	require.NotEmpty(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/voice", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	data, err := wire.Encode(wire.JoinVoice("general-voice"))
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, data))
	_, _, err = conn.Read(ctx)
	require.NoError(t, err)

	require.NoError(t, f.server.Stop(ctx))
	assert.Equal(t, 0, f.registry.ActiveSessions())
}

func TestServer_RejectsConnectionsAfterStop(t *testing.T) {
	f := newRelayFixture(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, f.server.Stop(ctx))

	conn, resp, err := websocket.Dial(ctx, f.url, nil)
	require.Error(t, err)
	assert.Nil(t, conn)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_StopWhileClientsConnect(t *testing.T) {
	f := newRelayFixture(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, _, err := websocket.Dial(ctx, f.url, nil)
			if err == nil {
				_, _, _ = conn.Read(ctx)
				conn.CloseNow()
			}
		}()
	}
	require.NoError(t, f.server.Stop(ctx))
	wg.Wait()

	assert.Equal(t, 0, f.registry.ActiveSessions())
}
