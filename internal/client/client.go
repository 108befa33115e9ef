// Package client is the voice client runtime: it captures the microphone,
// streams frames to the relay and plays back the other speakers.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wagaya/voicerelay/internal/client/device"
	"github.com/wagaya/voicerelay/internal/config"
	"github.com/wagaya/voicerelay/internal/wire"
	"github.com/wagaya/voicerelay/pkg/audio"
)

var (
	// ErrJoinRejected is returned when the relay refuses a join.
	ErrJoinRejected = errors.New("join rejected")
	// ErrNotJoined is returned for voice operations outside a channel.
	ErrNotJoined = errors.New("not in a voice channel")
	// ErrClosed is returned after the connection has ended.
	ErrClosed = errors.New("client closed")
)

const ackTimeout = 5 * time.Second

// Client is one connection to the relay.
type Client struct {
	logger  *zap.Logger
	cfg     config.ClientConfig
	ws      *websocket.Conn
	backend device.Backend

	player   *Player
	capture  *Capture
	audioOut chan Outbound
	control  chan []byte
	acks     chan wire.Message
	done     chan struct{}
	doneOnce sync.Once

	// reqMu serializes join and leave so that at most one ack is pending.
	reqMu   sync.Mutex
	mu      sync.Mutex
	channel string
	mic     device.Stream
	speaker device.Stream
}

// Dial connects to the relay. Run must be called before joining.
func Dial(ctx context.Context, cfg config.ClientConfig, backend device.Backend, logger *zap.Logger) (*Client, error) {
	ws, _, err := websocket.Dial(ctx, cfg.ServerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.ServerURL, err)
	}

	audioOut := make(chan Outbound, cfg.SendQueue)
	return &Client{
		logger:   logger,
		cfg:      cfg,
		ws:       ws,
		backend:  backend,
		player:   NewPlayer(cfg, logger),
		capture:  NewCapture(cfg.FrameSamples, audioOut),
		audioOut: audioOut,
		control:  make(chan []byte, 4),
		acks:     make(chan wire.Message, 1),
		done:     make(chan struct{}),
	}, nil
}

// Run reads, writes and drives playback until ctx ends or the connection
// drops.
func (c *Client) Run(ctx context.Context) error {
	defer c.doneOnce.Do(func() { close(c.done) })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx) })
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error { return c.pumpLoop(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return err
}

// Channel returns the joined channel, or "" when not in one.
func (c *Client) Channel() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.channel
}

// JoinVoice joins channelID, leaving any current channel first. The
// microphone is opened before anything is sent, so a missing microphone
// aborts the join without relay traffic.
func (c *Client) JoinVoice(ctx context.Context, channelID string) error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if channelID == "" {
		return fmt.Errorf("%w: channel id required", ErrJoinRejected)
	}
	current := c.Channel()
	if current == channelID {
		return nil
	}
	if current != "" {
		if err := c.leave(ctx, current); err != nil {
			return err
		}
	}

	mic, err := c.backend.OpenCapture(c.capture.OnSamples)
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}

	c.player.Start()
	speaker, err := c.backend.OpenPlayback(c.player.Fill)
	if err != nil {
		_ = mic.Close()
		c.player.Reset()
		return fmt.Errorf("open speaker: %w", err)
	}

	ack, err := c.request(ctx, wire.JoinVoice(channelID))
	if err == nil && ack.Status != wire.StatusOK {
		err = fmt.Errorf("%w: %s: %s", ErrJoinRejected, ack.Status, ack.Text)
	}
	if err != nil {
		_ = mic.Close()
		_ = speaker.Close()
		c.player.Reset()
		return err
	}

	c.mu.Lock()
	c.channel, c.mic, c.speaker = channelID, mic, speaker
	c.mu.Unlock()
	c.capture.Enable(channelID)

	c.logger.Info("Joined voice channel", zap.String("channel_id", channelID))
	return nil
}

// LeaveVoice leaves the current channel.
func (c *Client) LeaveVoice(ctx context.Context) error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	current := c.Channel()
	if current == "" {
		return ErrNotJoined
	}
	return c.leave(ctx, current)
}

// leave tears down channelID. The caller holds reqMu.
func (c *Client) leave(ctx context.Context, channelID string) error {
	c.capture.Disable()

	c.mu.Lock()
	mic, speaker := c.mic, c.speaker
	c.channel, c.mic, c.speaker = "", nil, nil
	c.mu.Unlock()

	if mic != nil {
		_ = mic.Close()
	}
	_, err := c.request(ctx, wire.LeaveVoice(channelID))

	c.player.Reset()
	if speaker != nil {
		_ = speaker.Close()
	}

	if err != nil {
		return fmt.Errorf("leave %s: %w", channelID, err)
	}
	c.logger.Info("Left voice channel", zap.String("channel_id", channelID))
	return nil
}

// SendAudio sends one PCM frame to channelID, which must be the joined
// channel.
func (c *Client) SendAudio(ctx context.Context, channelID string, pcm []byte) error {
	if c.Channel() != channelID || channelID == "" {
		return ErrNotJoined
	}
	if err := audio.ValidateFrame(pcm, false); err != nil {
		return err
	}

	select {
	case c.audioOut <- Outbound{ChannelID: channelID, PCM: pcm}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Speakers returns the playback state per remote speaker.
func (c *Client) Speakers() map[string]State {
	return c.player.Speakers()
}

// CaptureStats returns how many microphone frames were queued and dropped.
func (c *Client) CaptureStats() (sent, dropped uint64) {
	return c.capture.Sent(), c.capture.Dropped()
}

// Close leaves nothing running: streams are closed and the connection is
// shut down.
func (c *Client) Close() error {
	c.capture.Disable()

	c.mu.Lock()
	mic, speaker := c.mic, c.speaker
	c.channel, c.mic, c.speaker = "", nil, nil
	c.mu.Unlock()

	if mic != nil {
		_ = mic.Close()
	}
	if speaker != nil {
		_ = speaker.Close()
	}
	c.player.Reset()
	c.player.Close()

	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}

func (c *Client) request(ctx context.Context, msg wire.Message) (wire.Message, error) {
	data, err := wire.Encode(msg)
	if err != nil {
		return wire.Message{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()

	select {
	case c.control <- data:
	case <-ctx.Done():
		return wire.Message{}, ctx.Err()
	case <-c.done:
		return wire.Message{}, ErrClosed
	}

	for {
		select {
		case ack := <-c.acks:
			if ack.AckOp == msg.Op && ack.ChannelID == msg.ChannelID {
				return ack, nil
			}
			c.logger.Debug("Ignoring unexpected ack",
				zap.Stringer("op", ack.AckOp),
				zap.String("channel_id", ack.ChannelID))
		case <-ctx.Done():
			return wire.Message{}, ctx.Err()
		case <-c.done:
			return wire.Message{}, ErrClosed
		}
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageBinary {
			return wire.ErrTextFrame
		}

		msg, err := wire.Decode(data)
		if err != nil {
			c.logger.Debug("Discarding undecodable message", zap.Error(err))
			continue
		}

		switch msg.Op {
		case wire.OpReceiveAudio:
			if err := c.player.Push(msg.SenderID, msg.Payload); err != nil {
				c.logger.Debug("Discarding frame",
					zap.String("sender_id", msg.SenderID),
					zap.Error(err))
			}
		case wire.OpAck:
			select {
			case c.acks <- msg:
			default:
				c.logger.Debug("Dropping ack nobody waits for", zap.Stringer("op", msg.AckOp))
			}
		default:
			c.logger.Debug("Ignoring server message", zap.Stringer("op", msg.Op))
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) error {
	for {
		var data []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data = <-c.control:
		case out := <-c.audioOut:
			if out.ChannelID != c.Channel() {
				continue
			}
			var err error
			if data, err = wire.Encode(wire.SendAudio(out.ChannelID, out.PCM)); err != nil {
				c.logger.Debug("Failed to encode frame", zap.Error(err))
				continue
			}
		}

		if err := c.ws.Write(ctx, websocket.MessageBinary, data); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
}

func (c *Client) pumpLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.player.Tick()
		case <-c.player.StallC():
			c.player.Stall()
		}
	}
}
