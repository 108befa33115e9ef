package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wagaya/voicerelay/internal/observe"
	"github.com/wagaya/voicerelay/internal/voice"
	"github.com/wagaya/voicerelay/internal/wire"
)

const writeTimeout = 5 * time.Second

var errSlowConsumer = errors.New("outbox full")

// conn serves one client. Inbound messages are handled in arrival order on
// the read loop; everything sent to the client goes through the hub outbox.
type conn struct {
	id       string
	ws       *websocket.Conn
	logger   *zap.Logger
	registry *voice.Registry
	hub      *Hub
	metrics  *observe.Metrics
}

func (c *conn) serve(ctx context.Context, outbox <-chan []byte) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writeLoop(gctx, outbox) })
	g.Go(func() error { return c.readLoop(gctx) })
	return g.Wait()
}

func (c *conn) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageBinary {
			c.ws.Close(websocket.StatusUnsupportedData, wire.ErrTextFrame.Error())
			return wire.ErrTextFrame
		}

		msg, err := wire.Decode(data)
		if err != nil {
			c.metrics.RecordDrop(ctx, observe.DropMalformed)
			c.logger.Debug("Discarding undecodable message", zap.Error(err))
			continue
		}
		if err := c.handle(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *conn) writeLoop(ctx context.Context, outbox <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-outbox:
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageBinary, msg)
			cancel()
			if err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func (c *conn) handle(ctx context.Context, msg wire.Message) error {
	switch msg.Op {
	case wire.OpJoinVoice:
		return c.handleJoin(ctx, msg.ChannelID)
	case wire.OpLeaveVoice:
		return c.handleLeave(ctx, msg.ChannelID)
	case wire.OpSendAudio:
		c.handleAudio(ctx, msg.ChannelID, msg.Payload)
		return nil
	default:
		c.logger.Debug("Ignoring client message", zap.Stringer("op", msg.Op))
		return nil
	}
}

func (c *conn) handleJoin(ctx context.Context, channelID string) error {
	if channelID == "" {
		return c.ack(wire.OpJoinVoice, wire.StatusBadRequest, channelID, "channel id required")
	}

	_, err := c.registry.Join(ctx, c.id, channelID)
	switch {
	case err == nil:
		return c.ack(wire.OpJoinVoice, wire.StatusOK, channelID, "")
	case errors.Is(err, voice.ErrEngineInitFailed):
		return c.ack(wire.OpJoinVoice, wire.StatusEngineInitFailed, channelID, err.Error())
	case errors.Is(err, voice.ErrMaxSessionsReached):
		return c.ack(wire.OpJoinVoice, wire.StatusMaxSessions, channelID, err.Error())
	default:
		c.logger.Error("Join failed", zap.String("channel_id", channelID), zap.Error(err))
		return c.ack(wire.OpJoinVoice, wire.StatusBadRequest, channelID, err.Error())
	}
}

func (c *conn) handleLeave(ctx context.Context, channelID string) error {
	if err := c.registry.Leave(ctx, c.id, channelID); err != nil {
		c.logger.Warn("Leave completed with error", zap.String("channel_id", channelID), zap.Error(err))
	}
	return c.ack(wire.OpLeaveVoice, wire.StatusOK, channelID, "")
}

func (c *conn) handleAudio(ctx context.Context, channelID string, pcm []byte) {
	processed, err := c.registry.RouteFrame(ctx, c.id, channelID, pcm)
	if err != nil {
		if !errors.Is(err, voice.ErrNoActiveSession) {
			c.logger.Debug("Frame not routed", zap.String("channel_id", channelID), zap.Error(err))
		}
		return
	}

	payload, err := wire.Encode(wire.ReceiveAudio(c.id, processed))
	if err != nil {
		c.logger.Error("Failed to encode relayed frame", zap.Error(err))
		return
	}
	if err := c.hub.BroadcastToGroupExcept(ctx, channelID, c.id, payload); err != nil {
		c.logger.Warn("Broadcast failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (c *conn) ack(op wire.Op, status wire.Status, channelID, text string) error {
	data, err := wire.Encode(wire.Ack(op, status, channelID, text))
	if err != nil {
		return err
	}
	if !c.hub.Send(c.id, data) {
		return errSlowConsumer
	}
	return nil
}
