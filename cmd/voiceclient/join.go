package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wagaya/voicerelay/internal/client"
	"github.com/wagaya/voicerelay/internal/client/device"
	"github.com/wagaya/voicerelay/internal/infrastructure"
)

const dialTimeout = 10 * time.Second

var joinCmd = &cobra.Command{
	Use:   "join <channel>",
	Short: "Join a voice channel until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE:  joinChannel,
}

func init() {
	rootCmd.AddCommand(joinCmd)
}

func joinChannel(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := infrastructure.BuildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := device.NewMalgo(logger)
	if err != nil {
		logger.Error("Failed to initialize audio", zap.Error(err))
		return err
	}
	defer func() { _ = backend.Close() }()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	c, err := client.Dial(dialCtx, cfg.Client, backend, logger)
	cancel()
	if err != nil {
		logger.Error("Failed to connect to relay", zap.Error(err))
		return err
	}
	defer func() { _ = c.Close() }()

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	channelID := args[0]
	if err := c.JoinVoice(ctx, channelID); err != nil {
		logger.Error("Failed to join voice channel",
			zap.String("channel_id", channelID),
			zap.Error(err))
		return err
	}
	logger.Info("Talking, press Ctrl+C to leave", zap.String("channel_id", channelID))

	select {
	case <-ctx.Done():
	case err := <-runErr:
		if err != nil {
			logger.Error("Relay connection lost", zap.Error(err))
			return err
		}
		return nil
	}

	leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.LeaveVoice(leaveCtx); err != nil && !errors.Is(err, client.ErrNotJoined) {
		logger.Warn("Failed to leave voice channel cleanly", zap.Error(err))
	}
	return nil
}
