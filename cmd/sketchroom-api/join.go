package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/config"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/liveclient"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/logging"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/participant"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapes"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/surface"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type joinOptions struct {
	server string
	room   string
	width  float64
	height float64
}

// joinReply is one line of join output.
type joinReply struct {
	Command string `json:"command"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func runJoin(ctx context.Context, configViper *viper.Viper, options joinOptions, stdin io.Reader, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(options.room) == "" {
		return fmt.Errorf("--room is required")
	}
	appConfig, err := config.Load(configViper)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logging.Options{Level: appConfig.LogLevel, Instance: appConfig.MDNSInstance})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	roomURL, err := liveclient.RoomURL(options.server, options.room)
	if err != nil {
		return err
	}
	client, err := liveclient.Dial(ctx, liveclient.Config{URL: roomURL, Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	joined, err := participant.New(participant.Config{
		Room:            client,
		IDProvider:      shapes.NewUUIDProvider(),
		Canvas:          surface.Size{Width: options.width, Height: options.height},
		CursorThrottle:  appConfig.CursorThrottle,
		ChatIdleTimeout: appConfig.ChatIdleTimeout,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	if err := joined.Start(ctx); err != nil {
		return err
	}
	defer joined.Close()
	logger.Info("joined room", zap.String("room", options.room), zap.Int("connection_id", client.ConnectionID()))

	encoder := json.NewEncoder(stdout)
	if err := encoder.Encode(joinReply{Command: "join", Result: map[string]any{
		"room":         options.room,
		"connectionId": client.ConnectionID(),
	}}); err != nil {
		return err
	}

	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		reply := joinReply{Command: line}
		if line == "help" {
			reply.Result = joined.Commands()
		} else if result, err := joined.Execute(ctx, line); err != nil {
			reply.Error = err.Error()
		} else {
			reply.Result = result
		}
		if err := encoder.Encode(reply); err != nil {
			return err
		}
		if err := client.Err(); err != nil {
			return err
		}
	}
	return scanner.Err()
}
