package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/export"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type exportOptions struct {
	room   string
	format string
	output string
}

func (o exportOptions) resolvedFormat() (string, error) {
	format := strings.ToLower(strings.TrimSpace(o.format))
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(o.output)), ".")
	}
	switch format {
	case "pdf", "png":
		return format, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", format)
	}
}

func runExport(ctx context.Context, configViper *viper.Viper, options exportOptions, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(options.output) == "" {
		return fmt.Errorf("--output is required")
	}
	format, err := options.resolvedFormat()
	if err != nil {
		return err
	}

	app, err := openRuntime(configViper, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	room, err := app.hub.Open(ctx, options.room)
	if err != nil {
		return err
	}

	target := stdout
	if options.output != "-" {
		file, err := os.Create(options.output)
		if err != nil {
			return err
		}
		defer file.Close()
		target = file
	}

	renderOptions := export.Options{Width: app.config.ExportWidth, Height: app.config.ExportHeight, Logger: app.logger}
	entries := room.Entries()
	if format == "pdf" {
		err = export.WritePDF(target, entries, renderOptions)
	} else {
		err = export.WritePNG(target, entries, renderOptions)
	}
	if err != nil {
		return err
	}
	app.logger.Info("room exported",
		zap.String("room_id", room.ID().String()),
		zap.String("format", format),
		zap.Int("shapes", len(entries)))
	return nil
}
