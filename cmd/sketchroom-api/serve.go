package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/config"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/database"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/discovery"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/export"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/logging"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/rooms"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/server"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapes"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// runtime holds what both commands share: the database and the room hub.
type runtime struct {
	config config.AppConfig
	logger *zap.Logger
	db     *gorm.DB
	hub    *rooms.Hub
}

func openRuntime(configViper *viper.Viper, mirror rooms.PresenceMirror) (*runtime, error) {
	appConfig, err := config.Load(configViper)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(logging.Options{Level: appConfig.LogLevel, Instance: appConfig.MDNSInstance})
	if err != nil {
		return nil, err
	}
	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	store, err := rooms.NewGormStore(rooms.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}
	hub, err := rooms.NewHub(rooms.HubConfig{
		Store:          store,
		PresenceMirror: mirror,
		Clock:          clockwork.NewRealClock(),
		IDProvider:     shapes.NewUUIDProvider(),
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	return &runtime{config: appConfig, logger: logger, db: db, hub: hub}, nil
}

func (r *runtime) Close() {
	if sqlDB, err := r.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = r.logger.Sync()
}

func runServer(ctx context.Context, configViper *viper.Viper) error {
	if ctx == nil {
		ctx = context.Background()
	}
	appConfig, err := config.Load(configViper)
	if err != nil {
		return err
	}

	var mirror *rooms.RedisPresenceMirror
	var presenceMirror rooms.PresenceMirror
	var participantMirror server.ParticipantMirror
	if appConfig.RedisURL != "" {
		client, err := rooms.NewRedisClient(ctx, appConfig.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		mirror, err = rooms.NewRedisPresenceMirror(rooms.RedisPresenceMirrorConfig{
			Client:     client,
			InstanceID: appConfig.MDNSInstance,
			TTL:        appConfig.PresenceTTL,
		})
		if err != nil {
			return err
		}
		presenceMirror, participantMirror = mirror, mirror
	}

	app, err := openRuntime(configViper, presenceMirror)
	if err != nil {
		return err
	}
	defer app.Close()
	logger := app.logger

	sessions := server.NewSessionGroup(ctx)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sessions.Shutdown(closeCtx); err != nil {
			logger.Warn("live sessions did not end before the store closed", zap.Error(err))
		}
	}()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Hub:      app.hub,
		Mirror:   participantMirror,
		Export:   export.Options{Width: appConfig.ExportWidth, Height: appConfig.ExportHeight},
		Sessions: sessions,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if appConfig.MDNSEnabled {
		port, err := discovery.PortFromAddress(appConfig.HTTPAddress)
		if err != nil {
			return err
		}
		advertiser, err := discovery.Advertise(discovery.Config{
			Instance: appConfig.MDNSInstance,
			Port:     port,
			Logger:   logger,
		})
		if err != nil {
			logger.Warn("mdns advertisement unavailable", zap.Error(err))
		} else {
			defer advertiser.Shutdown() //nolint:errcheck
		}
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.Bool("presence_mirror", mirror != nil))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(httpServer.Shutdown(shutdownCtx), sessions.Shutdown(shutdownCtx))
	case err := <-errCh:
		return err
	}
}
