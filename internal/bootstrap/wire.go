// Package bootstrap wires the runtime dependency graph.
package bootstrap

import (
	"go.uber.org/zap"

	"micbridge/internal/audio"
	"micbridge/internal/battery"
	"micbridge/internal/config"
	"micbridge/internal/ports"
	"micbridge/internal/serverapi"
	"micbridge/internal/store"
	"micbridge/internal/transport"
	"micbridge/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Coordinator *usecase.Coordinator
	Store       *store.Store
	API         *serverapi.Client
	Config      config.Config
}

// Build wires all dependencies for the current runtime.
func Build(events ports.EventSink, logger *zap.Logger) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	sessions := store.New(logger.Named("store"))

	dialer := transport.NewDialer(transport.Config{
		URL:             cfg.Server.URL,
		ConnectTimeout:  cfg.Server.ConnectTimeout,
		ConnectRetries:  cfg.Server.ConnectRetries,
		RetryDelay:      cfg.Server.RetryDelay,
		KeepalivePeriod: cfg.Session.KeepalivePeriod,
	}, logger.Named("transport"))

	coordinator := usecase.NewCoordinator(
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
		dialer,
		battery.NewSysfsReader(cfg.Battery.SysfsRoot),
		sessions,
		events,
		usecase.Config{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Username:          cfg.Server.Username,
			Language:          cfg.Session.Language,
			ChunkInterval:     cfg.Session.ChunkInterval,
			BatteryThreshold:  cfg.Session.BatteryThreshold,
			MinChunkBytes:     cfg.Session.MinChunkBytes,
			AckWait:           cfg.Session.AckWait,
			ServerErrorBudget: cfg.Session.ServerErrorBudget,
		},
		logger.Named("coordinator"),
	)

	api := serverapi.NewClient(httpBaseURL(cfg.Server.URL), cfg.Server.HTTPTimeout)

	return Services{
		Coordinator: coordinator,
		Store:       sessions,
		API:         api,
		Config:      cfg,
	}, nil
}

// httpBaseURL maps a ws(s) server URL back to its http(s) origin for the
// auxiliary endpoints.
func httpBaseURL(base string) string {
	switch {
	case len(base) > 6 && base[:6] == "wss://":
		return "https://" + base[6:]
	case len(base) > 5 && base[:5] == "ws://":
		return "http://" + base[5:]
	}
	return base
}
