package observability

import (
	"github.com/classsphere/classsphere/internal/config"
	"github.com/classsphere/classsphere/internal/observability/logger"
	"github.com/classsphere/classsphere/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(func(cfg config.Config) logger.Config {
		return logger.Config{
			ServiceName: cfg.AppName,
			Environment: cfg.Environment,
			Version:     cfg.AppVersion,
			Level:       cfg.LogLevel,
			Format:      cfg.LogFormat,
		}
	}),
	fx.Provide(logger.New),
	fx.Provide(func(cfg config.Config) metrics.Config {
		return metrics.Config{
			Enabled:          cfg.Metrics.Enabled,
			ExporterEndpoint: cfg.Metrics.Endpoint,
			ExporterProtocol: cfg.Metrics.Exporter,
			ServiceName:      cfg.AppName,
		}
	}),
	fx.Provide(metrics.NewProvider),
	fx.Provide(metrics.New),
)
