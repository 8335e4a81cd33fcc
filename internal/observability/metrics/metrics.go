package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	paymentsInitialized metric.Int64Counter
	paymentsVerified    metric.Int64Counter
	paymentsRefunded    metric.Int64Counter
	walletCredits       metric.Int64Counter
	walletDebits        metric.Int64Counter
	reconcileDrift      metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported metrics exporter protocol %q", protocol)
	}
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "classsphere"
	}
	meter := provider.Meter(name)

	paymentsInitialized, err := meter.Int64Counter("classsphere_payments_initialized_total")
	if err != nil {
		return nil, err
	}
	paymentsVerified, err := meter.Int64Counter("classsphere_payments_verified_total")
	if err != nil {
		return nil, err
	}
	paymentsRefunded, err := meter.Int64Counter("classsphere_payments_refunded_total")
	if err != nil {
		return nil, err
	}
	walletCredits, err := meter.Int64Counter("classsphere_wallet_credits_total")
	if err != nil {
		return nil, err
	}
	walletDebits, err := meter.Int64Counter("classsphere_wallet_debits_total")
	if err != nil {
		return nil, err
	}
	reconcileDrift, err := meter.Int64Counter("classsphere_wallet_reconcile_drift_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentsInitialized: paymentsInitialized,
		paymentsVerified:    paymentsVerified,
		paymentsRefunded:    paymentsRefunded,
		walletCredits:       walletCredits,
		walletDebits:        walletDebits,
		reconcileDrift:      reconcileDrift,
	}, nil
}

func (m *Metrics) RecordPaymentInitialized(ctx context.Context, paymentType string) {
	if m == nil {
		return
	}
	m.paymentsInitialized.Add(ctx, 1, metric.WithAttributes(attribute.String("type", paymentType)))
}

func (m *Metrics) RecordPaymentVerified(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.paymentsVerified.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordPaymentRefunded(ctx context.Context) {
	if m == nil {
		return
	}
	m.paymentsRefunded.Add(ctx, 1)
}

func (m *Metrics) RecordWalletCredit(ctx context.Context) {
	if m == nil {
		return
	}
	m.walletCredits.Add(ctx, 1)
}

func (m *Metrics) RecordWalletDebit(ctx context.Context) {
	if m == nil {
		return
	}
	m.walletDebits.Add(ctx, 1)
}

func (m *Metrics) RecordReconcileDrift(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconcileDrift.Add(ctx, 1)
}
