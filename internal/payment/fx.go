package payment

import (
	"github.com/classsphere/classsphere/internal/config"
	"github.com/classsphere/classsphere/internal/payment/gateway"
	"github.com/classsphere/classsphere/internal/payment/gateway/paystack"
	"github.com/classsphere/classsphere/internal/payment/repository"
	"github.com/classsphere/classsphere/internal/payment/service"
	"github.com/classsphere/classsphere/internal/payment/webhook"
	"go.uber.org/fx"
)

func newPaystack(cfg config.Config) *paystack.Client {
	return paystack.New(paystack.Config{
		SecretKey: cfg.Paystack.SecretKey,
		BaseURL:   cfg.Paystack.BaseURL,
		Timeout:   cfg.Paystack.Timeout,
	})
}

var Module = fx.Module("payment.service",
	fx.Provide(
		newPaystack,
		func(c *paystack.Client) gateway.Client { return c },
		func(c *paystack.Client) gateway.WebhookVerifier { return c },
	),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(webhook.NewService),
)
