package webhook

import (
	"context"
	"errors"

	"github.com/classsphere/classsphere/internal/payment/domain"
	"github.com/classsphere/classsphere/internal/payment/gateway"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Verifier gateway.WebhookVerifier
	Payments domain.Service
}

// Service ingests gateway webhooks. The payload is authenticated and
// parsed at the gateway boundary, then settlement is delegated to the
// idempotent verify flow; nothing in the webhook body is trusted for
// state.
type Service struct {
	log      *zap.Logger
	verifier gateway.WebhookVerifier
	payments domain.Service
}

func NewService(p Params) *Service {
	return &Service{
		log:      p.Log.Named("payment.webhook"),
		verifier: p.Verifier,
		payments: p.Payments,
	}
}

// Ingest authenticates and processes one raw webhook delivery. Events
// the platform does not consume are acknowledged without side effects.
func (s *Service) Ingest(ctx context.Context, payload []byte, signature string) error {
	if err := s.verifier.VerifyWebhook(payload, signature); err != nil {
		s.log.Warn("webhook signature rejected", zap.Error(err))
		return err
	}

	event, err := s.verifier.ParseWebhook(payload)
	if err != nil {
		if errors.Is(err, gateway.ErrEventIgnored) {
			return nil
		}
		return err
	}

	if _, err := s.payments.Verify(ctx, event.Reference); err != nil {
		s.log.Error("webhook settlement failed",
			zap.String("event", event.Event),
			zap.String("reference", event.Reference),
			zap.Error(err),
		)
		return err
	}

	s.log.Info("webhook settled",
		zap.String("event", event.Event),
		zap.String("reference", event.Reference),
	)
	return nil
}
