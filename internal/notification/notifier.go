package notification

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Event types emitted by the payment subsystem. The platform's
// notification service consumes these; this package only defines the
// sink contract and a log-backed default.
const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
	EventWalletCredited   = "wallet.credited"
	EventWalletDebited    = "wallet.debited"
)

// Event carries the minimal facts a downstream notifier needs.
type Event struct {
	Type      string
	ParentID  snowflake.ID
	Reference string
	Amount    int64
	Currency  string
}

// Notifier is the sink the payment and wallet services fire events into.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

type logNotifier struct {
	log *zap.Logger
}

// NewLogNotifier returns a Notifier that records events to the process
// log. Deployments replace it with a queue-backed implementation.
func NewLogNotifier(log *zap.Logger) Notifier {
	return &logNotifier{log: log.Named("notification")}
}

func (n *logNotifier) Notify(ctx context.Context, event Event) {
	n.log.Info("payment event",
		zap.String("type", event.Type),
		zap.String("parent_id", event.ParentID.String()),
		zap.String("reference", event.Reference),
		zap.Int64("amount", event.Amount),
		zap.String("currency", event.Currency),
	)
}

var Module = fx.Module("notification",
	fx.Provide(NewLogNotifier),
)
