package reconcile

import (
	"context"
	"time"

	"github.com/classsphere/classsphere/internal/config"
	obsmetrics "github.com/classsphere/classsphere/internal/observability/metrics"
	"github.com/classsphere/classsphere/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       domain.Repository
	Cfg        config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Reconciler periodically checks every wallet's stored balance against
// the sum of its transaction log. The two must always agree; a mismatch
// means a write path bypassed the ledger and is reported loudly rather
// than silently repaired.
type Reconciler struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	interval time.Duration
	metrics  *obsmetrics.Metrics

	stop chan struct{}
	done chan struct{}
}

// defaultInterval backstops a missing or non-positive configured
// interval; the ticker requires a positive period.
const defaultInterval = 10 * time.Minute

func New(p Params) *Reconciler {
	interval := p.Cfg.ReconcileInterval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Reconciler{
		db:       p.DB,
		log:      p.Log.Named("wallet.reconciler"),
		repo:     p.Repo,
		interval: interval,
		metrics:  p.ObsMetrics,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// RunOnce sweeps all wallets and returns the number found drifted.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	wallets, err := r.repo.ListWallets(ctx, r.db)
	if err != nil {
		return 0, err
	}

	drifted := 0
	for i := range wallets {
		wallet := &wallets[i]
		derived, err := r.repo.SumTransactions(ctx, r.db, wallet.ID)
		if err != nil {
			return drifted, err
		}
		if derived != wallet.Balance {
			drifted++
			r.metrics.RecordReconcileDrift(ctx)
			r.log.Error("wallet balance drift",
				zap.String("wallet_id", wallet.ID.String()),
				zap.String("parent_id", wallet.ParentID.String()),
				zap.Int64("stored", wallet.Balance),
				zap.Int64("derived", derived),
			)
		}
	}
	return drifted, nil
}

func (r *Reconciler) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.Error("reconcile sweep failed", zap.Error(err))
			}
			cancel()
		}
	}
}

func Run(lc fx.Lifecycle, r *Reconciler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go r.run()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(r.stop)
			select {
			case <-r.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

var Module = fx.Module("wallet.reconciler",
	fx.Provide(New),
	fx.Invoke(Run),
)
