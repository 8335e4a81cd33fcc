package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/classsphere/classsphere/internal/config"
	currencydomain "github.com/classsphere/classsphere/internal/currency"
	paymentdomain "github.com/classsphere/classsphere/internal/payment/domain"
	"github.com/classsphere/classsphere/internal/payment/webhook"
	walletdomain "github.com/classsphere/classsphere/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	paymentSvc  paymentdomain.Service
	walletSvc   walletdomain.Service
	webhookSvc  *webhook.Service
	currencySvc currencydomain.Repository
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	PaymentSvc  paymentdomain.Service
	WalletSvc   walletdomain.Service
	WebhookSvc  *webhook.Service
	CurrencySvc currencydomain.Repository
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http"),
		paymentSvc:  p.PaymentSvc,
		walletSvc:   p.WalletSvc,
		webhookSvc:  p.WebhookSvc,
		currencySvc: p.CurrencySvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/api/v1")

	payments := v1.Group("/payments")
	payments.POST("", s.initializePayment)
	payments.GET("", s.listPayments)
	payments.GET("/statistics", s.paymentStatistics)
	payments.GET("/verify/:reference", s.verifyPayment)
	payments.GET("/:id", s.getPayment)
	payments.POST("/:id/refund", s.refundPayment)
	payments.POST("/:id/cancel", s.cancelPayment)

	parents := v1.Group("/parents")
	parents.GET("/:parentID/payments", s.listParentPayments)
	parents.GET("/:parentID/wallet", s.getParentWallet)

	v1.GET("/currencies", s.listCurrencies)

	v1.POST("/webhooks/paystack", s.paystackWebhook)
}
