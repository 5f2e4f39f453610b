package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bitvend/bitvend/internal/checkout"
	"github.com/bitvend/bitvend/internal/config"
	incidentdomain "github.com/bitvend/bitvend/internal/incident/domain"
	obsmetrics "github.com/bitvend/bitvend/internal/observability/metrics"
	orderdomain "github.com/bitvend/bitvend/internal/order/domain"
	paymentwebhook "github.com/bitvend/bitvend/internal/payment/webhook"
	productdomain "github.com/bitvend/bitvend/internal/product/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func NewEngine(cfg config.Config, m *obsmetrics.Metrics) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmetrics.GinMiddleware(m))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Params struct {
	fx.In

	Gin    *gin.Engine
	Cfg    config.Config
	Log    *zap.Logger
	DB     *gorm.DB
	Holder *config.DispatchConfigHolder

	WebhookSvc   *paymentwebhook.Service `optional:"true"`
	CheckoutSvc  *checkout.Service       `optional:"true"`
	ProductSvc   productdomain.Service   `optional:"true"`
	OrderSvc     orderdomain.Service     `optional:"true"`
	IncidentRepo incidentdomain.Repository
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger
	db     *gorm.DB
	holder *config.DispatchConfigHolder

	webhookSvc   *paymentwebhook.Service
	checkoutSvc  *checkout.Service
	productSvc   productdomain.Service
	orderSvc     orderdomain.Service
	incidentRepo incidentdomain.Repository
}

func NewServer(p Params) *Server {
	return &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("http"),
		db:           p.DB,
		holder:       p.Holder,
		webhookSvc:   p.WebhookSvc,
		checkoutSvc:  p.CheckoutSvc,
		productSvc:   p.ProductSvc,
		orderSvc:     p.OrderSvc,
		incidentRepo: p.IncidentRepo,
	}
}

// RegisterWebhookRoutes mounts the gateway-facing surface.
func RegisterWebhookRoutes(s *Server) {
	s.engine.POST(s.cfg.WebhookPath, s.HandleGatewayWebhook)
}

// RegisterStorefrontRoutes mounts the buyer/admin surface used by the bot
// process.
func RegisterStorefrontRoutes(s *Server) {
	v1 := s.engine.Group("/v1")
	v1.GET("/products", s.ListProducts)
	v1.POST("/products", s.CreateProduct)
	v1.GET("/products/:id", s.GetProduct)
	v1.PATCH("/products/:id/availability", s.SetProductAvailability)
	v1.POST("/checkout", s.HandleCheckout)
	v1.GET("/orders/:id", s.GetOrder)
	v1.GET("/incidents", s.ListIncidents)
	v1.POST("/incidents/:id/resolve", s.ResolveIncident)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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

// WebhookModule is the HTTP surface of the payment-notification process.
var WebhookModule = fx.Module("http.webhook",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RegisterWebhookRoutes),
	fx.Invoke(run),
)

// BotModule is the HTTP surface of the storefront process.
var BotModule = fx.Module("http.storefront",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RegisterStorefrontRoutes),
	fx.Invoke(run),
)
