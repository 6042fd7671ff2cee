package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/faktur/internal/audit"
	auditdomain "github.com/smallbiznis/faktur/internal/audit/domain"
	"github.com/smallbiznis/faktur/internal/clock"
	"github.com/smallbiznis/faktur/internal/config"
	"github.com/smallbiznis/faktur/internal/invoice"
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	"github.com/smallbiznis/faktur/internal/meter"
	meterdomain "github.com/smallbiznis/faktur/internal/meter/domain"
	"github.com/smallbiznis/faktur/internal/notification/email"
	"github.com/smallbiznis/faktur/internal/observability/metrics"
	"github.com/smallbiznis/faktur/internal/organization"
	paymentprovider "github.com/smallbiznis/faktur/internal/payment/provider"
	"github.com/smallbiznis/faktur/internal/plan"
	plandomain "github.com/smallbiznis/faktur/internal/plan/domain"
	"github.com/smallbiznis/faktur/internal/rating"
	"github.com/smallbiznis/faktur/internal/report"
	"github.com/smallbiznis/faktur/internal/scheduler"
	"github.com/smallbiznis/faktur/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/faktur/internal/subscription/domain"
	"github.com/smallbiznis/faktur/internal/usage"
	usagedomain "github.com/smallbiznis/faktur/internal/usage/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	metrics.Module,
	audit.Module,
	email.Module,
	paymentprovider.Module,
	organization.Module,
	plan.Module,
	meter.Module,
	subscription.Module,
	usage.Module,
	invoice.Module,
	rating.Module,
	report.Module,
	scheduler.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(reg *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return r
}

func registerGin(reg *prometheus.Registry) *gin.Engine {
	return NewEngine(reg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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
	engine *gin.Engine
	cfg    config.Config
	clock  clock.Clock

	auditSvc        auditdomain.Service
	invoiceSvc      invoicedomain.Service
	meterSvc        meterdomain.Service
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	usageSvc        usagedomain.Service
	revenueSvc      *rating.RevenueService
	reportSvc       *report.Service
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	Clock clock.Clock

	AuditSvc        auditdomain.Service
	InvoiceSvc      invoicedomain.Service
	MeterSvc        meterdomain.Service
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	UsageSvc        usagedomain.Service
	RevenueSvc      *rating.RevenueService
	ReportSvc       *report.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		clock:  p.Clock,

		auditSvc:        p.AuditSvc,
		invoiceSvc:      p.InvoiceSvc,
		meterSvc:        p.MeterSvc,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		usageSvc:        p.UsageSvc,
		revenueSvc:      p.RevenueSvc,
		reportSvc:       p.ReportSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.OrgContext())

	// -------- Plans --------
	api.GET("/plans", s.ListPlans)

	// -------- Meters --------
	api.GET("/meters", s.ListMeters)
	api.POST("/meters", s.CreateMeter)
	api.GET("/meters/:code", s.GetMeterByCode)

	// -------- Subscriptions --------
	api.GET("/subscriptions", s.ListSubscriptions)
	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions/:id", s.GetSubscriptionByID)
	api.GET("/subscriptions/:id/history", s.GetSubscriptionHistory)
	api.POST("/subscriptions/:id/activate", s.ActivateSubscription)
	api.POST("/subscriptions/:id/cancel", s.CancelSubscription)
	api.POST("/subscriptions/:id/pause", s.PauseSubscription)
	api.POST("/subscriptions/:id/resume", s.ResumeSubscription)
	api.POST("/subscriptions/:id/upgrade", s.UpgradeSubscriptionPlan)
	api.POST("/subscriptions/:id/payments", s.RecordSubscriptionPayment)
	api.POST("/subscriptions/:id/payment-failures", s.RecordSubscriptionPaymentFailure)
	api.POST("/subscriptions/:id/feature-usage", s.TrackFeatureUsage)
	api.POST("/subscriptions/:id/activity", s.RecordSubscriptionActivity)

	// -------- Invoices --------
	api.GET("/invoices", s.ListInvoices)
	api.POST("/invoices", s.CreateInvoice)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.POST("/invoices/:id/payments", s.RecordInvoicePayment)
	api.POST("/invoices/:id/credits", s.ApplyInvoiceCredit)
	api.POST("/invoices/:id/void", s.VoidInvoice)
	api.POST("/invoices/:id/refund", s.RefundInvoice)
	api.POST("/invoices/:id/dispute", s.DisputeInvoice)
	api.POST("/invoices/:id/send", s.SendInvoice)
	api.POST("/invoices/:id/lines", s.AddInvoiceLine)
	api.POST("/invoices/:id/export", s.MarkInvoiceExported)

	// -------- Usage --------
	api.POST("/usage", s.IngestUsage)
	api.GET("/usage/summary", s.GetUsageSummary)
	api.GET("/usage/:id", s.GetUsageRecordByID)
	api.POST("/usage/:id/bill", s.BillUsageRecord)
	api.POST("/usage/:id/dispute", s.DisputeUsageRecord)
	api.POST("/usage/:id/waive", s.WaiveUsageRecord)
	api.POST("/usage/:id/adjust", s.AdjustUsageCost)
	api.POST("/usage/:id/review", s.ReviewUsageRecord)
	api.POST("/usage/aggregate", s.AggregateUsage)

	// -------- Revenue & reports --------
	api.GET("/revenue/metrics", s.GetRevenueMetrics)
	api.GET("/reports/billing", s.GetBillingReport)

	api.GET("/audit-logs", s.ListAuditLogs)
}
