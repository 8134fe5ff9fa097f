package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/medihim/ippo-platform/internal/consultation"
	"github.com/medihim/ippo-platform/internal/dashboard"
	httpmiddleware "github.com/medihim/ippo-platform/internal/http/middleware"
	"github.com/medihim/ippo-platform/internal/report"
	"github.com/medihim/ippo-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	ConsultationHandler *consultation.Handler
	ReportHandler       *report.Handler
	PublicReportHandler *report.PublicHandler
	DashboardHandler    *dashboard.Handler
	MetricsHandler      http.Handler
	AdminAuthSecret     string
	CORSAllowedOrigins  []string

	// Requests/sec and burst for the public report routes.
	PublicRateLimit float64
	PublicRateBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	rate := cfg.PublicRateLimit
	if rate <= 0 {
		rate = 5
	}
	burst := cfg.PublicRateBurst
	if burst <= 0 {
		burst = 10
	}

	// Public endpoints: health, metrics, and token-gated report access.
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.PublicReportHandler != nil {
			public.Route("/api/public/report/{token}", func(pr chi.Router) {
				pr.Use(httpmiddleware.RateLimit(rate, burst))
				pr.Get("/", cfg.PublicReportHandler.Get)
				pr.Post("/verify", cfg.PublicReportHandler.Verify)
				pr.Post("/opened", cfg.PublicReportHandler.Opened)
			})
		}
	})

	// Admin API behind JWT.
	r.Route("/api", func(admin chi.Router) {
		admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))

		if cfg.ConsultationHandler != nil {
			admin.Route("/consultations", func(cr chi.Router) {
				cr.Post("/", cfg.ConsultationHandler.Create)
				cr.Post("/bulk", cfg.ConsultationHandler.CreateBulk)
				cr.Get("/", cfg.ConsultationHandler.List)
				cr.Route("/{consultationID}", func(one chi.Router) {
					one.Get("/", cfg.ConsultationHandler.Get)
					one.Put("/classify", cfg.ConsultationHandler.Classify)
					one.Put("/cta", cfg.ConsultationHandler.UpdateCTA)
				})
			})
			admin.Get("/unclassified", cfg.ConsultationHandler.ListUnclassified)
		}

		if cfg.ReportHandler != nil {
			admin.Route("/reports", func(rr chi.Router) {
				rr.Get("/", cfg.ReportHandler.List)
				rr.Route("/{reportID}", func(one chi.Router) {
					one.Get("/", cfg.ReportHandler.Get)
					one.Put("/approve", cfg.ReportHandler.Approve)
					one.Put("/reject", cfg.ReportHandler.Reject)
					one.Put("/edit", cfg.ReportHandler.Edit)
					one.Post("/send-email", cfg.ReportHandler.SendEmail)
					one.Post("/regenerate", cfg.ReportHandler.Regenerate)
					one.Get("/translate", cfg.ReportHandler.Translate)
				})
			})
		}

		if cfg.DashboardHandler != nil {
			admin.Get("/dashboard/stats", cfg.DashboardHandler.GetStats)
		}
	})

	return r
}
