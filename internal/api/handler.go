package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/audience/internal/campaign"
	"github.com/gyaneshwarpardhi/audience/internal/compose"
	"github.com/gyaneshwarpardhi/audience/internal/config"
	"github.com/gyaneshwarpardhi/audience/internal/customer"
	"github.com/gyaneshwarpardhi/audience/internal/dashboard"
	"github.com/gyaneshwarpardhi/audience/internal/segment"
)

const (
	ownerHeader  = "X-Owner-ID"
	defaultOwner = "default"

	readyThreshold = 0.8
)

// Queue reports how full the delivery queue is, in [0, 1].
type Queue interface {
	QueueUtilization() float64
}

// Pinger checks that the backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the handler to the services it exposes.
type Deps struct {
	Customers *customer.Service
	Segments  *segment.Service
	Evaluator *segment.Evaluator
	Campaigns *campaign.Scheduler
	Composer  compose.Composer
	Dashboard *dashboard.Aggregator
	Queue     Queue
	Store     Pinger
	Loader    *config.Loader
	Logger    *slog.Logger
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	Deps
	logger *slog.Logger
	now    func() time.Time
}

// New creates an HTTP handler and registers all routes.
func New(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{Deps: d, logger: logger, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.loggingMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.Loader.Config().Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", ownerHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.listCustomers)
			r.Post("/", h.createCustomer)
			r.Get("/{id}", h.getCustomer)
			r.Delete("/{id}", h.deleteCustomer)
			r.Post("/{id}/activity", h.recordActivity)
		})
		r.Route("/segments", func(r chi.Router) {
			r.Get("/", h.listSegments)
			r.Post("/", h.createSegment)
			r.Post("/preview", h.previewSegment)
			r.Get("/{id}", h.getSegment)
			r.Delete("/{id}", h.deleteSegment)
		})
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.listCampaigns)
			r.Post("/", h.createCampaign)
			r.Get("/{id}", h.getCampaign)
			r.Delete("/{id}", h.deleteCampaign)
			r.Post("/{id}/launch", h.launchCampaign)
			r.Get("/{id}/deliveries", h.listDeliveries)
		})
		r.Get("/dashboard", h.dashboard)
		r.Get("/dashboard/reconcile", h.reconcile)
		r.Post("/generate-messages", h.generateMessages)
	})

	return r
}

// owner scopes segment and campaign names. Requests without the header share one owner.
func owner(r *http.Request) string {
	if o := strings.TrimSpace(r.Header.Get(ownerHeader)); o != "" {
		return o
	}
	return defaultOwner
}

func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		attrs := append(logAttrs(r, rec.status),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
		h.logger.Info("http request", attrs...)
	})
}

// GET /healthz
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz is unready while the store is unreachable or the delivery queue is
// above 80%.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unavailable", "error": err.Error()})
			return
		}
	}
	var util float64
	if h.Queue != nil {
		util = h.Queue.QueueUtilization()
	}
	if util > readyThreshold {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}
