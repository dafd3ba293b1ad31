// Package server exposes the REST API. Handlers parse and authorize;
// the engines and services under internal/ own the semantics.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/quantumlife/timeledger/internal/auth"
	"github.com/quantumlife/timeledger/internal/classify"
	"github.com/quantumlife/timeledger/internal/connectors/calendar/providers/google"
	"github.com/quantumlife/timeledger/internal/invoice"
	"github.com/quantumlife/timeledger/internal/store"
	"github.com/quantumlife/timeledger/internal/syncengine"
	"github.com/quantumlife/timeledger/internal/timeentry"
)

// Stores bundles the persistence handles the handlers touch directly.
type Stores struct {
	Users       *store.UserStore
	Projects    *store.ProjectStore
	Rules       *store.ClassificationRuleStore
	Events      *store.CalendarEventStore
	Calendars   *store.CalendarStore
	Connections *store.CalendarConnectionStore
	Jobs        *store.SyncJobStore
	Invoices    *store.InvoiceStore
	Billing     *store.BillingPeriodStore
}

// Server is the HTTP surface.
type Server struct {
	log          *zap.Logger
	auth         *auth.Service
	stores       Stores
	classifier   *classify.Service
	materializer *timeentry.Materializer
	invoices     *invoice.Engine
	engine       *syncengine.Engine
	google       *google.Connector
	secureCookie bool
}

// New wires the server.
func New(log *zap.Logger, authSvc *auth.Service, stores Stores, classifier *classify.Service, materializer *timeentry.Materializer, invoices *invoice.Engine, engine *syncengine.Engine, googleConnector *google.Connector, secureCookie bool) *Server {
	return &Server{
		log:          log,
		auth:         authSvc,
		stores:       stores,
		classifier:   classifier,
		materializer: materializer,
		invoices:     invoices,
		engine:       engine,
		google:       googleConnector,
		secureCookie: secureCookie,
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// Public surface.
	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/logout", s.handleLogout)
	r.Get("/oauth/authorize", s.handleOAuthAuthorize)
	r.Post("/oauth/token", s.handleOAuthToken)
	r.Get("/healthz", s.handleHealth)

	// Authenticated surface.
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/me", s.handleMe)
		r.Post("/oauth/approve", s.handleOAuthApprove)

		r.Route("/api-keys", func(r chi.Router) {
			r.Get("/", s.handleListAPIKeys)
			r.Post("/", s.handleCreateAPIKey)
			r.Delete("/{id}", s.handleDeleteAPIKey)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.handleListProjects)
			r.Post("/", s.handleCreateProject)
			r.Put("/{id}", s.handleUpdateProject)
			r.Delete("/{id}", s.handleDeleteProject)
			r.Get("/{id}/billing-periods", s.handleListBillingPeriods)
			r.Post("/{id}/billing-periods", s.handleCreateBillingPeriod)
		})
		r.Put("/billing-periods/{id}", s.handleUpdateBillingPeriod)
		r.Delete("/billing-periods/{id}", s.handleDeleteBillingPeriod)

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", s.handleListConnections)
			r.Post("/google", s.handleConnectGoogle)
			r.Get("/google/callback", s.handleGoogleCallback)
			r.Delete("/{id}", s.handleDeleteConnection)
		})

		r.Route("/calendars", func(r chi.Router) {
			r.Get("/", s.handleListCalendars)
			r.Put("/{id}/selected", s.handleSelectCalendar)
			r.Post("/{id}/reauthorized", s.handleClearQuarantine)
		})
		r.Post("/sync", s.handleSync)

		r.Route("/calendar-events", func(r chi.Router) {
			r.Get("/", s.handleListEvents)
			r.Post("/classify-matching", s.handleClassifyMatching)
			r.Post("/{id}/classify", s.handleClassifyEvent)
			r.Post("/{id}/unclassify", s.handleUnclassifyEvent)
			r.Put("/{id}/suppressed", s.handleSuppressEvent)
			r.Get("/{id}/explain", s.handleExplainEvent)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Put("/{id}", s.handleUpdateRule)
			r.Delete("/{id}", s.handleDeleteRule)
			r.Post("/apply", s.handleApplyRules)
		})

		r.Route("/time-entries", func(r chi.Router) {
			r.Get("/", s.handleListTimeEntries)
			r.Put("/", s.handleSetTimeEntry)
			r.Post("/refresh", s.handleRefreshTimeEntry)
			r.Put("/pinned", s.handlePinTimeEntry)
			r.Put("/suppressed", s.handleSuppressTimeEntry)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", s.handleListInvoices)
			r.Post("/", s.handleCreateInvoice)
			r.Get("/{id}", s.handleGetInvoice)
			r.Put("/{id}/status", s.handleInvoiceStatus)
			r.Delete("/{id}", s.handleDeleteInvoice)
		})

		r.Post("/config/export", s.handleConfigExport)
		r.Post("/config/import", s.handleConfigImport)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
