// Package httpapi exposes the platform over REST.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	app "github.com/fl2m/platform/internal/app"
	"github.com/fl2m/platform/internal/app/metrics"
	"github.com/fl2m/platform/internal/middleware"
	"github.com/fl2m/platform/pkg/logger"
)

// Options configures the router.
type Options struct {
	JWTSecret         string
	CORSOrigins       []string
	RequestsPerSecond float64
	Burst             int
	AdminRole         string
	AuditSize         int
	Log               *logger.Logger
}

// Router builds the HTTP handler. The returned RateLimiter lets the caller
// schedule visitor cleanup.
type Router struct {
	http.Handler
	Limiter *middleware.RateLimiter
}

// NewRouter wires every route onto a gorilla/mux router.
func NewRouter(application *app.Application, opts Options) *Router {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("http")
	}
	if opts.AdminRole == "" {
		opts.AdminRole = "admin"
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}

	h := &handler{app: application, log: log, audit: newAuditLog(opts.AuditSize, log.Named("audit"))}
	limiter := middleware.NewRateLimiter(opts.RequestsPerSecond, opts.Burst, log.Named("ratelimit"))
	auth := middleware.NewAuthMiddleware(opts.JWTSecret, log.Named("auth"))

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(h.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.methodNotAllowed)

	// public
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/stripe", h.stripeWebhook).Methods(http.MethodPost)
	pub := r.NewRoute().Subrouter()
	pub.Use(limiter.Handler)
	pub.HandleFunc("/practitioners", h.listPractitioners).Methods(http.MethodGet)
	pub.HandleFunc("/practitioners/{id}", h.getPractitioner).Methods(http.MethodGet)

	// authenticated
	api := r.NewRoute().Subrouter()
	api.Use(auth.Handler, limiter.Handler, h.ensureProfile)

	api.HandleFunc("/me", h.getMe).Methods(http.MethodGet)
	api.HandleFunc("/me", h.updateMe).Methods(http.MethodPatch)
	api.HandleFunc("/me/numerology", h.numerology).Methods(http.MethodGet)
	api.HandleFunc("/me/practitioner", h.getMyPractitioner).Methods(http.MethodGet)
	api.HandleFunc("/me/practitioner", h.becomePractitioner).Methods(http.MethodPost)
	api.HandleFunc("/me/practitioner", h.updatePractitioner).Methods(http.MethodPatch)
	api.HandleFunc("/me/practitioner/connect", h.connectAccount).Methods(http.MethodPost)
	api.HandleFunc("/me/practitioner/connect/refresh", h.refreshAccount).Methods(http.MethodPost)
	api.HandleFunc("/me/contracts", h.listContracts).Methods(http.MethodGet)
	api.HandleFunc("/me/contracts", h.createContract).Methods(http.MethodPost)
	api.HandleFunc("/me/contracts/{id}/cancel", h.cancelContract).Methods(http.MethodPost)

	api.HandleFunc("/beneficiaries", h.listBeneficiaries).Methods(http.MethodGet)
	api.HandleFunc("/beneficiaries", h.createBeneficiary).Methods(http.MethodPost)
	api.HandleFunc("/beneficiaries/{id}", h.getBeneficiary).Methods(http.MethodGet)
	api.HandleFunc("/beneficiaries/{id}", h.updateBeneficiary).Methods(http.MethodPatch)
	api.HandleFunc("/beneficiaries/{id}", h.deleteBeneficiary).Methods(http.MethodDelete)
	api.HandleFunc("/beneficiaries/{id}/grants", h.listGrants).Methods(http.MethodGet)
	api.HandleFunc("/beneficiaries/{id}/grants", h.grantAccess).Methods(http.MethodPost)
	api.HandleFunc("/beneficiaries/{id}/grants/{profileID}", h.revokeAccess).Methods(http.MethodDelete)
	api.HandleFunc("/beneficiaries/{id}/invitations", h.listInvitations).Methods(http.MethodGet)
	api.HandleFunc("/beneficiaries/{id}/invitations", h.invite).Methods(http.MethodPost)
	api.HandleFunc("/beneficiaries/{id}/invitations/{invitationID}", h.revokeInvitation).Methods(http.MethodDelete)
	api.HandleFunc("/invitations/accept", h.acceptInvitation).Methods(http.MethodPost)
	api.HandleFunc("/beneficiaries/{id}/documents", h.listDocuments).Methods(http.MethodGet)
	api.HandleFunc("/beneficiaries/{id}/documents", h.uploadDocument).Methods(http.MethodPost)
	api.HandleFunc("/beneficiaries/{id}/documents/{docID}/url", h.documentURL).Methods(http.MethodGet)
	api.HandleFunc("/beneficiaries/{id}/documents/{docID}", h.deleteDocument).Methods(http.MethodDelete)

	api.HandleFunc("/appointments", h.listAppointments).Methods(http.MethodGet)
	api.HandleFunc("/appointments", h.bookAppointment).Methods(http.MethodPost)
	api.HandleFunc("/appointments/{id}", h.getAppointment).Methods(http.MethodGet)
	api.HandleFunc("/appointments/{id}/cancel", h.cancelAppointment).Methods(http.MethodPost)
	api.HandleFunc("/appointments/{id}/validate", h.validateAppointment).Methods(http.MethodPost)
	api.HandleFunc("/appointments/{id}/checkout", h.checkout).Methods(http.MethodPost)

	api.HandleFunc("/invoices", h.listInvoices).Methods(http.MethodGet)
	api.HandleFunc("/invoices/{id}", h.getInvoice).Methods(http.MethodGet)

	api.HandleFunc("/draws/today", h.drawToday).Methods(http.MethodGet)
	api.HandleFunc("/draws/history", h.drawHistory).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireRole(opts.AdminRole), func(next http.Handler) http.Handler {
		return wrapWithAudit(next, h.audit)
	})
	admin.HandleFunc("/payouts/run", h.runPayouts).Methods(http.MethodPost)
	admin.HandleFunc("/contracts/activate", h.activateContracts).Methods(http.MethodPost)
	admin.HandleFunc("/appointments/auto-validate", h.autoValidate).Methods(http.MethodPost)
	admin.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)

	var root http.Handler = r
	root = middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(root)
	root = metrics.InstrumentHandler(root)
	root = middleware.NewTracingMiddleware(log).Handler(root)

	return &Router{Handler: root, Limiter: limiter}
}
