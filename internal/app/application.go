package app

import (
	"context"
	"fmt"
	"time"

	"github.com/fl2m/platform/internal/app/domain/contract"
	"github.com/fl2m/platform/internal/app/services/appointments"
	"github.com/fl2m/platform/internal/app/services/beneficiaries"
	"github.com/fl2m/platform/internal/app/services/contracts"
	"github.com/fl2m/platform/internal/app/services/dailydraw"
	"github.com/fl2m/platform/internal/app/services/invoices"
	"github.com/fl2m/platform/internal/app/services/payments"
	"github.com/fl2m/platform/internal/app/services/profiles"
	"github.com/fl2m/platform/internal/app/storage"
	"github.com/fl2m/platform/internal/app/storage/memory"
	"github.com/fl2m/platform/internal/app/system"
	"github.com/fl2m/platform/internal/cache"
	"github.com/fl2m/platform/internal/config"
	"github.com/fl2m/platform/internal/notify"
	"github.com/fl2m/platform/internal/stripeconnect"
	"github.com/fl2m/platform/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Profiles      storage.ProfileStore
	Contracts     storage.ContractStore
	Beneficiaries storage.BeneficiaryStore
	Appointments  storage.AppointmentStore
	Payments      storage.PaymentStore
	Invoices      storage.InvoiceStore
	Draws         storage.DrawStore
}

func (s Stores) withDefaults() Stores {
	var mem *memory.Store
	fill := func() *memory.Store {
		if mem == nil {
			mem = memory.New()
		}
		return mem
	}
	if s.Profiles == nil {
		s.Profiles = fill()
	}
	if s.Contracts == nil {
		s.Contracts = fill()
	}
	if s.Beneficiaries == nil {
		s.Beneficiaries = fill()
	}
	if s.Appointments == nil {
		s.Appointments = fill()
	}
	if s.Payments == nil {
		s.Payments = fill()
	}
	if s.Invoices == nil {
		s.Invoices = fill()
	}
	if s.Draws == nil {
		s.Draws = fill()
	}
	return s
}

// Dependencies are the external integrations. Nil values fall back to local
// implementations: the Stripe fake, a logging mailer, an in-process draw
// cache and no document storage.
type Dependencies struct {
	Gateway   stripeconnect.Gateway
	Mailer    notify.Mailer
	Files     beneficiaries.FileStore
	DrawCache cache.DrawCache
	Catalog   contract.Catalog
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	cron    *system.CronService
	jobs    []system.Job
	log     *logger.Logger

	Profiles      *profiles.Service
	Contracts     *contracts.Service
	Beneficiaries *beneficiaries.Service
	Appointments  *appointments.Service
	Payments      *payments.Service
	Invoices      *invoices.Service
	Draws         *dailydraw.Service
}

// New builds a fully initialised application.
func New(cfg config.Config, stores Stores, deps Dependencies, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	stores = stores.withDefaults()

	if len(deps.Catalog.Plans) == 0 {
		catalog, err := config.LoadPlans(cfg.PlansFile)
		if err != nil {
			return nil, err
		}
		deps.Catalog = catalog
	} else if err := deps.Catalog.Validate(); err != nil {
		return nil, fmt.Errorf("plan catalog: %w", err)
	}
	if deps.Gateway == nil {
		log.Warn("no Stripe gateway configured; using the in-memory fake")
		deps.Gateway = stripeconnect.NewFake(cfg.Stripe.WebhookSecret)
	}
	if deps.Mailer == nil {
		deps.Mailer = notify.NewLogMailer(log.Named("mail"))
	}
	if deps.DrawCache == nil {
		deps.DrawCache = cache.NewMemory()
	}
	loc := cfg.Jobs.Location()

	notifier := notify.New(deps.Mailer, log.Named("notify"))
	contractSvc := contracts.New(stores.Contracts, deps.Catalog, loc, log.Named("contracts"))
	profileSvc := profiles.New(stores.Profiles, contractSvc, log.Named("profiles"))
	beneficiarySvc := beneficiaries.New(stores.Beneficiaries, stores.Profiles, deps.Files, notifier, beneficiaries.Config{
		Bucket:    cfg.Supabase.DocumentBucket,
		PublicURL: cfg.Server.PublicURL,
	}, log.Named("beneficiaries"))
	invoiceSvc := invoices.New(stores.Invoices, stores.Payments, stores.Profiles, notifier, loc, log.Named("invoices"))
	paymentSvc := payments.New(stores.Payments, stores.Appointments, stores.Profiles, contractSvc, invoiceSvc, deps.Gateway, notifier, payments.Config{
		Currency:       cfg.Stripe.Currency,
		AccountCountry: cfg.Stripe.AccountCountry,
		PublicURL:      cfg.Server.PublicURL,
		Hold:           cfg.Payouts.Hold,
		StaleWindow:    cfg.Payouts.StaleWindow,
		BatchSize:      cfg.Payouts.BatchSize,
	}, log.Named("payments"))
	appointmentSvc := appointments.New(stores.Appointments, stores.Profiles, contractSvc, beneficiarySvc, paymentSvc, notifier, appointments.Config{
		MinLeadTime:       cfg.Appointments.MinLeadTime,
		AutoValidateAfter: cfg.Appointments.AutoValidateAfter,
	}, log.Named("appointments"))
	drawSvc := dailydraw.New(stores.Draws, stores.Profiles, stores.Beneficiaries, beneficiarySvc, deps.DrawCache, loc, log.Named("dailydraw"))

	application := &Application{
		manager:       system.NewManager(log.Named("system")),
		log:           log,
		Profiles:      profileSvc,
		Contracts:     contractSvc,
		Beneficiaries: beneficiarySvc,
		Appointments:  appointmentSvc,
		Payments:      paymentSvc,
		Invoices:      invoiceSvc,
		Draws:         drawSvc,
	}
	application.jobs = application.scheduledJobs(cfg)

	if cfg.Jobs.Enabled {
		application.cron = system.NewCronService(loc, log.Named("cron"))
		for _, job := range application.jobs {
			if err := application.cron.Add(job); err != nil {
				return nil, fmt.Errorf("schedule %s: %w", job.Name, err)
			}
		}
		application.manager.Register(application.cron)
	}
	return application, nil
}

// Job names.
const (
	JobPayouts           = "payouts"
	JobActivateContracts = "contracts-activate"
	JobAutoValidate      = "appointments-auto-validate"
	JobExpireInvitations = "invitations-expire"
)

func (a *Application) scheduledJobs(cfg config.Config) []system.Job {
	return []system.Job{
		{
			Name:     JobPayouts,
			Schedule: cfg.Payouts.Schedule,
			Timeout:  10 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.Payments.ProcessPayouts(ctx, time.Now())
				return err
			},
		},
		{
			Name:     JobActivateContracts,
			Schedule: cfg.Jobs.ContractSchedule,
			Timeout:  5 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.Contracts.ActivateDue(ctx, time.Now())
				return err
			},
		},
		{
			Name:     JobAutoValidate,
			Schedule: cfg.Jobs.ValidateSchedule,
			Timeout:  5 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.Appointments.AutoValidate(ctx, time.Now())
				return err
			},
		},
		{
			Name:     JobExpireInvitations,
			Schedule: cfg.Jobs.InviteSchedule,
			Timeout:  time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.Beneficiaries.ExpireInvitations(ctx, time.Now())
				return err
			},
		},
	}
}

// Job returns the scheduled job with the given name so it can be run on
// demand.
func (a *Application) Job(name string) (system.Job, bool) {
	for _, job := range a.jobs {
		if job.Name == name {
			return job, true
		}
	}
	return system.Job{}, false
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) {
	a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
