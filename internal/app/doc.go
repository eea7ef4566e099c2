// Package app composes the FL²M platform.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Service wiring, scheduled jobs and lifecycle
//	├── domain/             # Domain models (profiles, appointments, payments, ...)
//	├── storage/            # Store interfaces plus memory and postgres implementations
//	├── services/           # Business logic, one package per domain
//	├── httpapi/            # REST handlers and routing
//	├── runtime/            # Process wiring from configuration
//	├── system/             # Lifecycle manager and cron scheduler
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/fl2m
//	      │
//	      ▼
//	internal/app/runtime ──► internal/app (composition) ──► internal/app/services
//	                                                              │
//	                                                              ▼
//	                                            internal/app/storage, stripeconnect,
//	                                            notify, supabase, cache
//
// Services depend on store interfaces, never on a concrete store. Cross
// service calls that would create import cycles go through small interfaces
// declared by the caller (for example appointments.Settlement).
package app
