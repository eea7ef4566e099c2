//go:build integration && postgres

package httpapi

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	app "github.com/fl2m/platform/internal/app"
	"github.com/fl2m/platform/internal/app/storage/postgres"
	"github.com/fl2m/platform/internal/platform/migrations"
)

// Runs the booking flow against a migrated Postgres database.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, dsn, 5, 2, time.Minute)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := postgres.New(db)
	env := newTestEnvWithStores(t, app.Stores{
		Profiles:      store,
		Contracts:     store,
		Beneficiaries: store,
		Appointments:  store,
		Payments:      store,
		Invoices:      store,
		Draws:         store,
	})

	// Supabase user ids are uuids; fresh ones keep reruns independent.
	pracToken := signToken(t, uuid.NewString(), "pg-prac@example.com", "")
	rec := env.do(t, http.MethodPost, "/me/practitioner", pracToken, map[string]any{
		"display_name": "PG Practitioner",
		"price_cents":  5000,
	})
	expectStatus(t, rec, http.StatusCreated)
	var pr map[string]any
	decode(t, rec, &pr)

	clientToken := signToken(t, uuid.NewString(), "pg-client@example.com", "")
	start := time.Now().Add(96 * time.Hour).UTC().Truncate(time.Hour)
	rec = env.do(t, http.MethodPost, "/appointments", clientToken, map[string]any{
		"practitioner_id": pr["id"],
		"start_time":      start.Format(time.RFC3339),
	})
	expectStatus(t, rec, http.StatusCreated)
	var appt map[string]any
	decode(t, rec, &appt)

	rec = env.do(t, http.MethodPost, "/appointments/"+appt["id"].(string)+"/checkout", clientToken, nil)
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodGet, "/appointments", clientToken, nil)
	expectStatus(t, rec, http.StatusOK)
	var list []map[string]any
	decode(t, rec, &list)
	if len(list) != 1 {
		t.Fatalf("expected one persisted appointment, got %d", len(list))
	}
}
