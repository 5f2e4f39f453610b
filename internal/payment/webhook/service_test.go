package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bitvend/bitvend/internal/clock"
	"github.com/bitvend/bitvend/internal/config"
	incidentdomain "github.com/bitvend/bitvend/internal/incident/domain"
	incidentrepo "github.com/bitvend/bitvend/internal/incident/repository"
	orderdomain "github.com/bitvend/bitvend/internal/order/domain"
	orderrepo "github.com/bitvend/bitvend/internal/order/repository"
	orderservice "github.com/bitvend/bitvend/internal/order/service"
	outboxrepo "github.com/bitvend/bitvend/internal/outbox/repository"
	paymentdomain "github.com/bitvend/bitvend/internal/payment/domain"
	"github.com/bitvend/bitvend/internal/payment/gateway"
	paymentrepo "github.com/bitvend/bitvend/internal/payment/repository"
	"github.com/bitvend/bitvend/internal/payment/webhook"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "whsec_ingest"

type fixture struct {
	db       *gorm.DB
	svc      *webhook.Service
	orderSvc orderdomain.Service
	events   paymentdomain.EventRepository
	incident incidentdomain.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(9)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	incidentRepo := incidentrepo.Provide()
	eventRepo := paymentrepo.Provide()
	orderSvc := orderservice.NewService(orderservice.Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Repo:         orderrepo.Provide(),
		OutboxRepo:   outboxrepo.Provide(),
		IncidentRepo: incidentRepo,
	})
	svc := webhook.NewService(webhook.Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Verifier:     gateway.NewAdapter(gateway.Params{Cfg: config.Config{GatewaySigningSecret: testSecret}}),
		OrderSvc:     orderSvc,
		EventRepo:    eventRepo,
		IncidentRepo: incidentRepo,
	})
	return &fixture{db: db, svc: svc, orderSvc: orderSvc, events: eventRepo, incident: incidentRepo}
}

func (f *fixture) createAwaiting(t *testing.T, invoiceID, amount string) *orderdomain.Order {
	t.Helper()
	ctx := context.Background()
	order, err := f.orderSvc.Create(ctx, orderdomain.CreateOrderRequest{
		BuyerID:  7,
		Amount:   decimal.RequireFromString(amount),
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := f.orderSvc.AttachInvoice(ctx, order.ID, invoiceID); err != nil {
		t.Fatalf("attach invoice: %v", err)
	}
	return order
}

func signedHeaders(payload []byte) http.Header {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(payload)
	h := http.Header{}
	h.Set(gateway.SignatureHeader, hex.EncodeToString(mac.Sum(nil)))
	return h
}

func callbackBody(invoiceID, status, amount string) []byte {
	return []byte(fmt.Sprintf(`{"invoice_id":%q,"status":%q,"amount":%q,"currency":"USD"}`, invoiceID, status, amount))
}

func TestIngestAppliesPaidCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.createAwaiting(t, "inv_1", "10.00")
	payload := callbackBody("inv_1", "paid", "10.00")

	outcome, err := f.svc.Ingest(ctx, payload, signedHeaders(payload))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if outcome != webhook.OutcomeApplied {
		t.Fatalf("expected applied, got %q", outcome)
	}

	got, err := f.orderSvc.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.State != orderdomain.StatePaid {
		t.Fatalf("expected paid, got %q", got.State)
	}

	events, err := f.events.ListByInvoice(ctx, f.db, "inv_1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one audit row, got %d", len(events))
	}
	if events[0].Outcome != string(webhook.OutcomeApplied) {
		t.Fatalf("expected applied audit outcome, got %q", events[0].Outcome)
	}
}

func TestIngestRedeliveryIsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createAwaiting(t, "inv_2", "10.00")
	payload := callbackBody("inv_2", "paid", "10.00")

	if _, err := f.svc.Ingest(ctx, payload, signedHeaders(payload)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	outcome, err := f.svc.Ingest(ctx, payload, signedHeaders(payload))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if outcome != webhook.OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %q", outcome)
	}

	// Every verified delivery leaves its own audit row.
	events, err := f.events.ListByInvoice(ctx, f.db, "inv_2", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected two audit rows, got %d", len(events))
	}
}

func TestIngestRejectsBadSignatureWithoutPersisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createAwaiting(t, "inv_3", "10.00")
	payload := callbackBody("inv_3", "paid", "10.00")
	headers := http.Header{}
	headers.Set(gateway.SignatureHeader, "deadbeef")

	if _, err := f.svc.Ingest(ctx, payload, headers); err != paymentdomain.ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	events, err := f.events.ListByInvoice(ctx, f.db, "inv_3", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("unverified payloads must not be persisted, got %d rows", len(events))
	}
}

func TestIngestRejectsMalformedSignedPayload(t *testing.T) {
	f := newFixture(t)

	payload := []byte(`{"status":"paid"}`)
	if _, err := f.svc.Ingest(context.Background(), payload, signedHeaders(payload)); err != paymentdomain.ErrMalformedPayload {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestIngestUnknownInvoice(t *testing.T) {
	f := newFixture(t)

	payload := callbackBody("inv_missing", "paid", "10.00")
	outcome, err := f.svc.Ingest(context.Background(), payload, signedHeaders(payload))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if outcome != webhook.OutcomeUnknownInvoice {
		t.Fatalf("expected unknown invoice, got %q", outcome)
	}
}

func TestIngestConflictingStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createAwaiting(t, "inv_4", "10.00")
	paid := callbackBody("inv_4", "paid", "10.00")
	if _, err := f.svc.Ingest(ctx, paid, signedHeaders(paid)); err != nil {
		t.Fatalf("paid delivery: %v", err)
	}

	failed := callbackBody("inv_4", "failed", "10.00")
	outcome, err := f.svc.Ingest(ctx, failed, signedHeaders(failed))
	if err != nil {
		t.Fatalf("conflicting delivery: %v", err)
	}
	if outcome != webhook.OutcomeConflict {
		t.Fatalf("expected conflict, got %q", outcome)
	}

	incidents, err := f.incident.ListOpen(ctx, f.db, 10)
	if err != nil {
		t.Fatalf("list incidents: %v", err)
	}
	if len(incidents) != 1 || incidents[0].Reason != incidentdomain.ReasonConflictingStatus {
		t.Fatalf("expected one conflicting status incident, got %+v", incidents)
	}
}

func TestIngestUnrecognizedStatusFlagsIncident(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createAwaiting(t, "inv_5", "10.00")
	payload := callbackBody("inv_5", "refund_requested", "10.00")

	outcome, err := f.svc.Ingest(ctx, payload, signedHeaders(payload))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if outcome != webhook.OutcomeUnrecognizedStatus {
		t.Fatalf("expected unrecognized status, got %q", outcome)
	}

	incidents, err := f.incident.ListOpen(ctx, f.db, 10)
	if err != nil {
		t.Fatalf("list incidents: %v", err)
	}
	if len(incidents) != 1 || incidents[0].Reason != incidentdomain.ReasonUnknownStatus {
		t.Fatalf("expected one unknown status incident, got %+v", incidents)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_webhook_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE orders (
			id BIGINT PRIMARY KEY,
			buyer_id BIGINT NOT NULL,
			product_id BIGINT,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			gateway_invoice_id TEXT,
			state TEXT NOT NULL,
			notification_attempts INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_orders_gateway_invoice_id ON orders(gateway_invoice_id) WHERE gateway_invoice_id IS NOT NULL`,
		`CREATE TABLE outbox_entries (
			id BIGINT PRIMARY KEY,
			order_id BIGINT NOT NULL,
			target_state TEXT NOT NULL,
			delivered BOOLEAN NOT NULL DEFAULT FALSE,
			dead BOOLEAN NOT NULL DEFAULT FALSE,
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMP NOT NULL,
			lease_token TEXT,
			lease_expires_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			delivered_at TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX ux_outbox_order_target ON outbox_entries(order_id, target_state)`,
		`CREATE TABLE webhook_events (
			id BIGINT PRIMARY KEY,
			gateway_invoice_id TEXT NOT NULL,
			status TEXT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			outcome TEXT NOT NULL,
			payload TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE incidents (
			id BIGINT PRIMARY KEY,
			order_id BIGINT,
			gateway_invoice_id TEXT,
			reason TEXT NOT NULL,
			details TEXT NOT NULL,
			payload TEXT,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}
