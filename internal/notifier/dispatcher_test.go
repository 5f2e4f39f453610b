package notifier_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bitvend/bitvend/internal/clock"
	"github.com/bitvend/bitvend/internal/config"
	incidentdomain "github.com/bitvend/bitvend/internal/incident/domain"
	incidentrepo "github.com/bitvend/bitvend/internal/incident/repository"
	"github.com/bitvend/bitvend/internal/notifier"
	orderdomain "github.com/bitvend/bitvend/internal/order/domain"
	orderrepo "github.com/bitvend/bitvend/internal/order/repository"
	orderservice "github.com/bitvend/bitvend/internal/order/service"
	outboxdomain "github.com/bitvend/bitvend/internal/outbox/domain"
	outboxrepo "github.com/bitvend/bitvend/internal/outbox/repository"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeMessenger struct {
	mu       sync.Mutex
	failures int
	sent     []string
}

func (m *fakeMessenger) Send(ctx context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("telegram unreachable")
	}
	m.sent = append(m.sent, text)
	return nil
}

func (m *fakeMessenger) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fixture struct {
	db        *gorm.DB
	clk       *clock.FakeClock
	orderSvc  orderdomain.Service
	outbox    outboxdomain.Repository
	incident  incidentdomain.Repository
	messenger *fakeMessenger
	dcfg      config.DispatchConfig
	disp      *notifier.Dispatcher
}

func newFixture(t *testing.T, dcfg config.DispatchConfig) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(13)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	outboxRepo := outboxrepo.Provide()
	incidentRepo := incidentrepo.Provide()
	orderRepo := orderrepo.Provide()
	orderSvc := orderservice.NewService(orderservice.Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Repo:         orderRepo,
		OutboxRepo:   outboxRepo,
		IncidentRepo: incidentRepo,
	})
	messenger := &fakeMessenger{}
	disp := notifier.New(notifier.Params{
		DB:           db,
		Log:          zap.NewNop(),
		Holder:       config.HolderFor(dcfg),
		GenID:        node,
		Clock:        clk,
		OutboxRepo:   outboxRepo,
		OrderRepo:    orderRepo,
		OrderSvc:     orderSvc,
		IncidentRepo: incidentRepo,
		Messenger:    messenger,
	})
	return &fixture{
		db:        db,
		clk:       clk,
		orderSvc:  orderSvc,
		outbox:    outboxRepo,
		incident:  incidentRepo,
		messenger: messenger,
		dcfg:      dcfg,
		disp:      disp,
	}
}

func defaultDispatch() config.DispatchConfig {
	cfg := config.DefaultDispatchConfig()
	cfg.Workers = 2
	cfg.MaxAttempts = 3
	cfg.BaseBackoff = 10 * time.Second
	cfg.MaxBackoff = time.Minute
	return cfg
}

func (f *fixture) resolvedOrder(t *testing.T, invoiceID string, target orderdomain.State) *orderdomain.Order {
	t.Helper()
	ctx := context.Background()
	order, err := f.orderSvc.Create(ctx, orderdomain.CreateOrderRequest{
		BuyerID:  99,
		Amount:   decimal.RequireFromString("19.90"),
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := f.orderSvc.AttachInvoice(ctx, order.ID, invoiceID); err != nil {
		t.Fatalf("attach invoice: %v", err)
	}
	if _, err := f.orderSvc.ApplyPayment(ctx, orderdomain.ApplyPaymentRequest{
		GatewayInvoiceID: invoiceID,
		TargetState:      target,
		Amount:           order.Amount,
		Currency:         order.Currency,
	}); err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	return order
}

func TestRunOnceDeliversAndFinalizes(t *testing.T) {
	f := newFixture(t, defaultDispatch())
	ctx := context.Background()

	order := f.resolvedOrder(t, "inv_n1", orderdomain.StatePaid)

	if err := f.disp.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if f.messenger.sentCount() != 1 {
		t.Fatalf("expected one message, got %d", f.messenger.sentCount())
	}
	if !strings.Contains(f.messenger.sent[0], "Payment Successful") {
		t.Fatalf("unexpected message text: %q", f.messenger.sent[0])
	}
	if !strings.Contains(f.messenger.sent[0], "19.9 USD") {
		t.Fatalf("message must carry amount and currency: %q", f.messenger.sent[0])
	}

	got, err := f.orderSvc.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.State != orderdomain.StateNotified {
		t.Fatalf("expected notified, got %q", got.State)
	}
	if got.NotificationAttempts != 1 {
		t.Fatalf("expected one counted attempt, got %d", got.NotificationAttempts)
	}

	entry, err := f.outbox.FindByOrder(ctx, f.db, order.ID)
	if err != nil {
		t.Fatalf("find entry: %v", err)
	}
	if !entry.Delivered {
		t.Fatal("expected delivered entry")
	}

	// A second cycle finds nothing to do.
	if err := f.disp.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if f.messenger.sentCount() != 1 {
		t.Fatalf("delivered entries must not be re-sent, got %d messages", f.messenger.sentCount())
	}
}

func TestRunOnceRetriesWithBackoff(t *testing.T) {
	f := newFixture(t, defaultDispatch())
	ctx := context.Background()

	order := f.resolvedOrder(t, "inv_n2", orderdomain.StateFailed)
	f.messenger.failures = 1

	if err := f.disp.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if f.messenger.sentCount() != 0 {
		t.Fatal("first attempt should have failed")
	}

	// Within the backoff window nothing is retried.
	f.clk.Advance(f.dcfg.BaseBackoff / 2)
	if err := f.disp.RunOnce(ctx); err != nil {
		t.Fatalf("run during backoff: %v", err)
	}
	if f.messenger.sentCount() != 0 {
		t.Fatal("entry must not be retried before its backoff elapses")
	}

	f.clk.Advance(f.dcfg.BaseBackoff)
	if err := f.disp.RunOnce(ctx); err != nil {
		t.Fatalf("run after backoff: %v", err)
	}
	if f.messenger.sentCount() != 1 {
		t.Fatalf("expected delivery on retry, got %d messages", f.messenger.sentCount())
	}
	if !strings.Contains(f.messenger.sent[0], "Payment Failed") {
		t.Fatalf("unexpected message text: %q", f.messenger.sent[0])
	}

	got, err := f.orderSvc.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.State != orderdomain.StateNotified {
		t.Fatalf("expected notified, got %q", got.State)
	}
}

func TestRunOnceParksDeadEntryAfterMaxAttempts(t *testing.T) {
	cfg := defaultDispatch()
	cfg.MaxAttempts = 2
	f := newFixture(t, cfg)
	ctx := context.Background()

	order := f.resolvedOrder(t, "inv_n3", orderdomain.StateExpired)
	f.messenger.failures = 10

	for i := 0; i < cfg.MaxAttempts; i++ {
		if err := f.disp.RunOnce(ctx); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		f.clk.Advance(cfg.MaxBackoff + time.Second)
	}

	entry, err := f.outbox.FindByOrder(ctx, f.db, order.ID)
	if err != nil {
		t.Fatalf("find entry: %v", err)
	}
	if !entry.Dead {
		t.Fatalf("expected dead entry after %d attempts, got %+v", cfg.MaxAttempts, entry)
	}
	if entry.Attempts != cfg.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", cfg.MaxAttempts, entry.Attempts)
	}

	incidents, err := f.incident.ListOpen(ctx, f.db, 10)
	if err != nil {
		t.Fatalf("list incidents: %v", err)
	}
	if len(incidents) != 1 || incidents[0].Reason != incidentdomain.ReasonDeadOutboxEntry {
		t.Fatalf("expected one dead entry incident, got %+v", incidents)
	}

	// Dead entries are never picked up again.
	if err := f.disp.RunOnce(ctx); err != nil {
		t.Fatalf("run after dead: %v", err)
	}
	got, _ := f.outbox.FindByOrder(ctx, f.db, order.ID)
	if got.Attempts != cfg.MaxAttempts {
		t.Fatalf("dead entry must not be retried, attempts %d", got.Attempts)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_notifier_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

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
