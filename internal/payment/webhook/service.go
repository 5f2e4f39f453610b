package webhook

import (
	"context"
	"errors"
	"net/http"

	"github.com/bitvend/bitvend/internal/clock"
	incidentdomain "github.com/bitvend/bitvend/internal/incident/domain"
	obsmetrics "github.com/bitvend/bitvend/internal/observability/metrics"
	orderdomain "github.com/bitvend/bitvend/internal/order/domain"
	"github.com/bitvend/bitvend/internal/payment/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Outcome tells the HTTP layer how the callback was resolved. Every value
// except OutcomeError is a final answer the gateway should not retry.
type Outcome string

const (
	OutcomeApplied            Outcome = "applied"
	OutcomeDuplicate          Outcome = "duplicate"
	OutcomeUnknownInvoice     Outcome = "unknown_invoice"
	OutcomeConflict           Outcome = "conflict"
	OutcomeUnrecognizedStatus Outcome = "unrecognized_status"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Verifier     domain.Verifier
	OrderSvc     orderdomain.Service
	EventRepo    domain.EventRepository
	IncidentRepo incidentdomain.Repository
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

// Service ingests gateway callbacks: verify, parse, drive the order state
// machine, and record an audit row for every verified payload.
type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	verifier     domain.Verifier
	orderSvc     orderdomain.Service
	eventRepo    domain.EventRepository
	incidentRepo incidentdomain.Repository
	metrics      *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("payment.webhook"),
		genID:        p.GenID,
		clock:        p.Clock,
		verifier:     p.Verifier,
		orderSvc:     p.OrderSvc,
		eventRepo:    p.EventRepo,
		incidentRepo: p.IncidentRepo,
		metrics:      p.Metrics,
	}
}

// Ingest processes one callback delivery. The raw payload is not trusted
// until Verify accepts it; rejected payloads are logged without their
// content and never persisted.
func (s *Service) Ingest(ctx context.Context, payload []byte, headers http.Header) (Outcome, error) {
	if err := s.verifier.Verify(payload, headers); err != nil {
		s.count(obsmetrics.WebhookOutcomeInvalidSignature)
		s.log.Warn("webhook rejected: invalid signature",
			zap.Int("payload_bytes", len(payload)),
		)
		return "", domain.ErrInvalidSignature
	}

	notification, err := s.verifier.Parse(payload)
	if err != nil {
		s.count(obsmetrics.WebhookOutcomeMalformed)
		s.log.Warn("webhook rejected: malformed payload",
			zap.Int("payload_bytes", len(payload)),
		)
		return "", domain.ErrMalformedPayload
	}

	log := s.log.With(
		zap.String("gateway_invoice_id", notification.GatewayInvoiceID),
		zap.String("gateway_status", notification.RawStatus),
	)

	if notification.Status == domain.StatusUnrecognized {
		s.flagUnknownStatus(ctx, notification)
		s.recordEvent(ctx, notification, OutcomeUnrecognizedStatus)
		s.count(obsmetrics.WebhookOutcomeConflict)
		log.Warn("webhook acknowledged with unrecognized status")
		return OutcomeUnrecognizedStatus, nil
	}

	outcome, err := s.apply(ctx, notification)
	if err != nil {
		s.count(obsmetrics.WebhookOutcomeError)
		log.Error("webhook processing failed", zap.Error(err))
		return "", err
	}

	s.recordEvent(ctx, notification, outcome)
	s.count(string(outcome))
	log.Info("webhook processed", zap.String("outcome", string(outcome)))
	return outcome, nil
}

func (s *Service) apply(ctx context.Context, n *domain.Notification) (Outcome, error) {
	result, err := s.orderSvc.ApplyPayment(ctx, orderdomain.ApplyPaymentRequest{
		GatewayInvoiceID: n.GatewayInvoiceID,
		TargetState:      targetState(n.Status),
		Amount:           n.Amount,
		Currency:         n.Currency,
		RawPayload:       n.RawPayload,
	})
	switch {
	case err == nil && result == orderdomain.OutcomeApplied:
		return OutcomeApplied, nil
	case err == nil:
		return OutcomeDuplicate, nil
	case errors.Is(err, orderdomain.ErrNotFound):
		return OutcomeUnknownInvoice, nil
	case errors.Is(err, orderdomain.ErrStateConflict):
		return OutcomeConflict, nil
	default:
		return "", err
	}
}

func targetState(status domain.Status) orderdomain.State {
	switch status {
	case domain.StatusPaid:
		return orderdomain.StatePaid
	case domain.StatusFailed:
		return orderdomain.StateFailed
	case domain.StatusExpired:
		return orderdomain.StateExpired
	default:
		return ""
	}
}

// recordEvent writes the audit row. A failed audit write does not change the
// answer given to the gateway; it is logged and surfaced through metrics.
func (s *Service) recordEvent(ctx context.Context, n *domain.Notification, outcome Outcome) {
	event := &domain.WebhookEvent{
		ID:               s.genID.Generate(),
		GatewayInvoiceID: n.GatewayInvoiceID,
		Status:           n.RawStatus,
		Amount:           n.Amount.String(),
		Currency:         n.Currency,
		Outcome:          string(outcome),
		Payload:          datatypes.JSON(n.RawPayload),
		ReceivedAt:       s.clock.Now(),
	}
	if err := s.eventRepo.Insert(ctx, s.db, event); err != nil {
		s.log.Error("failed to persist webhook event",
			zap.String("gateway_invoice_id", n.GatewayInvoiceID),
			zap.Error(err),
		)
	}
}

func (s *Service) flagUnknownStatus(ctx context.Context, n *domain.Notification) {
	invoiceID := n.GatewayInvoiceID
	incident := &incidentdomain.Incident{
		ID:               s.genID.Generate(),
		GatewayInvoiceID: &invoiceID,
		Reason:           incidentdomain.ReasonUnknownStatus,
		Details: datatypes.JSONMap{
			"gateway_status":    n.RawStatus,
			"reported_amount":   n.Amount.String(),
			"reported_currency": n.Currency,
		},
		Payload:   datatypes.JSON(n.RawPayload),
		CreatedAt: s.clock.Now(),
	}
	if err := s.incidentRepo.Insert(ctx, s.db, incident); err != nil {
		s.log.Error("failed to persist incident",
			zap.String("gateway_invoice_id", n.GatewayInvoiceID),
			zap.Error(err),
		)
		return
	}
	if s.metrics != nil {
		s.metrics.IncidentsFlagged.WithLabelValues(incidentdomain.ReasonUnknownStatus).Inc()
	}
}

func (s *Service) count(outcome string) {
	if s.metrics != nil {
		s.metrics.WebhookReceived.WithLabelValues(outcome).Inc()
	}
}
