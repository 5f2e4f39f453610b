package service

import (
	"context"
	"strings"

	"github.com/bitvend/bitvend/internal/clock"
	incidentdomain "github.com/bitvend/bitvend/internal/incident/domain"
	obsmetrics "github.com/bitvend/bitvend/internal/observability/metrics"
	"github.com/bitvend/bitvend/internal/order/domain"
	outboxdomain "github.com/bitvend/bitvend/internal/outbox/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	OutboxRepo   outboxdomain.Repository
	IncidentRepo incidentdomain.Repository
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	outboxRepo   outboxdomain.Repository
	incidentRepo incidentdomain.Repository
	metrics      *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("order.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		outboxRepo:   p.OutboxRepo,
		incidentRepo: p.IncidentRepo,
		metrics:      p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	if req.BuyerID == 0 {
		return nil, domain.ErrInvalidBuyer
	}
	if req.Amount.IsZero() || req.Amount.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, domain.ErrInvalidCurrency
	}

	now := s.clock.Now()
	order := &domain.Order{
		ID:        s.genID.Generate(),
		BuyerID:   req.BuyerID,
		ProductID: req.ProductID,
		Amount:    req.Amount,
		Currency:  currency,
		State:     domain.StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, order); err != nil {
		return nil, err
	}

	s.log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.Int64("buyer_id", order.BuyerID),
		zap.String("amount", order.Amount.String()),
		zap.String("currency", order.Currency),
	)
	return order, nil
}

func (s *Service) AttachInvoice(ctx context.Context, orderID snowflake.ID, gatewayInvoiceID string) error {
	gatewayInvoiceID = strings.TrimSpace(gatewayInvoiceID)
	if gatewayInvoiceID == "" {
		return domain.ErrConflict
	}
	if err := s.repo.AttachInvoice(ctx, s.db, orderID, gatewayInvoiceID, s.clock.Now()); err != nil {
		return err
	}
	s.log.Info("invoice attached",
		zap.String("order_id", orderID.String()),
		zap.String("gateway_invoice_id", gatewayInvoiceID),
	)
	return nil
}

// ApplyPayment drives the state machine for a verified gateway notification.
// It is safe to call concurrently for the same invoice: all mutation happens
// through a compare-and-swap transition and the outbox entry is written in
// the same transaction.
func (s *Service) ApplyPayment(ctx context.Context, req domain.ApplyPaymentRequest) (domain.Outcome, error) {
	if !req.TargetState.Terminal() {
		return "", domain.ErrInvalidTransition
	}

	order, err := s.repo.FindByInvoice(ctx, s.db, req.GatewayInvoiceID)
	if err != nil {
		return "", err
	}
	if order == nil {
		return "", domain.ErrNotFound
	}

	log := s.log.With(
		zap.String("order_id", order.ID.String()),
		zap.String("gateway_invoice_id", req.GatewayInvoiceID),
		zap.String("target_state", string(req.TargetState)),
	)

	// Duplicate delivery of the status already recorded is a no-op success.
	if order.State == req.TargetState {
		log.Info("duplicate gateway notification, order already resolved")
		return domain.OutcomeDuplicate, nil
	}
	if order.State == domain.StateNotified {
		return s.resolveAfterNotified(ctx, order, req, log)
	}
	if order.State.Terminal() {
		s.flagIncident(ctx, order, req, incidentdomain.ReasonConflictingStatus, map[string]any{
			"recorded_state": string(order.State),
		})
		log.Warn("conflicting terminal status rejected",
			zap.String("recorded_state", string(order.State)),
		)
		return "", domain.ErrStateConflict
	}

	// Amount and currency must match the stored order exactly; a mismatch is
	// flagged for manual review, never auto-corrected.
	if order.Currency != strings.ToUpper(strings.TrimSpace(req.Currency)) {
		s.flagIncident(ctx, order, req, incidentdomain.ReasonCurrencyMismatch, map[string]any{
			"stored_currency":   order.Currency,
			"reported_currency": req.Currency,
		})
		log.Warn("currency mismatch rejected")
		return "", domain.ErrStateConflict
	}
	if !order.Amount.Equal(req.Amount) {
		s.flagIncident(ctx, order, req, incidentdomain.ReasonAmountMismatch, map[string]any{
			"stored_amount":   order.Amount.String(),
			"reported_amount": req.Amount.String(),
		})
		log.Warn("amount mismatch rejected",
			zap.String("stored_amount", order.Amount.String()),
			zap.String("reported_amount", req.Amount.String()),
		)
		return "", domain.ErrStateConflict
	}

	now := s.clock.Now()
	var applied bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		applied, txErr = s.repo.Transition(ctx, tx, order.ID, req.TargetState, domain.ExpectedStates(req.TargetState), now)
		if txErr != nil {
			return txErr
		}
		if !applied {
			return nil
		}
		return s.outboxRepo.Insert(ctx, tx, &outboxdomain.Entry{
			ID:            s.genID.Generate(),
			OrderID:       order.ID,
			TargetState:   string(req.TargetState),
			NextAttemptAt: now,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return "", err
	}
	if applied {
		if s.metrics != nil {
			s.metrics.OrderTransitions.WithLabelValues(string(req.TargetState)).Inc()
			s.metrics.OutboxEnqueued.Inc()
		}
		log.Info("order resolved", zap.String("previous_state", string(order.State)))
		return domain.OutcomeApplied, nil
	}

	// Lost the compare-and-swap. Re-read to find out who won.
	return s.resolveRace(ctx, order.ID, req, log)
}

// resolveAfterNotified handles redelivery for an order that already completed
// the whole lifecycle. The outbox entry records which terminal state the
// order passed through, so a redelivered matching status stays idempotent.
func (s *Service) resolveAfterNotified(ctx context.Context, order *domain.Order, req domain.ApplyPaymentRequest, log *zap.Logger) (domain.Outcome, error) {
	entry, err := s.outboxRepo.FindByOrder(ctx, s.db, order.ID)
	if err != nil {
		return "", err
	}
	if entry != nil && entry.TargetState == string(req.TargetState) {
		log.Info("duplicate gateway notification, order already notified")
		return domain.OutcomeDuplicate, nil
	}
	s.flagIncident(ctx, order, req, incidentdomain.ReasonConflictingStatus, map[string]any{
		"recorded_state": string(domain.StateNotified),
	})
	log.Warn("conflicting status for notified order rejected")
	return "", domain.ErrStateConflict
}

func (s *Service) resolveRace(ctx context.Context, orderID snowflake.ID, req domain.ApplyPaymentRequest, log *zap.Logger) (domain.Outcome, error) {
	current, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return "", err
	}
	if current == nil {
		return "", domain.ErrNotFound
	}
	if current.State == req.TargetState || current.State == domain.StateNotified {
		log.Info("concurrent delivery already applied the transition")
		return domain.OutcomeDuplicate, nil
	}
	if current.State.Terminal() {
		s.flagIncident(ctx, current, req, incidentdomain.ReasonConflictingStatus, map[string]any{
			"recorded_state": string(current.State),
		})
		log.Warn("conflicting terminal status rejected after race",
			zap.String("recorded_state", string(current.State)),
		)
		return "", domain.ErrStateConflict
	}
	return "", domain.ErrStaleState
}

// MarkNotified moves a resolved order to its final state once the buyer
// notification was acknowledged. No outbox entry is written for this step.
func (s *Service) MarkNotified(ctx context.Context, orderID snowflake.ID) error {
	applied, err := s.repo.Transition(ctx, s.db, orderID, domain.StateNotified, domain.ExpectedStates(domain.StateNotified), s.clock.Now())
	if err != nil {
		return err
	}
	if applied {
		if s.metrics != nil {
			s.metrics.OrderTransitions.WithLabelValues(string(domain.StateNotified)).Inc()
		}
		return nil
	}

	current, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return err
	}
	switch {
	case current == nil:
		return domain.ErrNotFound
	case current.State == domain.StateNotified:
		return nil
	default:
		return domain.ErrInvalidTransition
	}
}

func (s *Service) GetByID(ctx context.Context, orderID snowflake.ID) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *Service) GetByInvoice(ctx context.Context, gatewayInvoiceID string) (*domain.Order, error) {
	order, err := s.repo.FindByInvoice(ctx, s.db, gatewayInvoiceID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

// flagIncident persists a manual-review record. Incident writes are best
// effort relative to the caller's error: the rejection stands even if the
// incident row could not be written.
func (s *Service) flagIncident(ctx context.Context, order *domain.Order, req domain.ApplyPaymentRequest, reason string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["target_state"] = string(req.TargetState)
	details["reported_amount"] = req.Amount.String()
	details["reported_currency"] = req.Currency

	orderID := order.ID
	invoiceID := req.GatewayInvoiceID
	incident := &incidentdomain.Incident{
		ID:               s.genID.Generate(),
		OrderID:          &orderID,
		GatewayInvoiceID: &invoiceID,
		Reason:           reason,
		Details:          datatypes.JSONMap(details),
		Payload:          datatypes.JSON(req.RawPayload),
		CreatedAt:        s.clock.Now(),
	}
	if err := s.incidentRepo.Insert(ctx, s.db, incident); err != nil {
		s.log.Error("failed to persist incident",
			zap.String("order_id", order.ID.String()),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	if s.metrics != nil {
		s.metrics.IncidentsFlagged.WithLabelValues(reason).Inc()
	}
}
