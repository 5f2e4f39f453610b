package notifier

import (
	"context"
	"time"

	"github.com/bitvend/bitvend/internal/clock"
	"github.com/bitvend/bitvend/internal/config"
	incidentdomain "github.com/bitvend/bitvend/internal/incident/domain"
	obsmetrics "github.com/bitvend/bitvend/internal/observability/metrics"
	orderdomain "github.com/bitvend/bitvend/internal/order/domain"
	outboxdomain "github.com/bitvend/bitvend/internal/outbox/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Cfg          config.Config
	Holder       *config.DispatchConfigHolder
	GenID        *snowflake.Node
	Clock        clock.Clock
	OutboxRepo   outboxdomain.Repository
	OrderRepo    orderdomain.Repository
	OrderSvc     orderdomain.Service
	IncidentRepo incidentdomain.Repository
	Messenger    Messenger           `optional:"true"`
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

// Dispatcher drains the outbox: it claims pending entries, sends the buyer
// notification, finalizes the order, and acknowledges the entry. Retries use
// exponential backoff until the entry is parked dead.
type Dispatcher struct {
	db           *gorm.DB
	log          *zap.Logger
	holder       *config.DispatchConfigHolder
	genID        *snowflake.Node
	clock        clock.Clock
	outboxRepo   outboxdomain.Repository
	orderRepo    orderdomain.Repository
	orderSvc     orderdomain.Service
	incidentRepo incidentdomain.Repository
	messenger    Messenger
	metrics      *obsmetrics.Metrics
}

func New(p Params) *Dispatcher {
	messenger := p.Messenger
	if messenger == nil {
		messenger = newTelegramClient(p.Cfg.TelegramAPIURL, p.Cfg.BotToken)
	}
	return &Dispatcher{
		db:           p.DB,
		log:          p.Log.Named("notifier"),
		holder:       p.Holder,
		genID:        p.GenID,
		clock:        p.Clock,
		outboxRepo:   p.OutboxRepo,
		orderRepo:    p.OrderRepo,
		orderSvc:     p.OrderSvc,
		incidentRepo: p.IncidentRepo,
		messenger:    messenger,
		metrics:      p.Metrics,
	}
}

var Module = fx.Module("notifier",
	fx.Provide(New),
	fx.Invoke(Run),
)

func Run(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go d.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}

// RunForever polls until ctx is canceled. The poll interval is re-read each
// cycle so config reloads take effect without a restart.
func (d *Dispatcher) RunForever(ctx context.Context) {
	timer := time.NewTimer(d.holder.Get().PollInterval)
	defer timer.Stop()

	for {
		if err := d.RunOnce(ctx); err != nil {
			d.log.Warn("dispatch cycle failed", zap.Error(err))
		}

		timer.Reset(d.holder.Get().PollInterval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// RunOnce pulls one batch of pending entries and delivers them with bounded
// concurrency. Claim failures are not errors: another worker got there first.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	cfg := d.holder.Get()

	entries, err := d.outboxRepo.PullPending(ctx, d.db, d.clock.Now(), cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			d.deliver(gctx, cfg, entry)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, cfg config.DispatchConfig, entry outboxdomain.Entry) {
	token := uuid.NewString()
	now := d.clock.Now()

	claimed, err := d.outboxRepo.Claim(ctx, d.db, entry.ID, token, now, cfg.LeaseTTL)
	if err != nil {
		d.log.Warn("claim failed",
			zap.String("entry_id", entry.ID.String()),
			zap.Error(err),
		)
		return
	}
	if !claimed {
		return
	}
	attempts := entry.Attempts + 1

	log := d.log.With(
		zap.String("entry_id", entry.ID.String()),
		zap.String("order_id", entry.OrderID.String()),
		zap.String("target_state", entry.TargetState),
		zap.Int("attempt", attempts),
	)

	if err := d.orderRepo.IncrementNotificationAttempts(ctx, d.db, entry.OrderID, now); err != nil {
		log.Warn("failed to count notification attempt", zap.Error(err))
	}

	order, err := d.orderSvc.GetByID(ctx, entry.OrderID)
	if err != nil {
		log.Error("order lookup failed", zap.Error(err))
		d.retry(ctx, cfg, entry, token, attempts, log)
		return
	}

	if err := d.messenger.Send(ctx, order.BuyerID, messageFor(order, orderdomain.State(entry.TargetState))); err != nil {
		log.Warn("notification delivery failed", zap.Error(err))
		d.retry(ctx, cfg, entry, token, attempts, log)
		return
	}

	if err := d.orderSvc.MarkNotified(ctx, order.ID); err != nil {
		log.Error("failed to finalize order", zap.Error(err))
		d.retry(ctx, cfg, entry, token, attempts, log)
		return
	}

	if err := d.outboxRepo.Acknowledge(ctx, d.db, entry.ID, token, d.clock.Now()); err != nil {
		// The order is already notified; a lost lease here means another
		// worker will observe the delivered entry and move on.
		log.Warn("acknowledge failed", zap.Error(err))
		return
	}

	if d.metrics != nil {
		d.metrics.OutboxDelivered.Inc()
	}
	log.Info("buyer notified")
}

func (d *Dispatcher) retry(ctx context.Context, cfg config.DispatchConfig, entry outboxdomain.Entry, token string, attempts int, log *zap.Logger) {
	markDead := attempts >= cfg.MaxAttempts
	next := d.clock.Now().Add(backoff(cfg, attempts))

	if err := d.outboxRepo.Reschedule(ctx, d.db, entry.ID, token, next, markDead); err != nil {
		log.Warn("reschedule failed", zap.Error(err))
		return
	}

	if !markDead {
		if d.metrics != nil {
			d.metrics.OutboxRetried.Inc()
		}
		return
	}

	if d.metrics != nil {
		d.metrics.OutboxDead.Inc()
	}
	log.Error("entry parked for manual intervention")

	orderID := entry.OrderID
	incident := &incidentdomain.Incident{
		ID:      d.genID.Generate(),
		OrderID: &orderID,
		Reason:  incidentdomain.ReasonDeadOutboxEntry,
		Details: datatypes.JSONMap{
			"entry_id":     entry.ID.String(),
			"target_state": entry.TargetState,
			"attempts":     attempts,
		},
		CreatedAt: d.clock.Now(),
	}
	if err := d.incidentRepo.Insert(ctx, d.db, incident); err != nil {
		log.Error("failed to persist incident", zap.Error(err))
	}
}

// backoff doubles per attempt from the base, capped at the max.
func backoff(cfg config.DispatchConfig, attempts int) time.Duration {
	delay := cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	if delay > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return delay
}
