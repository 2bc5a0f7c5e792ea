package points

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/shop-backoffice/internal/apperr"
	kafkax "github.com/ariefcatur/shop-backoffice/internal/kafka"
)

type Earner interface {
	Earn(ctx context.Context, userID, orderID uuid.UUID, points int) error
}

// Dedup remembers processed event ids; *redisx.Deduper implements it.
type Dedup interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

const (
	defaultRetryInitial = 200 * time.Millisecond
	defaultRetryMax     = 30 * time.Second
)

// Worker applies queued accruals. Redis dedup skips redelivered events cheaply; the ledger's
// unique (order_id, EARN) index is what makes a replay harmless.
type Worker struct {
	earner       Earner
	dedup        Dedup
	logger       *zap.Logger
	retryInitial time.Duration
	retryMax     time.Duration
}

type WorkerOption func(*Worker)

// WithRetryBackoff sets the first and the largest pause between earn attempts.
func WithRetryBackoff(initial, ceiling time.Duration) WorkerOption {
	return func(w *Worker) {
		if initial > 0 {
			w.retryInitial = initial
		}
		if ceiling > 0 {
			w.retryMax = ceiling
		}
	}
}

func NewWorker(earner Earner, dedup Dedup, logger *zap.Logger, opts ...WorkerOption) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{earner: earner, dedup: dedup, logger: logger, retryInitial: defaultRetryInitial, retryMax: defaultRetryMax}
	for _, opt := range opts {
		opt(w)
	}
	if w.retryMax < w.retryInitial {
		w.retryMax = w.retryInitial
	}
	return w
}

// HandleAccrualRequested is installed as the consumer handler. A nil return commits the offset.
// Earn failures other than invalid input are retried until they succeed or ctx ends, so a later
// message on the partition never commits past an unapplied accrual.
func (w *Worker) HandleAccrualRequested(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		w.logger.Error("dropping undecodable message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != EventPointsAccrualRequested {
		return nil
	}
	log := w.logger.With(zap.String("event_id", env.EventID), zap.String("trace_id", env.TraceID))

	if w.dedup != nil {
		seen, err := w.dedup.Seen(ctx, env.EventID)
		if err != nil {
			log.Warn("dedup lookup failed", zap.Error(err))
		}
		if seen {
			log.Debug("duplicate accrual skipped")
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[AccrualPayload](env.Payload)
	if err != nil {
		log.Error("dropping accrual with bad payload", zap.Error(err))
		return nil
	}
	userID, uerr := uuid.Parse(p.UserID)
	orderID, oerr := uuid.Parse(p.OrderID)
	if uerr != nil || oerr != nil {
		log.Error("dropping accrual with bad ids", zap.String("user_id", p.UserID), zap.String("order_id", p.OrderID))
		return nil
	}

	if err := w.earn(ctx, log, userID, orderID, p.Points); err != nil {
		if apperr.Is(err, apperr.KindBadRequest) {
			log.Error("dropping invalid accrual", zap.Error(err))
			return nil
		}
		return fmt.Errorf("earn points for order %s: %w", p.OrderID, err)
	}

	if w.dedup != nil {
		if err := w.dedup.Mark(ctx, env.EventID); err != nil {
			log.Warn("dedup mark failed", zap.Error(err))
		}
	}
	log.Info("points accrued", zap.String("order_id", p.OrderID), zap.Int("points", p.Points))
	return nil
}

// earn calls the earner with exponential backoff. It gives up only on invalid input or when ctx
// is done, returning the last earn error.
func (w *Worker) earn(ctx context.Context, log *zap.Logger, userID, orderID uuid.UUID, points int) error {
	wait := w.retryInitial
	for attempt := 1; ; attempt++ {
		err := w.earner.Earn(ctx, userID, orderID, points)
		if err == nil || apperr.Is(err, apperr.KindBadRequest) {
			return err
		}
		log.Warn("points accrual failed; retrying",
			zap.String("order_id", orderID.String()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		if wait *= 2; wait > w.retryMax {
			wait = w.retryMax
		}
	}
}
