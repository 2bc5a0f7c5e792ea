package points

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const (
	TopicAccrual                = "points.accrual.requested"
	EventPointsAccrualRequested = "PointsAccrualRequested"
)

type AccrualPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Points  int    `json:"points"`
}

type Publisher interface {
	PublishEvent(ctx context.Context, topic, eventType, key string, payload any) (string, error)
}

// QueuedAccruer hands accruals to the points worker through Kafka instead of writing the ledger
// on the request path. Only the enqueue can fail here.
type QueuedAccruer struct {
	bus Publisher
}

func NewQueuedAccruer(bus Publisher) *QueuedAccruer {
	return &QueuedAccruer{bus: bus}
}

func (a *QueuedAccruer) Accrue(ctx context.Context, userID, orderID uuid.UUID, points int) error {
	_, err := a.bus.PublishEvent(ctx, TopicAccrual, EventPointsAccrualRequested, orderID.String(), AccrualPayload{
		OrderID: orderID.String(),
		UserID:  userID.String(),
		Points:  points,
	})
	if err != nil {
		return fmt.Errorf("enqueue points accrual: %w", err)
	}
	return nil
}
