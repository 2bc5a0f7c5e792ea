package points

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/shop-backoffice/internal/apperr"
	"github.com/ariefcatur/shop-backoffice/internal/paging"
	"github.com/ariefcatur/shop-backoffice/internal/postgres"
)

// Store is the ledger persistence; *Repo implements it.
type Store interface {
	Append(ctx context.Context, q postgres.Querier, e Entry) error
	Totals(ctx context.Context, q postgres.Querier, userID uuid.UUID) (Totals, error)
	Materialized(ctx context.Context, q postgres.Querier, userID uuid.UUID) (int64, error)
	List(ctx context.Context, q postgres.Querier, userID uuid.UUID, params paging.Params) ([]Entry, int, error)
}

type ServiceDeps struct {
	Tx     postgres.TxRunner
	Store  Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service is the only writer of the ledger. Entries are never updated or deleted.
type Service struct {
	tx     postgres.TxRunner
	store  Store
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Tx == nil || deps.Store == nil {
		return nil, errors.New("points service: tx and store are required")
	}
	s := &Service{tx: deps.Tx, store: deps.Store, clock: deps.Clock, logger: deps.Logger}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// Earn appends an EARN entry for the order. A second call for the same order is a no-op.
func (s *Service) Earn(ctx context.Context, userID, orderID uuid.UUID, points int) error {
	const op = "points.earn"
	if userID == uuid.Nil || orderID == uuid.Nil {
		return apperr.BadRequest(op, "user and order are required")
	}
	if points <= 0 {
		return apperr.BadRequest(op, "points must be positive")
	}
	oid := orderID
	e := Entry{
		ID:        uuid.New(),
		UserID:    userID,
		OrderID:   &oid,
		Points:    points,
		Type:      TypeEarn,
		CreatedAt: s.clock().UTC(),
	}
	err := s.tx.InTx(ctx, func(q postgres.Querier) error {
		return s.store.Append(ctx, q, e)
	})
	if errors.Is(err, ErrAlreadyRecorded) {
		s.logger.Debug("points already accrued", zap.String("order_id", orderID.String()))
		return nil
	}
	if err != nil {
		return apperr.Internal(op, err)
	}
	return nil
}

// Accrue grants points inline; it lets the service serve as the order PointsAccruer.
func (s *Service) Accrue(ctx context.Context, userID, orderID uuid.UUID, points int) error {
	return s.Earn(ctx, userID, orderID, points)
}

// Balance is the sum of every ledger entry of the user.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	t, err := s.store.Totals(ctx, s.tx.Reader(), userID)
	if err != nil {
		return 0, apperr.Internal("points.balance", err)
	}
	return t.Balance(), nil
}

// Summary reports the ledger aggregates next to the materialized total. The ledger value wins
// when the two disagree.
func (s *Service) Summary(ctx context.Context, userID uuid.UUID) (Summary, error) {
	const op = "points.summary"
	t, err := s.store.Totals(ctx, s.tx.Reader(), userID)
	if err != nil {
		return Summary{}, apperr.Internal(op, err)
	}
	materialized, err := s.store.Materialized(ctx, s.tx.Reader(), userID)
	if err != nil {
		return Summary{}, apperr.Internal(op, err)
	}
	sum := Summary{
		UserID:            userID,
		Balance:           t.Balance(),
		Earned:            t.Earned,
		Redeemed:          t.Redeemed,
		Entries:           t.Entries,
		MaterializedTotal: materialized,
		Consistent:        materialized == t.Balance(),
	}
	if !sum.Consistent {
		s.logger.Warn("materialized points total differs from ledger",
			zap.String("user_id", userID.String()),
			zap.Int64("ledger", sum.Balance),
			zap.Int64("materialized", materialized))
	}
	return sum, nil
}

func (s *Service) Ledger(ctx context.Context, userID uuid.UUID, params paging.Params) (paging.Page[Entry], error) {
	params = params.Normalize()
	list, total, err := s.store.List(ctx, s.tx.Reader(), userID, params)
	if err != nil {
		return paging.Page[Entry]{}, apperr.Internal("points.ledger", err)
	}
	return paging.NewPage(list, total, params), nil
}
