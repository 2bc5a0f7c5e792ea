package orders

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/shop-backoffice/internal/apperr"
	"github.com/ariefcatur/shop-backoffice/internal/catalog"
	"github.com/ariefcatur/shop-backoffice/internal/paging"
	"github.com/ariefcatur/shop-backoffice/internal/postgres"
	"github.com/ariefcatur/shop-backoffice/internal/pricing"
)

// Store is the order persistence; *Repo implements it.
type Store interface {
	Insert(ctx context.Context, q postgres.Querier, o Order) error
	Get(ctx context.Context, q postgres.Querier, id uuid.UUID) (Order, error)
	Lock(ctx context.Context, q postgres.Querier, id uuid.UUID) (Order, error)
	InsertLine(ctx context.Context, q postgres.Querier, l Line) error
	UpdateLine(ctx context.Context, q postgres.Querier, l Line) error
	DeleteLine(ctx context.Context, q postgres.Querier, orderID, lineID uuid.UUID) error
	RecomputeTotal(ctx context.Context, q postgres.Querier, orderID uuid.UUID, at time.Time) (decimal.Decimal, error)
	SaveStatus(ctx context.Context, q postgres.Querier, o Order) error
	ListByUser(ctx context.Context, q postgres.Querier, userID uuid.UUID, query ListQuery) ([]Order, int, error)
	List(ctx context.Context, q postgres.Querier, query ListQuery) ([]Order, int, error)
}

// ProductLocker reads a product with its stock under a row lock; *catalog.Repo implements it.
type ProductLocker interface {
	LockForOrder(ctx context.Context, q postgres.Querier, id uuid.UUID) (catalog.Product, error)
}

type Pricer interface {
	PriceFor(ctx context.Context, product pricing.Product, userID uuid.UUID) (pricing.Price, error)
}

// NumberAllocator issues order numbers inside the order transaction; *counter.Allocator implements it.
type NumberAllocator interface {
	Next(ctx context.Context, q postgres.Querier) (string, error)
}

// PointsAccruer grants the points earned by a freshly created order.
type PointsAccruer interface {
	Accrue(ctx context.Context, userID, orderID uuid.UUID, points int) error
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, eventType, key string, payload any) (string, error)
}

type ServiceDeps struct {
	Tx       postgres.TxRunner
	Orders   Store
	Products ProductLocker
	Pricer   Pricer
	Numbers  NumberAllocator
	// Points and Events are optional side effects; their failures never fail the request.
	Points          PointsAccruer
	Events          EventPublisher
	DefaultCurrency string
	Clock           func() time.Time
	Logger          *zap.Logger
}

type Service struct {
	tx       postgres.TxRunner
	orders   Store
	products ProductLocker
	pricer   Pricer
	numbers  NumberAllocator
	points   PointsAccruer
	events   EventPublisher
	currency string
	clock    func() time.Time
	logger   *zap.Logger
}

func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Tx == nil || deps.Orders == nil || deps.Products == nil || deps.Pricer == nil || deps.Numbers == nil {
		return nil, errors.New("orders service: tx, orders, products, pricer and numbers are required")
	}
	s := &Service{
		tx:       deps.Tx,
		orders:   deps.Orders,
		products: deps.Products,
		pricer:   deps.Pricer,
		numbers:  deps.Numbers,
		points:   deps.Points,
		events:   deps.Events,
		currency: strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency)),
		clock:    deps.Clock,
		logger:   deps.Logger,
	}
	if s.currency == "" {
		s.currency = "EUR"
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

func (s *Service) now() time.Time { return s.clock().UTC() }

// Create places an order for in.UserID. The order row, its number, lines, addresses and payments
// are written in one transaction; points accrual and the OrderCreated event follow the commit.
func (s *Service) Create(ctx context.Context, in CreateInput) (Order, error) {
	const op = "orders.create"
	if in.UserID == uuid.Nil {
		return Order{}, apperr.Wrap(apperr.KindBadRequest, op, ErrGuestCheckout)
	}
	if len(in.Lines) == 0 {
		return Order{}, apperr.Wrap(apperr.KindBadRequest, op, ErrNoLines)
	}
	if in.PointsEarned < 0 {
		return Order{}, apperr.BadRequest(op, "pointsEarned must not be negative")
	}
	requested := map[uuid.UUID]int{}
	for _, l := range in.Lines {
		if l.ProductID == uuid.Nil {
			return Order{}, apperr.BadRequest(op, "productId is required")
		}
		if err := checkQuantity(op, l.Quantity); err != nil {
			return Order{}, err
		}
		requested[l.ProductID] += l.Quantity
	}
	for _, a := range in.Addresses {
		if a.Type != AddressBilling && a.Type != AddressShipping {
			return Order{}, apperr.BadRequest(op, "address type must be billing or shipping")
		}
	}
	for _, p := range in.Payments {
		if strings.TrimSpace(p.PaymentMethod) == "" || p.Amount.IsNegative() {
			return Order{}, apperr.BadRequest(op, "payments need a method and a non-negative amount")
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.currency
	}

	now := s.now()
	userID := in.UserID
	o := Order{
		ID:           uuid.New(),
		UserID:       &userID,
		Status:       StatusPending,
		Currency:     currency,
		PointsEarned: in.PointsEarned,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.tx.InTx(ctx, func(q postgres.Querier) error {
		// Lock products in a stable order so concurrent checkouts cannot deadlock.
		ids := make([]uuid.UUID, 0, len(requested))
		for id := range requested {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

		snapshots := make(map[uuid.UUID]Line, len(ids))
		for _, id := range ids {
			l, err := s.priceLine(ctx, q, op, id, requested[id], userID)
			if err != nil {
				return err
			}
			snapshots[id] = l
		}

		number, err := s.numbers.Next(ctx, q)
		if err != nil {
			return err
		}
		o.OrderNumber = number

		o.Lines = make([]Line, len(in.Lines))
		for i, l := range in.Lines {
			snap := snapshots[l.ProductID]
			o.Lines[i] = Line{
				ID:          uuid.New(),
				OrderID:     o.ID,
				ProductID:   l.ProductID,
				ProductName: snap.ProductName,
				UnitPrice:   snap.UnitPrice,
				Quantity:    l.Quantity,
				TotalPrice:  lineTotal(snap.UnitPrice, l.Quantity),
				CreatedAt:   now,
			}
		}
		o.TotalAmount = sumLines(o.Lines)

		o.Addresses = make([]Address, len(in.Addresses))
		for i, a := range in.Addresses {
			a.ID = uuid.New()
			o.Addresses[i] = a
		}
		o.Payments = make([]Payment, len(in.Payments))
		for i, p := range in.Payments {
			p.ID = uuid.New()
			if p.Status == "" {
				p.Status = "pending"
			}
			o.Payments[i] = p
		}
		return s.orders.Insert(ctx, q, o)
	})
	if err != nil {
		return Order{}, s.wrap(op, err)
	}

	s.accrue(ctx, o)
	s.publish(ctx, TopicOrderCreated, EventOrderCreated, o.ID, createdPayload(o))
	return o, nil
}

// priceLine locks the product, checks it can be ordered in the given total quantity and returns
// a line carrying the product name and unit price as seen by the order owner.
func (s *Service) priceLine(ctx context.Context, q postgres.Querier, op string, productID uuid.UUID, total int, owner uuid.UUID) (Line, error) {
	p, err := s.products.LockForOrder(ctx, q, productID)
	if err != nil {
		return Line{}, err
	}
	if !p.Orderable() {
		return Line{}, apperr.Wrap(apperr.KindBadRequest, op, ErrProductInactive)
	}
	if err := checkStock(op, total, p.Stock); err != nil {
		return Line{}, err
	}
	price, err := s.pricer.PriceFor(ctx, p.PricingInput(), owner)
	if err != nil {
		return Line{}, err
	}
	return Line{ProductID: p.ID, ProductName: p.Name, UnitPrice: pricing.Round2(price.Price)}, nil
}

func (s *Service) accrue(ctx context.Context, o Order) {
	if s.points == nil || o.PointsEarned <= 0 || o.UserID == nil {
		return
	}
	if err := s.points.Accrue(ctx, *o.UserID, o.ID, o.PointsEarned); err != nil {
		s.logger.Warn("points accrual failed; order kept",
			zap.String("order_id", o.ID.String()),
			zap.String("user_id", o.UserID.String()),
			zap.Int("points", o.PointsEarned),
			zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, topic, eventType string, orderID uuid.UUID, payload any) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishEvent(ctx, topic, eventType, orderID.String(), payload); err != nil {
		s.logger.Warn("publish order event failed",
			zap.String("topic", topic),
			zap.String("order_id", orderID.String()),
			zap.Error(err))
	}
}

// Get returns the order to its owner or an admin.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID, actor Actor) (Order, error) {
	const op = "orders.get"
	if actor.UserID == uuid.Nil && !actor.Admin {
		return Order{}, apperr.Unauthorized(op, "authentication required")
	}
	o, err := s.orders.Get(ctx, s.tx.Reader(), orderID)
	if err != nil {
		return Order{}, s.wrap(op, err)
	}
	if !actor.Admin && !o.OwnedBy(actor.UserID) {
		return Order{}, apperr.Forbidden(op, "not allowed to view this order")
	}
	return o, nil
}

func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, params paging.Params) (paging.Page[Order], error) {
	const op = "orders.list_user"
	if userID == uuid.Nil {
		return paging.Page[Order]{}, apperr.Unauthorized(op, "authentication required")
	}
	query := ListQuery{Params: params.Normalize()}
	list, total, err := s.orders.ListByUser(ctx, s.tx.Reader(), userID, query)
	if err != nil {
		return paging.Page[Order]{}, s.wrap(op, err)
	}
	return paging.NewPage(list, total, query.Params), nil
}

// FindAllPaginated lists every order sorted by a whitelisted field (see SortClause).
func (s *Service) FindAllPaginated(ctx context.Context, query ListQuery) (paging.Page[Order], error) {
	query.Params = query.Params.Normalize()
	list, total, err := s.orders.List(ctx, s.tx.Reader(), query)
	if err != nil {
		return paging.Page[Order]{}, s.wrap("orders.list", err)
	}
	return paging.NewPage(list, total, query.Params), nil
}

// mutateLines runs fn on the locked order after the ownership and editability checks, then
// recomputes total_amount in the same transaction and returns the reloaded order.
func (s *Service) mutateLines(ctx context.Context, op string, orderID uuid.UUID, actor Actor, fn func(q postgres.Querier, o Order) error) (Order, error) {
	var out Order
	err := s.tx.InTx(ctx, func(q postgres.Querier) error {
		o, err := s.orders.Lock(ctx, q, orderID)
		if err != nil {
			return err
		}
		if err := checkAccess(op, o, actor); err != nil {
			return err
		}
		if err := checkEditable(op, o); err != nil {
			return err
		}
		if err := fn(q, o); err != nil {
			return err
		}
		if _, err := s.orders.RecomputeTotal(ctx, q, orderID, s.now()); err != nil {
			return err
		}
		out, err = s.orders.Get(ctx, q, orderID)
		return err
	})
	if err != nil {
		return Order{}, s.wrap(op, err)
	}
	return out, nil
}

func (s *Service) AddLine(ctx context.Context, orderID uuid.UUID, in LineInput, actor Actor) (Order, error) {
	const op = "orders.add_line"
	return s.mutateLines(ctx, op, orderID, actor, func(q postgres.Querier, o Order) error {
		if in.ProductID == uuid.Nil {
			return apperr.BadRequest(op, "productId is required")
		}
		if err := checkQuantity(op, in.Quantity); err != nil {
			return err
		}
		total := o.quantityOf(in.ProductID, uuid.Nil) + in.Quantity
		snap, err := s.priceLine(ctx, q, op, in.ProductID, total, ownerOf(o))
		if err != nil {
			return err
		}
		return s.orders.InsertLine(ctx, q, Line{
			ID:          uuid.New(),
			OrderID:     o.ID,
			ProductID:   in.ProductID,
			ProductName: snap.ProductName,
			UnitPrice:   snap.UnitPrice,
			Quantity:    in.Quantity,
			TotalPrice:  lineTotal(snap.UnitPrice, in.Quantity),
			CreatedAt:   s.now(),
		})
	})
}

// UpdateLine changes a line quantity. The snapshotted unit price is kept; stock is checked only
// when the quantity grows.
func (s *Service) UpdateLine(ctx context.Context, orderID, lineID uuid.UUID, quantity int, actor Actor) (Order, error) {
	const op = "orders.update_line"
	return s.mutateLines(ctx, op, orderID, actor, func(q postgres.Querier, o Order) error {
		l, ok := o.line(lineID)
		if !ok {
			return apperr.NotFound(op, "order line not found")
		}
		if err := checkQuantity(op, quantity); err != nil {
			return err
		}
		if quantity > l.Quantity {
			p, err := s.products.LockForOrder(ctx, q, l.ProductID)
			if err != nil {
				return err
			}
			if err := checkStock(op, o.quantityOf(l.ProductID, l.ID)+quantity, p.Stock); err != nil {
				return err
			}
		}
		l.Quantity = quantity
		l.TotalPrice = lineTotal(l.UnitPrice, quantity)
		return s.orders.UpdateLine(ctx, q, l)
	})
}

// RemoveLine deletes a line. The last line of an order cannot be removed; cancel the order instead.
func (s *Service) RemoveLine(ctx context.Context, orderID, lineID uuid.UUID, actor Actor) (Order, error) {
	const op = "orders.remove_line"
	return s.mutateLines(ctx, op, orderID, actor, func(q postgres.Querier, o Order) error {
		if _, ok := o.line(lineID); !ok {
			return apperr.NotFound(op, "order line not found")
		}
		if len(o.Lines) <= 1 {
			return apperr.Wrap(apperr.KindBadRequest, op, ErrLastLine)
		}
		return s.orders.DeleteLine(ctx, q, orderID, lineID)
	})
}

// Update applies a status/metadata patch. Owners may only cancel their order; every other change
// is reserved to admins.
func (s *Service) Update(ctx context.Context, orderID uuid.UUID, patch Patch, actor Actor) (Order, error) {
	const op = "orders.update"
	now := s.now()
	patch, err := normalizePatch(op, patch, now)
	if err != nil {
		return Order{}, err
	}

	var (
		out  Order
		from Status
	)
	err = s.tx.InTx(ctx, func(q postgres.Querier) error {
		o, err := s.orders.Lock(ctx, q, orderID)
		if err != nil {
			return err
		}
		if err := checkAccess(op, o, actor); err != nil {
			return err
		}
		ownerCancel := patch.Status != nil && *patch.Status == StatusCancelled && patch.InvoiceFileURL == nil
		if !actor.Admin && !ownerCancel {
			return apperr.Forbidden(op, "only administrators may change this order")
		}

		from = o.Status
		if patch.Status != nil {
			to := *patch.Status
			if !CanTransition(o.Status, to) {
				return apperr.Wrap(apperr.KindBadRequest, op, ErrInvalidTransition)
			}
			o.Status = to
			switch to {
			case StatusDelivered:
				o.DeliveryDate = patch.DeliveryDate
			case StatusCancelled:
				o.CancellationReason = patch.CancellationReason
				o.CancellationDate = patch.CancellationDate
			}
		}
		if patch.InvoiceFileURL != nil {
			o.InvoiceFileURL = patch.InvoiceFileURL
		}
		o.UpdatedAt = now
		if err := s.orders.SaveStatus(ctx, q, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return Order{}, s.wrap(op, err)
	}

	if out.Status != from {
		payload := OrderStatusChangedPayload{
			OrderID:            out.ID.String(),
			OrderNumber:        out.OrderNumber,
			From:               from,
			To:                 out.Status,
			DeliveryDate:       out.DeliveryDate,
			CancellationReason: out.CancellationReason,
			ChangedBy:          actor.UserID.String(),
		}
		if out.UserID != nil {
			payload.UserID = out.UserID.String()
		}
		s.publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, out.ID, payload)
	}
	return out, nil
}

// Cancel moves a pending or accepted order to cancelled with the given reason.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, reason string, actor Actor) (Order, error) {
	status := StatusCancelled
	return s.Update(ctx, orderID, Patch{Status: &status, CancellationReason: &reason}, actor)
}

// normalizePatch enforces that delivery and cancellation metadata arrive together with their
// status and stamps the cancellation date with now.
func normalizePatch(op string, p Patch, now time.Time) (Patch, error) {
	if p.Status == nil && p.InvoiceFileURL == nil &&
		p.DeliveryDate == nil && p.CancellationReason == nil && p.CancellationDate == nil {
		return p, apperr.BadRequest(op, "nothing to update")
	}
	delivery := p.DeliveryDate != nil
	cancellation := p.CancellationReason != nil || p.CancellationDate != nil

	if p.Status == nil {
		if delivery || cancellation {
			return p, apperr.Wrap(apperr.KindBadRequest, op, ErrUnpairedFields)
		}
		return p, nil
	}

	switch *p.Status {
	case StatusDelivered:
		if !delivery {
			return p, apperr.Wrap(apperr.KindBadRequest, op, ErrMissingDelivery)
		}
		if cancellation {
			return p, apperr.Wrap(apperr.KindBadRequest, op, ErrUnpairedFields)
		}
		d := p.DeliveryDate.UTC()
		p.DeliveryDate = &d
	case StatusCancelled:
		if p.CancellationReason == nil || strings.TrimSpace(*p.CancellationReason) == "" {
			return p, apperr.Wrap(apperr.KindBadRequest, op, ErrMissingReason)
		}
		if delivery {
			return p, apperr.Wrap(apperr.KindBadRequest, op, ErrUnpairedFields)
		}
		reason := strings.TrimSpace(*p.CancellationReason)
		p.CancellationReason = &reason
		// the cancellation is stamped by the server clock; a client supplied date is ignored
		at := now
		p.CancellationDate = &at
	case StatusPending, StatusAccepted:
		if delivery || cancellation {
			return p, apperr.Wrap(apperr.KindBadRequest, op, ErrUnpairedFields)
		}
	default:
		return p, apperr.BadRequest(op, "unknown status")
	}
	return p, nil
}

func ownerOf(o Order) uuid.UUID {
	if o.UserID == nil {
		return uuid.Nil
	}
	return *o.UserID
}

// wrap passes typed errors through and turns anything else into a logged internal error.
func (s *Service) wrap(op string, err error) error {
	var typed *apperr.Error
	if errors.As(err, &typed) {
		return err
	}
	s.logger.Error("order operation failed", zap.String("op", op), zap.Error(err))
	return apperr.Internal(op, err)
}
