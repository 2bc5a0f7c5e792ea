package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/shop-backoffice/internal/apperr"
	"github.com/ariefcatur/shop-backoffice/internal/postgres"
)

type Repo struct{}

const orderColumns = `o.id, o.order_number, o.user_id, o.status, o.total_amount, o.currency, o.points_earned,
	o.delivery_date, o.cancellation_reason, o.cancellation_date, o.invoice_file_url, o.created_at, o.updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &status, &o.TotalAmount, &o.Currency, &o.PointsEarned,
		&o.DeliveryDate, &o.CancellationReason, &o.CancellationDate, &o.InvoiceFileURL, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	return o, nil
}

// Insert writes the order row with all its lines, addresses and payments. q must be a transaction.
func (r *Repo) Insert(ctx context.Context, q postgres.Querier, o Order) error {
	_, err := q.Exec(ctx, `
		INSERT INTO orders(id, order_number, user_id, status, total_amount, currency, points_earned, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)`,
		o.ID, o.OrderNumber, o.UserID, string(o.Status), o.TotalAmount, o.Currency, o.PointsEarned, o.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperr.Conflict("orders.create", "order number already allocated")
		}
		return fmt.Errorf("insert order: %w", err)
	}
	for _, l := range o.Lines {
		if err := r.InsertLine(ctx, q, l); err != nil {
			return err
		}
	}
	for _, a := range o.Addresses {
		if _, err := q.Exec(ctx, `
			INSERT INTO order_addresses(id, order_id, type, name, line1, line2, city, postal_code, region, country, phone)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			a.ID, o.ID, string(a.Type), a.Name, a.Line1, a.Line2, a.City, a.PostalCode, a.Region, a.Country, a.Phone); err != nil {
			return fmt.Errorf("insert order address: %w", err)
		}
	}
	for _, p := range o.Payments {
		var meta any
		if len(p.Metadata) > 0 {
			meta = p.Metadata
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO order_payments(id, order_id, payment_method, amount, transaction_id, metadata, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			p.ID, o.ID, p.PaymentMethod, p.Amount, p.TransactionID, meta, p.Status); err != nil {
			return fmt.Errorf("insert order payment: %w", err)
		}
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, q postgres.Querier, id uuid.UUID) (Order, error) {
	return r.load(ctx, q, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`, id)
}

// Lock reads the order and holds its row lock until the surrounding transaction ends.
func (r *Repo) Lock(ctx context.Context, q postgres.Querier, id uuid.UUID) (Order, error) {
	return r.load(ctx, q, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1 FOR UPDATE`, id)
}

func (r *Repo) load(ctx context.Context, q postgres.Querier, sql string, id uuid.UUID) (Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if err != nil {
		if postgres.IsNoRows(err) {
			return Order{}, apperr.NotFound("orders.get", "order not found")
		}
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	list := []Order{o}
	if err := r.attachLines(ctx, q, list); err != nil {
		return Order{}, err
	}
	if err := r.attachDetails(ctx, q, &list[0]); err != nil {
		return Order{}, err
	}
	return list[0], nil
}

func (r *Repo) attachLines(ctx context.Context, q postgres.Querier, list []Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(list))
	idx := make(map[uuid.UUID]int, len(list))
	for i := range list {
		ids[i] = list[i].ID
		idx[list[i].ID] = i
		list[i].Lines = []Line{}
	}
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, product_name, unit_price, quantity, total_price, created_at
		FROM order_lines WHERE order_id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.UnitPrice, &l.Quantity, &l.TotalPrice, &l.CreatedAt); err != nil {
			return err
		}
		i := idx[l.OrderID]
		list[i].Lines = append(list[i].Lines, l)
	}
	return rows.Err()
}

func (r *Repo) attachDetails(ctx context.Context, q postgres.Querier, o *Order) error {
	o.Addresses = []Address{}
	o.Payments = []Payment{}

	rows, err := q.Query(ctx, `
		SELECT id, type, name, line1, line2, city, postal_code, region, country, phone
		FROM order_addresses WHERE order_id = $1 ORDER BY type`, o.ID)
	if err != nil {
		return fmt.Errorf("query order addresses: %w", err)
	}
	for rows.Next() {
		var (
			a     Address
			aType string
		)
		if err := rows.Scan(&a.ID, &aType, &a.Name, &a.Line1, &a.Line2, &a.City, &a.PostalCode, &a.Region, &a.Country, &a.Phone); err != nil {
			rows.Close()
			return err
		}
		a.Type = AddressType(aType)
		o.Addresses = append(o.Addresses, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `
		SELECT id, payment_method, amount, transaction_id, metadata, status
		FROM order_payments WHERE order_id = $1 ORDER BY created_at, id`, o.ID)
	if err != nil {
		return fmt.Errorf("query order payments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.PaymentMethod, &p.Amount, &p.TransactionID, &p.Metadata, &p.Status); err != nil {
			return err
		}
		o.Payments = append(o.Payments, p)
	}
	return rows.Err()
}

func (r *Repo) InsertLine(ctx context.Context, q postgres.Querier, l Line) error {
	_, err := q.Exec(ctx, `
		INSERT INTO order_lines(id, order_id, product_id, product_name, unit_price, quantity, total_price, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		l.ID, l.OrderID, l.ProductID, l.ProductName, l.UnitPrice, l.Quantity, l.TotalPrice, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order line: %w", err)
	}
	return nil
}

func (r *Repo) UpdateLine(ctx context.Context, q postgres.Querier, l Line) error {
	ct, err := q.Exec(ctx, `UPDATE order_lines SET quantity=$3, total_price=$4 WHERE id=$1 AND order_id=$2`,
		l.ID, l.OrderID, l.Quantity, l.TotalPrice)
	if err != nil {
		return fmt.Errorf("update order line: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return apperr.NotFound("orders.line", "order line not found")
	}
	return nil
}

func (r *Repo) DeleteLine(ctx context.Context, q postgres.Querier, orderID, lineID uuid.UUID) error {
	ct, err := q.Exec(ctx, `DELETE FROM order_lines WHERE id=$1 AND order_id=$2`, lineID, orderID)
	if err != nil {
		return fmt.Errorf("delete order line: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return apperr.NotFound("orders.line", "order line not found")
	}
	return nil
}

// RecomputeTotal sets total_amount to the sum of the order's line totals in one statement.
func (r *Repo) RecomputeTotal(ctx context.Context, q postgres.Querier, orderID uuid.UUID, at time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.QueryRow(ctx, `
		UPDATE orders
		SET total_amount = (SELECT COALESCE(SUM(total_price), 0) FROM order_lines WHERE order_id = $1),
		    updated_at = $2
		WHERE id = $1
		RETURNING total_amount`, orderID, at).Scan(&total)
	if err != nil {
		if postgres.IsNoRows(err) {
			return decimal.Zero, apperr.NotFound("orders.total", "order not found")
		}
		return decimal.Zero, fmt.Errorf("recompute order total: %w", err)
	}
	return total, nil
}

// SaveStatus persists status and the delivery/cancellation/invoice metadata.
func (r *Repo) SaveStatus(ctx context.Context, q postgres.Querier, o Order) error {
	ct, err := q.Exec(ctx, `
		UPDATE orders SET status=$2, delivery_date=$3, cancellation_reason=$4, cancellation_date=$5,
		       invoice_file_url=$6, updated_at=$7
		WHERE id=$1`,
		o.ID, string(o.Status), o.DeliveryDate, o.CancellationReason, o.CancellationDate, o.InvoiceFileURL, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return apperr.NotFound("orders.update", "order not found")
	}
	return nil
}

func (r *Repo) ListByUser(ctx context.Context, q postgres.Querier, userID uuid.UUID, query ListQuery) ([]Order, int, error) {
	return r.list(ctx, q, "o.user_id = $1", []any{userID}, query)
}

func (r *Repo) List(ctx context.Context, q postgres.Querier, query ListQuery) ([]Order, int, error) {
	return r.list(ctx, q, "TRUE", nil, query)
}

func (r *Repo) list(ctx context.Context, q postgres.Querier, cond string, args []any, query ListQuery) ([]Order, int, error) {
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM orders o WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	column, dir := SortClause(query.SortField, query.SortDirection)
	params := query.Params.Normalize()
	n := len(args)
	sql := fmt.Sprintf(`SELECT %s FROM orders o WHERE %s ORDER BY %s %s, o.id %s LIMIT $%d OFFSET $%d`,
		orderColumns, cond, column, dir, dir, n+1, n+2)
	rows, err := q.Query(ctx, sql, append(args, params.Limit, params.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()
	if err := r.attachLines(ctx, q, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

var sortColumns = map[string]string{
	"created_at":   "o.created_at",
	"createdat":    "o.created_at",
	"updated_at":   "o.updated_at",
	"updatedat":    "o.updated_at",
	"total_amount": "o.total_amount",
	"totalamount":  "o.total_amount",
	"order_number": "o.order_number",
	"ordernumber":  "o.order_number",
	"status":       "o.status",
}

// SortClause maps a client sort field onto a whitelisted column. Unknown fields fall back to
// created_at descending; unknown directions to descending.
func SortClause(field, direction string) (column, dir string) {
	column, ok := sortColumns[strings.ToLower(strings.TrimSpace(field))]
	if !ok {
		return "o.created_at", "DESC"
	}
	if strings.EqualFold(strings.TrimSpace(direction), "asc") {
		return column, "ASC"
	}
	return column, "DESC"
}
