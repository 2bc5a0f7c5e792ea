package catalog

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

const productColumns = `p.id, p.sku, p.name, p.description, p.list_price, p.wholesale_price, p.iva, p.status,
	p.created_at, p.updated_at,
	(SELECT COALESCE(SUM(s.quantity), 0) FROM product_stock s WHERE s.product_id = p.id)`

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p      Product
		iva    decimal.NullDecimal
		status string
		stock  int64
	)
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.ListPrice, &p.WholesalePrice, &iva, &status,
		&p.CreatedAt, &p.UpdatedAt, &stock); err != nil {
		return Product{}, err
	}
	if iva.Valid {
		v := iva.Decimal
		p.IVA = &v
	}
	p.Status = Status(status)
	p.Stock = int(stock)
	return p, nil
}

func (r *Repo) List(ctx context.Context, q postgres.Querier, query ListQuery) ([]Product, int, error) {
	where := []string{"p.status = 'active'"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if s := strings.TrimSpace(query.SearchName); s != "" {
		where = append(where, "p.name ILIKE "+arg("%"+s+"%"))
	}
	if len(query.CategoryIDs) > 0 {
		where = append(where, "EXISTS (SELECT 1 FROM product_categories pc WHERE pc.product_id = p.id AND pc.category_id = ANY("+arg(query.CategoryIDs)+"))")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM products p WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	priceCol := "p.list_price"
	if query.SortWholesale {
		priceCol = "p.wholesale_price"
	}
	order := "p.created_at DESC, p.id"
	switch query.SortByPrice {
	case SortAsc:
		order = priceCol + " ASC, p.id"
	case SortDesc:
		order = priceCol + " DESC, p.id"
	}

	params := query.Params.Normalize()
	sql := `SELECT ` + productColumns + ` FROM products p WHERE ` + cond +
		` ORDER BY ` + order + ` LIMIT ` + arg(params.Limit) + ` OFFSET ` + arg(params.Offset())
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := r.attach(ctx, q, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// attach loads images and categories for a page of products in two queries.
func (r *Repo) attach(ctx context.Context, q postgres.Querier, products []Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(products))
	idx := make(map[uuid.UUID]int, len(products))
	for i, p := range products {
		ids[i] = p.ID
		idx[p.ID] = i
	}

	rows, err := q.Query(ctx, `SELECT product_id, url FROM product_images WHERE product_id = ANY($1) ORDER BY product_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load images: %w", err)
	}
	for rows.Next() {
		var pid uuid.UUID
		var url string
		if err := rows.Scan(&pid, &url); err != nil {
			rows.Close()
			return err
		}
		products[idx[pid]].Images = append(products[idx[pid]].Images, url)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `SELECT product_id, category_id FROM product_categories WHERE product_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pid, cid uuid.UUID
		if err := rows.Scan(&pid, &cid); err != nil {
			return err
		}
		products[idx[pid]].CategoryIDs = append(products[idx[pid]].CategoryIDs, cid)
	}
	return rows.Err()
}

func (r *Repo) Get(ctx context.Context, q postgres.Querier, id uuid.UUID) (Product, error) {
	p, err := scanProduct(q.QueryRow(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = $1`, id))
	if err != nil {
		if postgres.IsNoRows(err) {
			return Product{}, apperr.NotFound("catalog.get", "product not found")
		}
		return Product{}, err
	}
	products := []Product{p}
	if err := r.attach(ctx, q, products); err != nil {
		return Product{}, err
	}
	return products[0], nil
}

// LockForOrder reads the product with its available stock and locks the product row until the
// surrounding transaction ends, so concurrent order mutations on the same product serialize.
func (r *Repo) LockForOrder(ctx context.Context, q postgres.Querier, id uuid.UUID) (Product, error) {
	p, err := scanProduct(q.QueryRow(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = $1 FOR UPDATE OF p`, id))
	if err != nil {
		if postgres.IsNoRows(err) {
			return Product{}, apperr.NotFound("catalog.lock", "product not found")
		}
		return Product{}, err
	}
	return p, nil
}

func (r *Repo) Insert(ctx context.Context, q postgres.Querier, p Product) error {
	_, err := q.Exec(ctx, `
		INSERT INTO products(id, sku, name, description, list_price, wholesale_price, iva, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`,
		p.ID, p.SKU, p.Name, p.Description, p.ListPrice, p.WholesalePrice, nullDecimal(p.IVA), string(p.Status), p.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperr.Conflict("catalog.create", "sku already exists")
		}
		return err
	}
	for i, url := range p.Images {
		if _, err := q.Exec(ctx, `INSERT INTO product_images(product_id, url, position) VALUES ($1,$2,$3)`, p.ID, url, i); err != nil {
			return err
		}
	}
	for _, cid := range p.CategoryIDs {
		if _, err := q.Exec(ctx, `INSERT INTO product_categories(product_id, category_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`, p.ID, cid); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) Update(ctx context.Context, q postgres.Querier, p Product) error {
	ct, err := q.Exec(ctx, `
		UPDATE products SET name=$2, description=$3, list_price=$4, wholesale_price=$5, iva=$6, status=$7, updated_at=$8
		WHERE id=$1`,
		p.ID, p.Name, p.Description, p.ListPrice, p.WholesalePrice, nullDecimal(p.IVA), string(p.Status), p.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.NotFound("catalog.update", "product not found")
	}
	return nil
}

func (r *Repo) SoftDelete(ctx context.Context, q postgres.Querier, id uuid.UUID, at time.Time) error {
	ct, err := q.Exec(ctx, `UPDATE products SET status='deleted', updated_at=$2 WHERE id=$1 AND status <> 'deleted'`, id, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.NotFound("catalog.delete", "product not found")
	}
	return nil
}

func (r *Repo) SetStock(ctx context.Context, q postgres.Querier, productID uuid.UUID, unitID string, quantity int) error {
	_, err := q.Exec(ctx, `
		INSERT INTO product_stock(product_id, unit_id, quantity) VALUES ($1,$2,$3)
		ON CONFLICT (product_id, unit_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		productID, unitID, quantity)
	return err
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
