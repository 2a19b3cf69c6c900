package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository over the stock and prices tables.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{pool: pool, logger: logger}
}

// BatchLookup fetches stock and the current price for each article in one
// query. Articles with no row are simply absent from the result map.
func (r *PostgresRepository) BatchLookup(ctx context.Context, articleIDs []int64) (map[int64]Stock, error) {
	if len(articleIDs) == 0 {
		return nil, ErrEmptyBatch
	}

	rows, err := r.pool.Query(ctx, `
		SELECT s.article_id,
		       s.quantity_available,
		       s.warehouse_location,
		       p.price,
		       p.currency,
		       p.discount_percentage
		FROM stock s
		LEFT JOIN prices p
		       ON p.article_id = s.article_id
		      AND p.valid_from <= now()
		      AND (p.valid_to IS NULL OR p.valid_to > now())
		WHERE s.article_id = ANY($1)`,
		articleIDs)
	if err != nil {
		return nil, fmt.Errorf("query stock batch: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]Stock, len(articleIDs))
	for rows.Next() {
		var (
			id        int64
			qty       int
			warehouse *string
			price     *float64
			currency  *string
			discount  *float64
		)
		if err := rows.Scan(&id, &qty, &warehouse, &price, &currency, &discount); err != nil {
			return nil, fmt.Errorf("scan stock row: %w", err)
		}

		stock := Stock{
			InStock:  qty > 0,
			Quantity: qty,
			Price:    price,
		}
		if warehouse != nil {
			stock.Warehouse = *warehouse
		}
		if currency != nil {
			stock.Currency = *currency
		}
		if discount != nil {
			stock.DiscountPercent = *discount
		}
		result[id] = stock
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock rows: %w", err)
	}

	r.logger.Debug("stock batch lookup", "requested", len(articleIDs), "resolved", len(result))
	return result, nil
}

var _ Repository = (*PostgresRepository)(nil)
