// Package inventory enriches catalog articles with live stock and price data.
//
// The merge distinguishes two outcomes that originate in the same step but
// must produce different user-facing guidance: every article legitimately out
// of stock (fault.KindNoStock) versus the batch lookup itself failing
// (fault.KindInventoryFailed).
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/partsflow/partsflow/internal/catalog"
	"github.com/partsflow/partsflow/internal/fault"
)

// Stock is the live availability record for one article.
type Stock struct {
	InStock         bool     `json:"in_stock"`
	Quantity        int      `json:"quantity_available"`
	Price           *float64 `json:"price,omitempty"`
	Currency        string   `json:"currency,omitempty"`
	DiscountPercent float64  `json:"discount_percentage"`
	Warehouse       string   `json:"warehouse_location,omitempty"`
}

// Article is a catalog article enriched with its stock record.
type Article struct {
	catalog.Article
	Stock Stock `json:"inventory"`
}

// Repository is the backing store contract. A missing id in the returned map
// means the repository could not resolve that article.
type Repository interface {
	BatchLookup(ctx context.Context, articleIDs []int64) (map[int64]Stock, error)
}

// Merger combines catalog articles with repository stock data.
type Merger struct {
	repo    Repository
	timeout time.Duration
	logger  *slog.Logger
}

// NewMerger creates a Merger. timeout bounds the whole batch call.
func NewMerger(repo Repository, timeout time.Duration, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Merger{repo: repo, timeout: timeout, logger: logger}
}

// Merge enriches articles with stock data. Articles the repository cannot
// resolve default to unavailable with a nil price. A failed batch call
// returns fault.KindInventoryFailed; zero in-stock articles across the whole
// batch returns the enriched slice together with fault.KindNoStock so the
// caller can still show the articles for reference.
func (m *Merger) Merge(ctx context.Context, articles []catalog.Article) ([]Article, error) {
	if len(articles) == 0 {
		return nil, fault.New(fault.KindNoStock, "no articles to check")
	}

	ids := make([]int64, len(articles))
	for i, a := range articles {
		ids[i] = a.ID
	}

	lookupCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	stocks, err := m.repo.BatchLookup(lookupCtx, ids)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fault.Wrap(fault.KindUpstreamTimeout, err, "inventory batch lookup timed out")
		}
		return nil, fault.Wrap(fault.KindInventoryFailed, err, "inventory batch lookup failed")
	}

	enriched := make([]Article, len(articles))
	anyInStock := false
	for i, a := range articles {
		stock, ok := stocks[a.ID]
		if !ok {
			stock = Stock{} // unavailable, nil price
		}
		if stock.InStock {
			anyInStock = true
		}
		enriched[i] = Article{Article: a, Stock: stock}
	}

	if !anyInStock {
		m.logger.Debug("no stock for any article in batch", "articles", len(articles))
		return enriched, fault.New(fault.KindNoStock, "no article in batch has stock")
	}
	return enriched, nil
}

// ErrEmptyBatch is returned by repositories when called with no ids.
var ErrEmptyBatch = fmt.Errorf("empty article id batch")
