package inventory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/partsflow/partsflow/internal/catalog"
	"github.com/partsflow/partsflow/internal/fault"
	"github.com/partsflow/partsflow/internal/inventory"
	"github.com/partsflow/partsflow/internal/log"
	"github.com/partsflow/partsflow/internal/testutil"
)

var pads = []catalog.Article{
	{ID: 5001, Number: "GDB3623", SupplierName: "TRW", ProductName: "Brake Pad Set", ProductGroupID: 100030},
	{ID: 5002, Number: "P85020", SupplierName: "BREMBO", ProductName: "Brake Pad Set", ProductGroupID: 100030},
}

func TestMergeEnrichesArticles(t *testing.T) {
	price := 38.5
	repo := &testutil.InventoryStub{Stocks: map[int64]inventory.Stock{
		5001: {InStock: true, Quantity: 4, Price: &price, Currency: "USD", Warehouse: "A-12"},
	}}
	merger := inventory.NewMerger(repo, time.Second, log.NewNop())

	enriched, err := merger.Merge(context.Background(), pads)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(enriched) != 2 {
		t.Fatalf("enriched = %d articles, want 2", len(enriched))
	}
	if !enriched[0].Stock.InStock || enriched[0].Stock.Quantity != 4 || *enriched[0].Stock.Price != price {
		t.Errorf("article 5001 stock = %+v", enriched[0].Stock)
	}
	// 5002 is unknown to the repository; it defaults to unavailable.
	if enriched[1].Stock.InStock || enriched[1].Stock.Price != nil {
		t.Errorf("article 5002 stock = %+v, want unavailable with nil price", enriched[1].Stock)
	}
	if enriched[1].Number != "P85020" {
		t.Errorf("catalog fields lost: %+v", enriched[1].Article)
	}
}

func TestMergeAllOutOfStock(t *testing.T) {
	repo := &testutil.InventoryStub{Stocks: map[int64]inventory.Stock{
		5001: {InStock: false, Quantity: 0},
	}}
	merger := inventory.NewMerger(repo, time.Second, log.NewNop())

	enriched, err := merger.Merge(context.Background(), pads)
	if fault.Classify(err) != fault.KindNoStock {
		t.Fatalf("err = %v, want KindNoStock", err)
	}
	// The articles still come back so the caller can show them for reference.
	if len(enriched) != 2 {
		t.Errorf("enriched = %d articles, want 2 alongside the no-stock error", len(enriched))
	}
}

func TestMergeLookupFailure(t *testing.T) {
	repo := &testutil.InventoryStub{Err: errors.New("connection refused")}
	merger := inventory.NewMerger(repo, time.Second, log.NewNop())

	enriched, err := merger.Merge(context.Background(), pads)
	if fault.Classify(err) != fault.KindInventoryFailed {
		t.Fatalf("err = %v, want KindInventoryFailed", err)
	}
	if enriched != nil {
		t.Errorf("enriched = %v, want nil on lookup failure", enriched)
	}
}

func TestMergeLookupTimeout(t *testing.T) {
	repo := &testutil.InventoryStub{Err: context.DeadlineExceeded}
	merger := inventory.NewMerger(repo, time.Second, log.NewNop())

	_, err := merger.Merge(context.Background(), pads)
	if fault.Classify(err) != fault.KindUpstreamTimeout {
		t.Fatalf("err = %v, want KindUpstreamTimeout", err)
	}
}

func TestMergeEmptyBatch(t *testing.T) {
	merger := inventory.NewMerger(&testutil.InventoryStub{}, time.Second, log.NewNop())
	_, err := merger.Merge(context.Background(), nil)
	if fault.Classify(err) != fault.KindNoStock {
		t.Fatalf("err = %v, want KindNoStock", err)
	}
}
