// Package testutil provides in-memory doubles shared across package tests:
// a KV store standing in for Redis and counting fakes for the external
// collaborators.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/partsflow/partsflow/internal/catalog"
	"github.com/partsflow/partsflow/internal/inventory"
	"github.com/partsflow/partsflow/internal/retrieval"
	"github.com/partsflow/partsflow/internal/search"
	"github.com/partsflow/partsflow/internal/session"
)

// MemoryKV implements session.KV with a map. TTLs are honored against the
// injectable clock so expiry behavior is testable without sleeping.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	Now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryKV creates a MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		entries: make(map[string]memoryEntry),
		Now:     time.Now,
	}
}

func (m *MemoryKV) get(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// Get returns the value for key or session.ErrNotFound.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok {
		return nil, session.ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores value under key with ttl.
func (m *MemoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	e := memoryEntry{value: stored}
	if ttl > 0 {
		e.expiresAt = m.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Touch refreshes the ttl of key.
func (m *MemoryKV) Touch(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok {
		return session.ErrNotFound
	}
	if ttl > 0 {
		e.expiresAt = m.Now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	m.entries[key] = e
	return nil
}

// Del removes key.
func (m *MemoryKV) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

var _ session.KV = (*MemoryKV)(nil)

// CatalogStub serves fixed drill-down data and counts calls per operation.
type CatalogStub struct {
	mu    sync.Mutex
	calls map[string]int

	// Fail, when set for an operation name, makes that operation error.
	Fail map[string]error

	Types       []catalog.VehicleType
	Makers      []catalog.Manufacturer
	ModelList   []catalog.Model
	VehicleList []catalog.Vehicle
	Tree        map[string]*catalog.Category
	ArticleList []catalog.Article
}

// NewCatalogStub creates a CatalogStub with a usable default data set.
func NewCatalogStub() *CatalogStub {
	return &CatalogStub{
		calls:     map[string]int{},
		Fail:      map[string]error{},
		Types:     []catalog.VehicleType{{ID: 1, Name: "Passenger Car"}},
		Makers:    []catalog.Manufacturer{{ID: 72, Brand: "MAZDA"}},
		ModelList: []catalog.Model{{ID: 39795, Name: "CX-30"}},
		VehicleList: []catalog.Vehicle{{
			ID: 138817, ModelID: 39795, ManufacturerID: 72, VehicleTypeID: 1,
			Manufacturer: "MAZDA", ModelName: "CX-30", EngineName: "2.0 Skyactiv-G",
			Year: "2019-2024", PowerKW: 90,
		}},
		Tree: map[string]*catalog.Category{
			"Brakes": {ID: 100006, Name: "Brakes", Level: 1, Children: map[string]*catalog.Category{
				"Disc Brake": {ID: 100032, Name: "Disc Brake", Level: 2, Children: map[string]*catalog.Category{
					"Brake Pads": {ID: 100030, Name: "Brake Pads", Level: 3},
				}},
			}},
		},
		ArticleList: []catalog.Article{
			{ID: 5001, Number: "GDB3623", SupplierName: "TRW", ProductName: "Brake Pad Set", ProductGroupID: 100030},
		},
	}
}

func (c *CatalogStub) record(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
	return c.Fail[op]
}

// Calls returns how many times op has run.
func (c *CatalogStub) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *CatalogStub) VehicleTypes(context.Context) ([]catalog.VehicleType, error) {
	if err := c.record("vehicle-types"); err != nil {
		return nil, err
	}
	return c.Types, nil
}

func (c *CatalogStub) Manufacturers(_ context.Context, _ int64) ([]catalog.Manufacturer, error) {
	if err := c.record("manufacturers"); err != nil {
		return nil, err
	}
	return c.Makers, nil
}

func (c *CatalogStub) Models(_ context.Context, _, _ int64) ([]catalog.Model, error) {
	if err := c.record("models"); err != nil {
		return nil, err
	}
	return c.ModelList, nil
}

func (c *CatalogStub) Vehicles(_ context.Context, _, _, _ int64) ([]catalog.Vehicle, error) {
	if err := c.record("vehicles"); err != nil {
		return nil, err
	}
	return c.VehicleList, nil
}

func (c *CatalogStub) Categories(_ context.Context, _, _, _ int64) (map[string]*catalog.Category, error) {
	if err := c.record("categories"); err != nil {
		return nil, err
	}
	return c.Tree, nil
}

func (c *CatalogStub) Articles(_ context.Context, _, _, _, _ int64) ([]catalog.Article, error) {
	if err := c.record("articles"); err != nil {
		return nil, err
	}
	return c.ArticleList, nil
}

var _ catalog.Service = (*CatalogStub)(nil)

// InventoryStub answers batch lookups from a fixed stock table.
type InventoryStub struct {
	Stocks map[int64]inventory.Stock
	Err    error
}

func (s *InventoryStub) BatchLookup(_ context.Context, ids []int64) (map[int64]inventory.Stock, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(map[int64]inventory.Stock, len(ids))
	for _, id := range ids {
		if stock, ok := s.Stocks[id]; ok {
			out[id] = stock
		}
	}
	return out, nil
}

var _ inventory.Repository = (*InventoryStub)(nil)

// CompletionStub returns a fixed response and counts calls.
type CompletionStub struct {
	mu      sync.Mutex
	calls   int
	Output  string
	Err     error
	Prompts []retrieval.Prompt
}

func (c *CompletionStub) Generate(_ context.Context, p retrieval.Prompt) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.Prompts = append(c.Prompts, p)
	if c.Err != nil {
		return "", c.Err
	}
	if c.Output == "" {
		return "stub answer", nil
	}
	return c.Output, nil
}

// Calls returns how many generations ran.
func (c *CompletionStub) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

var _ retrieval.Completion = (*CompletionStub)(nil)

// ValidatorStub accepts everything unless Err is set.
type ValidatorStub struct {
	Err error
}

func (v *ValidatorStub) Validate(context.Context, string) error { return v.Err }

var _ retrieval.Validator = (*ValidatorStub)(nil)

// SearcherStub serves fixed hits.
type SearcherStub struct {
	Hits []search.Hit
	Err  error
}

func (s *SearcherStub) Search(context.Context, string) ([]search.Hit, error) {
	return s.Hits, s.Err
}

var _ retrieval.Searcher = (*SearcherStub)(nil)
