// Package catalog provides the client for the hierarchical parts-catalog
// collaborator. Each drill-down step maps to one lookup operation; every call
// carries an explicit timeout and outbound calls are paced with a token
// bucket so a burst of drill-down sessions cannot exhaust the upstream quota.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/partsflow/partsflow/internal/fault"
)

// Upstream locale constants. The collaborator keys all lookups on language
// and country; these match the deployment region.
const (
	defaultLangID    = 4
	defaultCountryID = 62
)

// Service is the catalog contract consumed by the drill-down coordinator.
// One operation per step; the terminal step returns articles.
type Service interface {
	VehicleTypes(ctx context.Context) ([]VehicleType, error)
	Manufacturers(ctx context.Context, vehicleTypeID int64) ([]Manufacturer, error)
	Models(ctx context.Context, manufacturerID, vehicleTypeID int64) ([]Model, error)
	Vehicles(ctx context.Context, modelID, manufacturerID, vehicleTypeID int64) ([]Vehicle, error)
	Categories(ctx context.Context, vehicleID, manufacturerID, vehicleTypeID int64) (map[string]*Category, error)
	Articles(ctx context.Context, vehicleID, productGroupID, manufacturerID, vehicleTypeID int64) ([]Article, error)
}

// Client is the HTTP implementation of Service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	pacer   *rate.Limiter
	logger  *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client. Tests use this to
// point the client at a stub server transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithPacing sets the outbound requests-per-second budget.
func WithPacing(rps float64) Option {
	return func(c *Client) { c.pacer = rate.NewLimiter(rate.Limit(rps), 1) }
}

// NewClient creates a catalog client.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		pacer:   rate.NewLimiter(rate.Limit(10), 1),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("catalog pacing: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build catalog request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return fault.Wrap(fault.KindUpstreamTimeout, err, "catalog call %s timed out", path)
		}
		return fmt.Errorf("catalog call %s: %w", path, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close catalog response body", "error", cerr)
		}
	}()

	c.logger.Debug("catalog call", "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("catalog call %s: status %d: %s", path, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode catalog response %s: %w", path, err)
	}
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func localeQuery() url.Values {
	q := url.Values{}
	q.Set("lang_id", strconv.Itoa(defaultLangID))
	q.Set("country_id", strconv.Itoa(defaultCountryID))
	return q
}

// VehicleTypes lists the available vehicle types (root step).
func (c *Client) VehicleTypes(ctx context.Context) ([]VehicleType, error) {
	var out struct {
		VehicleTypes []VehicleType `json:"vehicle_types"`
	}
	if err := c.get(ctx, "/vehicle-types", nil, &out); err != nil {
		return nil, err
	}
	return out.VehicleTypes, nil
}

// Manufacturers lists manufacturers for a vehicle type.
func (c *Client) Manufacturers(ctx context.Context, vehicleTypeID int64) ([]Manufacturer, error) {
	q := localeQuery()
	q.Set("type_id", strconv.FormatInt(vehicleTypeID, 10))
	var out struct {
		Manufacturers []Manufacturer `json:"manufacturers"`
	}
	if err := c.get(ctx, "/manufacturers", q, &out); err != nil {
		return nil, err
	}
	return out.Manufacturers, nil
}

// Models lists model lines for a manufacturer.
func (c *Client) Models(ctx context.Context, manufacturerID, vehicleTypeID int64) ([]Model, error) {
	q := localeQuery()
	q.Set("manufacturer_id", strconv.FormatInt(manufacturerID, 10))
	q.Set("type_id", strconv.FormatInt(vehicleTypeID, 10))
	var out struct {
		Models []Model `json:"models"`
	}
	if err := c.get(ctx, "/models", q, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Vehicles lists engine/trim variants for a model.
func (c *Client) Vehicles(ctx context.Context, modelID, manufacturerID, vehicleTypeID int64) ([]Vehicle, error) {
	q := localeQuery()
	q.Set("model_id", strconv.FormatInt(modelID, 10))
	q.Set("manufacturer_id", strconv.FormatInt(manufacturerID, 10))
	q.Set("type_id", strconv.FormatInt(vehicleTypeID, 10))
	var out struct {
		Vehicles []Vehicle `json:"vehicles"`
	}
	if err := c.get(ctx, "/vehicles", q, &out); err != nil {
		return nil, err
	}
	return out.Vehicles, nil
}

// Categories returns the hierarchical part-category tree for a vehicle.
func (c *Client) Categories(ctx context.Context, vehicleID, manufacturerID, vehicleTypeID int64) (map[string]*Category, error) {
	q := localeQuery()
	q.Set("vehicle_id", strconv.FormatInt(vehicleID, 10))
	q.Set("manufacturer_id", strconv.FormatInt(manufacturerID, 10))
	q.Set("type_id", strconv.FormatInt(vehicleTypeID, 10))
	var out struct {
		Categories map[string]*Category `json:"categories"`
	}
	if err := c.get(ctx, "/categories", q, &out); err != nil {
		return nil, err
	}
	return out.Categories, nil
}

// Articles lists articles for a vehicle and product group (terminal step).
func (c *Client) Articles(ctx context.Context, vehicleID, productGroupID, manufacturerID, vehicleTypeID int64) ([]Article, error) {
	q := localeQuery()
	q.Set("vehicle_id", strconv.FormatInt(vehicleID, 10))
	q.Set("product_group_id", strconv.FormatInt(productGroupID, 10))
	q.Set("manufacturer_id", strconv.FormatInt(manufacturerID, 10))
	q.Set("type_id", strconv.FormatInt(vehicleTypeID, 10))
	var out struct {
		Articles []Article `json:"articles"`
		Count    int       `json:"count_articles"`
	}
	if err := c.get(ctx, "/articles", q, &out); err != nil {
		return nil, err
	}
	return out.Articles, nil
}
