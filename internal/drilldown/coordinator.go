package drilldown

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/partsflow/partsflow/internal/catalog"
	"github.com/partsflow/partsflow/internal/conversation"
	"github.com/partsflow/partsflow/internal/directive"
	"github.com/partsflow/partsflow/internal/fault"
	"github.com/partsflow/partsflow/internal/inventory"
	"github.com/partsflow/partsflow/internal/language"
	"github.com/partsflow/partsflow/internal/metrics"
	"github.com/partsflow/partsflow/internal/session"
)

// Outcome is the result of handling one drill-down directive. NextState, when
// set, tells the engine which conversation state the session moves to; nil
// means the state is unchanged.
type Outcome struct {
	Directives []directive.Directive
	Text       string
	NextState  *conversation.State
}

// Coordinator executes drill-down directives against the catalog, enforcing
// the chain order, memoizing step results per session, and enriching the
// terminal articles step with inventory data.
type Coordinator struct {
	catalog     catalog.Service
	merger      *inventory.Merger
	depth       int
	maxArticles int
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu     sync.Mutex
	caches map[string]*stepCache
}

// NewCoordinator creates a Coordinator. depth is the number of category
// levels the client must resolve before articles can be requested.
func NewCoordinator(svc catalog.Service, merger *inventory.Merger, depth, maxArticles int, m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if depth <= 0 {
		depth = 3
	}
	if maxArticles <= 0 {
		maxArticles = 50
	}
	return &Coordinator{
		catalog:     svc,
		merger:      merger,
		depth:       depth,
		maxArticles: maxArticles,
		metrics:     m,
		logger:      logger,
		caches:      make(map[string]*stepCache),
	}
}

// Depth returns the configured category depth.
func (c *Coordinator) Depth() int { return c.depth }

// Handles reports whether d is a drill-down directive this coordinator owns.
func (c *Coordinator) Handles(d directive.Directive) bool {
	switch d.(type) {
	case directive.RequestManufacturers, directive.RequestModels, directive.RequestVehicles,
		directive.RequestCategories, directive.RequestArticles,
		directive.VehicleSelected, directive.CategorySelected,
		directive.NoStockSignal, directive.InventoryFailedSignal:
		return true
	}
	return false
}

// Handle executes one drill-down directive for sess. Chain state mutates only
// on success; guard violations and step failures return an error carrying the
// fault kind and step name, leaving the session untouched.
func (c *Coordinator) Handle(ctx context.Context, sess *session.Session, d directive.Directive) (Outcome, error) {
	if sess.Context.DrillDown == nil {
		sess.Context.DrillDown = &session.DrillDown{}
	}
	dd := sess.Context.DrillDown

	switch d := d.(type) {
	case directive.RequestManufacturers:
		return c.manufacturers(ctx, sess, dd, d)
	case directive.RequestModels:
		return c.models(ctx, sess, dd, d)
	case directive.RequestVehicles:
		return c.vehicles(ctx, sess, dd, d)
	case directive.VehicleSelected:
		return c.vehicleSelected(ctx, sess, dd, d)
	case directive.RequestCategories:
		return c.categories(ctx, sess, dd, d)
	case directive.CategorySelected:
		return c.categorySelected(sess, dd, d)
	case directive.RequestArticles:
		return c.articles(ctx, sess, dd, d)
	case directive.NoStockSignal, directive.InventoryFailedSignal:
		// Client acknowledgements carry no state.
		return Outcome{}, nil
	}
	return Outcome{}, fault.New(fault.KindValidation, "directive %s is not a drill-down step", d.DirectiveKind())
}

// OpenPicker produces the open-vehicle-picker directive that starts the
// drill-down, fetching the root vehicle-types list.
func (c *Coordinator) OpenPicker(ctx context.Context, sess *session.Session) (Outcome, error) {
	types, err := fetchStep(ctx, c, sess.ID, "vehicle-types", func(ctx context.Context) ([]catalog.VehicleType, error) {
		return c.catalog.VehicleTypes(ctx)
	})
	if err != nil {
		return Outcome{}, stepFailed(StepVehicleTypes, err)
	}
	return Outcome{
		Directives: []directive.Directive{directive.OpenVehiclePicker{
			Message:      language.T(sess.Language, "vehicle.picker"),
			VehicleTypes: types,
		}},
		NextState: statePtr(conversation.StateVehicleSelection),
	}, nil
}

func (c *Coordinator) manufacturers(ctx context.Context, sess *session.Session, dd *session.DrillDown, d directive.RequestManufacturers) (Outcome, error) {
	key := fmt.Sprintf("manufacturers:%d", d.VehicleTypeID)
	list, err := fetchStep(ctx, c, sess.ID, key, func(ctx context.Context) ([]catalog.Manufacturer, error) {
		return c.catalog.Manufacturers(ctx, d.VehicleTypeID)
	})
	if err != nil {
		return Outcome{}, stepFailed(StepManufacturers, err)
	}
	resolveType(dd, d.VehicleTypeID)
	return Outcome{
		Directives: []directive.Directive{directive.ManufacturersResult{Manufacturers: list}},
		NextState:  statePtr(conversation.StateVehicleSelection),
	}, nil
}

func (c *Coordinator) models(ctx context.Context, sess *session.Session, dd *session.DrillDown, d directive.RequestModels) (Outcome, error) {
	if err := requireLink(StepModels, dd.VehicleTypeID, d.VehicleTypeID, "vehicle type"); err != nil {
		return Outcome{}, err
	}
	key := fmt.Sprintf("models:%d:%d", d.ManufacturerID, d.VehicleTypeID)
	list, err := fetchStep(ctx, c, sess.ID, key, func(ctx context.Context) ([]catalog.Model, error) {
		return c.catalog.Models(ctx, d.ManufacturerID, d.VehicleTypeID)
	})
	if err != nil {
		return Outcome{}, stepFailed(StepModels, err)
	}
	resolveManufacturer(dd, d.ManufacturerID)
	return Outcome{
		Directives: []directive.Directive{directive.ModelsResult{Models: list}},
		NextState:  statePtr(conversation.StateVehicleSelection),
	}, nil
}

func (c *Coordinator) vehicles(ctx context.Context, sess *session.Session, dd *session.DrillDown, d directive.RequestVehicles) (Outcome, error) {
	if err := requireLink(StepVehicles, dd.VehicleTypeID, d.VehicleTypeID, "vehicle type"); err != nil {
		return Outcome{}, err
	}
	if err := requireLink(StepVehicles, dd.ManufacturerID, d.ManufacturerID, "manufacturer"); err != nil {
		return Outcome{}, err
	}
	key := fmt.Sprintf("vehicles:%d", d.ModelID)
	list, err := fetchStep(ctx, c, sess.ID, key, func(ctx context.Context) ([]catalog.Vehicle, error) {
		return c.catalog.Vehicles(ctx, d.ModelID, d.ManufacturerID, d.VehicleTypeID)
	})
	if err != nil {
		return Outcome{}, stepFailed(StepVehicles, err)
	}
	resolveModel(dd, d.ModelID)
	return Outcome{
		Directives: []directive.Directive{directive.VehiclesResult{Vehicles: list}},
		NextState:  statePtr(conversation.StateVehicleSelection),
	}, nil
}

// vehicleSelected records the chosen vehicle. The payload carries the full id
// chain, so it resolves every link in one step; a vehicle picked through an
// external modal is accepted without the intermediate list requests.
func (c *Coordinator) vehicleSelected(_ context.Context, sess *session.Session, dd *session.DrillDown, d directive.VehicleSelected) (Outcome, error) {
	v := d.Vehicle
	if v.ID == 0 || v.ModelID == 0 || v.ManufacturerID == 0 || v.VehicleTypeID == 0 {
		return Outcome{}, fault.New(fault.KindValidation, "vehicle selection is missing chain ids").
			WithStep(StepVehicles.String())
	}
	resolveType(dd, v.VehicleTypeID)
	resolveManufacturer(dd, v.ManufacturerID)
	resolveModel(dd, v.ModelID)
	resolveVehicle(dd, v.ID)

	vehicle := v
	sess.Context.Vehicle = &vehicle

	c.logger.Info("vehicle selected",
		"session_id", sess.ID,
		"vehicle_id", v.ID,
		"manufacturer", v.Manufacturer,
		"model", v.ModelName,
	)

	return Outcome{
		Text: language.Tf(sess.Language, "vehicle.selected",
			v.Manufacturer, v.ModelName, v.EngineName, v.Year),
		Directives: []directive.Directive{directive.OpenCategoryPicker{
			Message:        language.T(sess.Language, "category.picker"),
			VehicleID:      v.ID,
			ManufacturerID: v.ManufacturerID,
			CategoryDepth:  c.depth,
		}},
		NextState: statePtr(conversation.StateCategoryLookup),
	}, nil
}

func (c *Coordinator) categories(ctx context.Context, sess *session.Session, dd *session.DrillDown, d directive.RequestCategories) (Outcome, error) {
	if !ChainComplete(dd) {
		return Outcome{}, denied(StepCategories, "categories requested before the vehicle chain was resolved")
	}
	if err := requireLink(StepCategories, dd.VehicleID, d.VehicleID, "vehicle"); err != nil {
		return Outcome{}, err
	}
	if err := requireLink(StepCategories, dd.ManufacturerID, d.ManufacturerID, "manufacturer"); err != nil {
		return Outcome{}, err
	}
	key := fmt.Sprintf("categories:%d", d.VehicleID)
	tree, err := fetchStep(ctx, c, sess.ID, key, func(ctx context.Context) (map[string]*catalog.Category, error) {
		return c.catalog.Categories(ctx, d.VehicleID, d.ManufacturerID, *dd.VehicleTypeID)
	})
	if err != nil {
		return Outcome{}, stepFailed(StepCategories, err)
	}
	return Outcome{
		Directives: []directive.Directive{directive.CategoriesResult{Categories: tree}},
		NextState:  statePtr(conversation.StateCategoryLookup),
	}, nil
}

// categorySelected records a resolved category path. Names are filled from
// the cached tree when available; the path alone is authoritative.
func (c *Coordinator) categorySelected(sess *session.Session, dd *session.DrillDown, d directive.CategorySelected) (Outcome, error) {
	if !ChainComplete(dd) {
		return Outcome{}, denied(StepCategories, "category selected before the vehicle chain was resolved")
	}
	path := d.Path
	if len(path) == 0 {
		path = []int64{d.CategoryID}
	}
	if path[len(path)-1] != d.CategoryID {
		return Outcome{}, denied(StepCategories, "category path does not end at the selected category %d", d.CategoryID)
	}

	tree := c.cachedTree(sess.ID, *dd.VehicleID)
	refs := make([]session.CategoryRef, len(path))
	for i, id := range path {
		ref := session.CategoryRef{ID: id}
		if cat := findCategory(tree, id); cat != nil {
			ref.Name = cat.Name
		}
		refs[i] = ref
	}

	dd.CategoryPath = refs
	dd.ArticleIDs = d.ArticleIDs
	sess.Context.CategoryPath = refs
	sess.Context.ArticleIDs = d.ArticleIDs
	return Outcome{}, nil
}

func (c *Coordinator) articles(ctx context.Context, sess *session.Session, dd *session.DrillDown, d directive.RequestArticles) (Outcome, error) {
	if !ChainComplete(dd) {
		return Outcome{}, denied(StepArticles, "articles requested before the vehicle chain was resolved")
	}
	if err := requireLink(StepArticles, dd.VehicleID, d.VehicleID, "vehicle"); err != nil {
		return Outcome{}, err
	}
	if err := requireLink(StepArticles, dd.ManufacturerID, d.ManufacturerID, "manufacturer"); err != nil {
		return Outcome{}, err
	}
	if !CategoriesResolved(dd, c.depth) {
		return Outcome{}, denied(StepArticles, "articles requested before %d category levels were resolved", c.depth)
	}
	if leaf := dd.CategoryPath[len(dd.CategoryPath)-1]; leaf.ID != d.ProductGroupID {
		return Outcome{}, denied(StepArticles, "product group %d was not the selected category", d.ProductGroupID)
	}

	key := fmt.Sprintf("articles:%d:%d", d.VehicleID, d.ProductGroupID)
	raw, err := fetchStep(ctx, c, sess.ID, key, func(ctx context.Context) ([]catalog.Article, error) {
		return c.catalog.Articles(ctx, d.VehicleID, d.ProductGroupID, d.ManufacturerID, *dd.VehicleTypeID)
	})
	if err != nil {
		return Outcome{}, stepFailed(StepArticles, err)
	}
	if len(raw) > c.maxArticles {
		raw = raw[:c.maxArticles]
	}
	if len(raw) == 0 {
		return Outcome{
			Directives: []directive.Directive{directive.NoArticlesSignal{
				Message: language.T(sess.Language, "articles.none"),
			}},
		}, nil
	}

	start := time.Now()
	enriched, err := c.merger.Merge(ctx, raw)
	c.metrics.UpstreamDuration.WithLabelValues("inventory").Observe(time.Since(start).Seconds())
	switch fault.Classify(err) {
	case fault.KindNoStock:
		// Out of stock everywhere. Show the articles for reference but keep
		// the session in category lookup so the user can pick elsewhere.
		return Outcome{
			Directives: []directive.Directive{directive.NoArticlesSignal{
				Message:  language.T(sess.Language, "articles.none"),
				Articles: enriched,
			}},
		}, nil
	default:
		if err != nil {
			return Outcome{}, err
		}
	}

	ids := make([]int64, len(enriched))
	for i, a := range enriched {
		ids[i] = a.ID
	}
	dd.ArticleIDs = ids
	sess.Context.ArticleIDs = ids

	return Outcome{
		Directives: []directive.Directive{directive.ArticlesResult{Articles: enriched}},
		NextState:  statePtr(conversation.StateArticleLookup),
	}, nil
}

// DropSession discards the step cache for a session. Call it when the session
// ends or its context is reset.
func (c *Coordinator) DropSession(sessionID string) {
	c.mu.Lock()
	delete(c.caches, sessionID)
	c.mu.Unlock()
}

func (c *Coordinator) cacheFor(sessionID string) *stepCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	sc, ok := c.caches[sessionID]
	if !ok {
		sc = newStepCache()
		c.caches[sessionID] = sc
	}
	return sc
}

// cachedTree returns the category tree for a vehicle if a prior
// request-categories populated the cache, nil otherwise.
func (c *Coordinator) cachedTree(sessionID string, vehicleID int64) map[string]*catalog.Category {
	sc := c.cacheFor(sessionID)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if v, ok := sc.entries[fmt.Sprintf("categories:%d", vehicleID)]; ok {
		if tree, ok := v.(map[string]*catalog.Category); ok {
			return tree
		}
	}
	return nil
}

// fetchStep runs one memoized catalog call, recording cache and latency
// metrics. Fill errors are not cached.
func fetchStep[T any](ctx context.Context, c *Coordinator, sessionID, key string, fill func(context.Context) (T, error)) (T, error) {
	sc := c.cacheFor(sessionID)
	start := time.Now()
	v, hit, err := sc.fetch(ctx, key, func(ctx context.Context) (any, error) {
		return fill(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if hit {
		c.metrics.DrilldownCacheHits.Inc()
	} else {
		c.metrics.DrilldownCacheMisses.Inc()
		c.metrics.UpstreamDuration.WithLabelValues("catalog").Observe(time.Since(start).Seconds())
	}
	return v.(T), nil
}

func findCategory(tree map[string]*catalog.Category, id int64) *catalog.Category {
	for _, cat := range tree {
		if cat == nil {
			continue
		}
		if cat.ID == id {
			return cat
		}
		if found := findCategory(cat.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// stepFailed tags an upstream step failure with its step name, preserving the
// original fault kind when the cause already carries one.
func stepFailed(step Step, err error) error {
	return fault.Wrap(fault.Classify(err), err, "drill-down step %s failed", step).WithStep(step.String())
}

func statePtr(s conversation.State) *conversation.State { return &s }
