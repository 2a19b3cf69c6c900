package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/partsflow/partsflow/internal/conversation"
	"github.com/partsflow/partsflow/internal/directive"
	"github.com/partsflow/partsflow/internal/drilldown"
	"github.com/partsflow/partsflow/internal/engine"
	"github.com/partsflow/partsflow/internal/intent"
	"github.com/partsflow/partsflow/internal/inventory"
	"github.com/partsflow/partsflow/internal/language"
	"github.com/partsflow/partsflow/internal/log"
	"github.com/partsflow/partsflow/internal/metrics"
	"github.com/partsflow/partsflow/internal/ratelimit"
	"github.com/partsflow/partsflow/internal/retrieval"
	"github.com/partsflow/partsflow/internal/session"
	"github.com/partsflow/partsflow/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	engine    *engine.Engine
	store     *session.Store
	catalog   *testutil.CatalogStub
	inventory *testutil.InventoryStub
	completer *testutil.CompletionStub
	quotas    ratelimit.Quotas
}

func newFixture(t *testing.T, opts ...func(*fixture)) *fixture {
	t.Helper()

	f := &fixture{
		catalog:   testutil.NewCatalogStub(),
		inventory: &testutil.InventoryStub{Stocks: map[int64]inventory.Stock{5001: {InStock: true, Quantity: 3}}},
		completer: &testutil.CompletionStub{},
		quotas:    ratelimit.Quotas{PerMinute: 100, PerDay: 1000, PerWeek: 5000},
	}
	for _, opt := range opts {
		opt(f)
	}

	logger := log.NewNop()
	m := metrics.NewNop()

	f.store = session.NewStore(testutil.NewMemoryKV(), time.Hour, 20, logger)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryCounterStore(), f.quotas, logger)
	merger := inventory.NewMerger(f.inventory, time.Second, logger)
	coordinator := drilldown.NewCoordinator(f.catalog, merger, 3, 50, m, logger)
	orchestrator := retrieval.NewOrchestrator(&testutil.SearcherStub{}, f.completer, &testutil.ValidatorStub{}, 4000, m, logger)
	langCoord := language.NewCoordinator(f.store, logger)

	f.engine = engine.New(
		limiter,
		f.store,
		intent.NewRuleClassifier(),
		conversation.NewMachine(logger),
		coordinator,
		orchestrator,
		langCoord,
		m,
		logger,
	)
	return f
}

func (f *fixture) turn(t *testing.T, sessionID, message string) engine.Result {
	t.Helper()
	result, err := f.engine.Turn(context.Background(), engine.Request{
		SessionID:  sessionID,
		CustomerID: "cust-1",
		Channel:    "web",
		Message:    message,
	})
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	return result
}

func encodeDirectives(t *testing.T, ds ...directive.Directive) string {
	t.Helper()
	raw, err := directive.Encode(ds, "")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return raw
}

func selectedVehicle() directive.VehicleSelected {
	return directive.VehicleSelected{Vehicle: testutil.NewCatalogStub().VehicleList[0]}
}

func TestProductSearchOpensVehiclePicker(t *testing.T) {
	f := newFixture(t)

	result := f.turn(t, "sess-1", "necesito un repuesto para mi carro")
	if result.Outcome != engine.OutcomeSuccess {
		t.Fatalf("outcome = %s, want success", result.Outcome)
	}
	if result.State != conversation.StateVehicleSelection {
		t.Fatalf("state = %s, want %s", result.State, conversation.StateVehicleSelection)
	}

	decoded := directive.Decode(result.Message)
	if len(decoded.Directives) != 1 {
		t.Fatalf("reply directives = %d, want 1", len(decoded.Directives))
	}
	picker, ok := decoded.Directives[0].(directive.OpenVehiclePicker)
	if !ok {
		t.Fatalf("directive = %T, want OpenVehiclePicker", decoded.Directives[0])
	}
	if len(picker.VehicleTypes) == 0 {
		t.Error("picker carries no vehicle types")
	}
}

func TestResolvedChainCategoriesSingleCatalogCall(t *testing.T) {
	f := newFixture(t)

	result := f.turn(t, "sess-1", encodeDirectives(t, selectedVehicle()))
	if result.State != conversation.StateCategoryLookup {
		t.Fatalf("state after vehicle-selected = %s, want %s", result.State, conversation.StateCategoryLookup)
	}

	req := directive.RequestCategories{VehicleID: 138817, ManufacturerID: 72}
	for i := 0; i < 2; i++ {
		result = f.turn(t, "sess-1", encodeDirectives(t, req))
		if result.State != conversation.StateCategoryLookup {
			t.Fatalf("state = %s, want %s", result.State, conversation.StateCategoryLookup)
		}
		decoded := directive.Decode(result.Message)
		if _, ok := decoded.Directives[0].(directive.CategoriesResult); !ok {
			t.Fatalf("directive = %T, want CategoriesResult", decoded.Directives[0])
		}
	}
	if got := f.catalog.Calls("categories"); got != 1 {
		t.Errorf("catalog categories called %d times, want 1", got)
	}
}

func TestZeroStockKeepsCategoryLookup(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.inventory.Stocks = map[int64]inventory.Stock{}
	})

	f.turn(t, "sess-1", encodeDirectives(t, selectedVehicle()))
	f.turn(t, "sess-1", encodeDirectives(t, directive.CategorySelected{
		CategoryID: 100030,
		Path:       []int64{100006, 100032, 100030},
	}))
	result := f.turn(t, "sess-1", encodeDirectives(t, directive.RequestArticles{
		VehicleID: 138817, ProductGroupID: 100030, ManufacturerID: 72,
	}))

	if result.State != conversation.StateCategoryLookup {
		t.Fatalf("state = %s, want %s (no advance on zero stock)", result.State, conversation.StateCategoryLookup)
	}
	decoded := directive.Decode(result.Message)
	signal, ok := decoded.Directives[0].(directive.NoArticlesSignal)
	if !ok {
		t.Fatalf("directive = %T, want NoArticlesSignal", decoded.Directives[0])
	}
	if signal.Message == "" {
		t.Error("no-articles signal without user message")
	}
}

func TestLanguageResetMidDrilldown(t *testing.T) {
	f := newFixture(t)

	f.turn(t, "sess-1", "necesito un repuesto")
	f.turn(t, "sess-1", encodeDirectives(t, directive.RequestManufacturers{VehicleTypeID: 1}))

	result, err := f.engine.Turn(context.Background(), engine.Request{
		SessionID:  "sess-1",
		CustomerID: "cust-1",
		Language:   "en",
		Message:    "hello",
	})
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if result.State != conversation.StateGreeting {
		t.Fatalf("state = %s, want %s", result.State, conversation.StateGreeting)
	}
	if !strings.Contains(result.Message, "English") {
		t.Errorf("reply not in target language: %q", result.Message)
	}

	sess, err := f.store.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Language != language.EN {
		t.Errorf("language = %q, want %q", sess.Language, language.EN)
	}
	if sess.Context.DrillDown != nil || sess.Context.Vehicle != nil {
		t.Errorf("context survived language reset: %+v", sess.Context)
	}
	history, err := f.store.History(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history entries after reset = %d, want 0", len(history))
	}
}

func TestRateLimitRejection(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.quotas = ratelimit.Quotas{PerMinute: 2}
	})

	for i := 0; i < 2; i++ {
		if result := f.turn(t, "sess-1", "hola"); result.Outcome != engine.OutcomeSuccess {
			t.Fatalf("turn %d outcome = %s", i, result.Outcome)
		}
	}
	result := f.turn(t, "sess-1", "hola")
	if result.Outcome != engine.OutcomeRateLimited {
		t.Fatalf("outcome = %s, want rate_limited", result.Outcome)
	}
	if result.RetryAfter <= 0 {
		t.Errorf("retry after = %v, want positive", result.RetryAfter)
	}
	if result.Message == "" {
		t.Error("rate-limited reply carries no user message")
	}
}

func TestOutOfOrderDirectiveYieldsErrorDirective(t *testing.T) {
	f := newFixture(t)

	result := f.turn(t, "sess-1", encodeDirectives(t, directive.RequestModels{ManufacturerID: 72, VehicleTypeID: 1}))
	if result.Outcome != engine.OutcomeSuccess {
		t.Fatalf("outcome = %s, want success with error directive", result.Outcome)
	}
	decoded := directive.Decode(result.Message)
	errDir, ok := decoded.Directives[0].(directive.Error)
	if !ok {
		t.Fatalf("directive = %T, want Error", decoded.Directives[0])
	}
	if errDir.CauseKind != "validation_error" {
		t.Errorf("cause kind = %q, want validation_error", errDir.CauseKind)
	}
	if errDir.Step != "models" {
		t.Errorf("step = %q, want models", errDir.Step)
	}
}

func TestGoodbyeEndsSession(t *testing.T) {
	f := newFixture(t)

	f.turn(t, "sess-1", "hola")
	result := f.turn(t, "sess-1", "adios")
	if result.Outcome != engine.OutcomeSuccess {
		t.Fatalf("outcome = %s", result.Outcome)
	}

	_, err := f.engine.Turn(context.Background(), engine.Request{
		SessionID: "sess-1", CustomerID: "cust-1", Message: "hola",
	})
	if !errors.Is(err, session.ErrSessionEnded) {
		t.Fatalf("turn after goodbye: %v, want ErrSessionEnded", err)
	}
}

func TestInternalErrorCarriesCorrelationID(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.completer.Err = errors.New("model endpoint down")
	})

	result := f.turn(t, "sess-1", "cuanto cuesta la garantia del pedido")
	if result.Outcome != engine.OutcomeInternal {
		t.Fatalf("outcome = %s, want internal_error", result.Outcome)
	}
	if result.CorrelationID == "" {
		t.Fatal("no correlation id on internal error")
	}
	if !strings.Contains(result.Message, result.CorrelationID) {
		t.Errorf("apology %q does not reference correlation id %q", result.Message, result.CorrelationID)
	}

	// The failed turn must not have advanced the stored session.
	sess, err := f.store.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.State != conversation.Initial {
		t.Errorf("state after failed turn = %s, want %s", sess.State, conversation.Initial)
	}
}

// blockingCompletion parks generations until released, to hold a turn open.
type blockingCompletion struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingCompletion) Generate(ctx context.Context, _ retrieval.Prompt) (string, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestConcurrentTurnRejected(t *testing.T) {
	blocker := &blockingCompletion{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	logger := log.NewNop()
	m := metrics.NewNop()
	store := session.NewStore(testutil.NewMemoryKV(), time.Hour, 20, logger)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryCounterStore(), ratelimit.Quotas{PerMinute: 100}, logger)
	merger := inventory.NewMerger(&testutil.InventoryStub{}, time.Second, logger)
	coordinator := drilldown.NewCoordinator(testutil.NewCatalogStub(), merger, 3, 50, m, logger)
	orchestrator := retrieval.NewOrchestrator(&testutil.SearcherStub{}, blocker, &testutil.ValidatorStub{}, 4000, m, logger)

	e := engine.New(limiter, store, intent.NewRuleClassifier(), conversation.NewMachine(logger),
		coordinator, orchestrator, language.NewCoordinator(store, logger), m, logger)

	done := make(chan error, 1)
	go func() {
		_, err := e.Turn(context.Background(), engine.Request{
			SessionID: "sess-1", CustomerID: "cust-1", Message: "donde esta mi pedido",
		})
		done <- err
	}()

	<-blocker.started
	_, err := e.Turn(context.Background(), engine.Request{
		SessionID: "sess-1", CustomerID: "cust-1", Message: "hola",
	})
	if !errors.Is(err, session.ErrTurnInFlight) {
		t.Fatalf("concurrent turn: %v, want ErrTurnInFlight", err)
	}

	close(blocker.release)
	if err := <-done; err != nil {
		t.Fatalf("first turn: %v", err)
	}

	// The lock is released; the session accepts turns again.
	if _, err := e.Turn(context.Background(), engine.Request{
		SessionID: "sess-1", CustomerID: "cust-1", Message: "hola",
	}); err != nil {
		t.Fatalf("turn after release: %v", err)
	}
}

func TestDirectiveOrderingPreserved(t *testing.T) {
	f := newFixture(t)

	raw := encodeDirectives(t,
		selectedVehicle(),
		directive.RequestCategories{VehicleID: 138817, ManufacturerID: 72},
	)
	result := f.turn(t, "sess-1", raw)

	decoded := directive.Decode(result.Message)
	if len(decoded.Directives) < 2 {
		t.Fatalf("reply directives = %d, want at least 2", len(decoded.Directives))
	}
	if _, ok := decoded.Directives[0].(directive.OpenCategoryPicker); !ok {
		t.Errorf("first directive = %T, want OpenCategoryPicker", decoded.Directives[0])
	}
	if _, ok := decoded.Directives[1].(directive.CategoriesResult); !ok {
		t.Errorf("second directive = %T, want CategoriesResult", decoded.Directives[1])
	}
}
