package retrieval

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/partsflow/partsflow/internal/catalog"
	"github.com/partsflow/partsflow/internal/fault"
	"github.com/partsflow/partsflow/internal/intent"
	"github.com/partsflow/partsflow/internal/log"
	"github.com/partsflow/partsflow/internal/metrics"
	"github.com/partsflow/partsflow/internal/search"
	"github.com/partsflow/partsflow/internal/session"
)

type fakeCompletion struct {
	calls   int
	prompts []Prompt
	outputs []string
	err     error
}

func (f *fakeCompletion) Generate(ctx context.Context, p Prompt) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, p)
	if f.err != nil {
		return "", f.err
	}
	if len(f.outputs) == 0 {
		return "generated answer", nil
	}
	out := f.outputs[0]
	if len(f.outputs) > 1 {
		f.outputs = f.outputs[1:]
	}
	return out, nil
}

type fakeValidator struct {
	calls   int
	rejects int
}

func (f *fakeValidator) Validate(ctx context.Context, text string) error {
	f.calls++
	if f.calls <= f.rejects {
		return fault.New(fault.KindHallucination, "unsupported claim")
	}
	return nil
}

type fakeSearcher struct {
	calls int
	hits  []search.Hit
	err   error
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]search.Hit, error) {
	f.calls++
	return f.hits, f.err
}

func newTestOrchestrator(s Searcher, c Completion, v Validator, maxContext int) *Orchestrator {
	return NewOrchestrator(s, c, v, maxContext, metrics.NewNop(), log.NewNop())
}

func faqSession() *session.Session {
	return &session.Session{ID: "sess-1", Language: "en"}
}

func TestStrategyFor(t *testing.T) {
	cases := []struct {
		in   intent.Intent
		want Strategy
	}{
		{intent.FAQ, StrategyHybrid},
		{intent.OrderStatus, StrategyStructured},
		{intent.PriceQuote, StrategyStructured},
		{intent.ProductSearch, StrategyStructured},
		{intent.Greeting, StrategyNone},
		{intent.Goodbye, StrategyNone},
		{intent.Unknown, StrategyNone},
	}
	for _, tc := range cases {
		if got := StrategyFor(tc.in); got != tc.want {
			t.Errorf("StrategyFor(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestRespondGreetingSkipsCompletion(t *testing.T) {
	comp := &fakeCompletion{}
	o := newTestOrchestrator(&fakeSearcher{}, comp, &fakeValidator{}, 0)

	text, err := o.Respond(context.Background(), faqSession(), intent.Greeting, "hola", nil)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if text == "" {
		t.Fatal("empty greeting")
	}
	if comp.calls != 0 {
		t.Errorf("completion called %d times for a canned strategy, want 0", comp.calls)
	}
}

func TestRespondFAQGroundsOnRetrievedDocuments(t *testing.T) {
	searcher := &fakeSearcher{hits: []search.Hit{
		{DocumentID: 1, Content: "Warranty covers 12 months from purchase."},
	}}
	comp := &fakeCompletion{}
	o := newTestOrchestrator(searcher, comp, &fakeValidator{}, 0)

	text, err := o.Respond(context.Background(), faqSession(), intent.FAQ, "what is the warranty?", nil)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if text != "generated answer" {
		t.Errorf("text = %q", text)
	}
	if searcher.calls != 1 {
		t.Errorf("searcher called %d times, want 1", searcher.calls)
	}
	if !strings.Contains(comp.prompts[0].Grounding, "Warranty covers 12 months") {
		t.Errorf("grounding missing retrieved document: %q", comp.prompts[0].Grounding)
	}
}

func TestRespondStructuredIncludesVehicle(t *testing.T) {
	comp := &fakeCompletion{}
	o := newTestOrchestrator(&fakeSearcher{}, comp, &fakeValidator{}, 0)

	sess := faqSession()
	sess.Context.Vehicle = &catalog.Vehicle{
		Manufacturer: "MAZDA", ModelName: "CX-30", EngineName: "2.0 Skyactiv-G", Year: "2019-2024",
	}

	if _, err := o.Respond(context.Background(), sess, intent.PriceQuote, "how much are the pads?", nil); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !strings.Contains(comp.prompts[0].Grounding, "MAZDA CX-30") {
		t.Errorf("grounding missing bound vehicle: %q", comp.prompts[0].Grounding)
	}
}

func TestRespondRegeneratesOnceOnRejection(t *testing.T) {
	comp := &fakeCompletion{outputs: []string{"bad answer", "good answer"}}
	val := &fakeValidator{rejects: 1}
	o := newTestOrchestrator(&fakeSearcher{}, comp, val, 0)

	text, err := o.Respond(context.Background(), faqSession(), intent.FAQ, "warranty?", nil)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if text != "good answer" {
		t.Errorf("text = %q, want regenerated answer", text)
	}
	if comp.calls != 2 {
		t.Errorf("completion called %d times, want 2", comp.calls)
	}
	if !strings.Contains(comp.prompts[1].System, "rejected") {
		t.Errorf("regeneration prompt lacks corrective instruction: %q", comp.prompts[1].System)
	}
}

func TestRespondDegradesToSafeResponseAfterSecondRejection(t *testing.T) {
	comp := &fakeCompletion{outputs: []string{"bad", "still bad"}}
	val := &fakeValidator{rejects: 2}
	o := newTestOrchestrator(&fakeSearcher{}, comp, val, 0)

	text, err := o.Respond(context.Background(), faqSession(), intent.FAQ, "warranty?", nil)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if strings.Contains(text, "bad") {
		t.Fatalf("rejected text passed through: %q", text)
	}
	if text == "" {
		t.Fatal("empty safe response")
	}
	if comp.calls != 2 {
		t.Errorf("completion called %d times, want exactly 2", comp.calls)
	}
}

func TestRespondSearchFailureSurfaces(t *testing.T) {
	o := newTestOrchestrator(&fakeSearcher{err: errors.New("both indexes down")}, &fakeCompletion{}, &fakeValidator{}, 0)

	if _, err := o.Respond(context.Background(), faqSession(), intent.FAQ, "warranty?", nil); err == nil {
		t.Fatal("expected error when retrieval fails")
	}
}

func TestGroundingBounded(t *testing.T) {
	searcher := &fakeSearcher{hits: []search.Hit{
		{DocumentID: 1, Content: strings.Repeat("x", 10000)},
	}}
	comp := &fakeCompletion{}
	o := newTestOrchestrator(searcher, comp, &fakeValidator{}, 200)

	if _, err := o.Respond(context.Background(), faqSession(), intent.FAQ, "q", nil); err != nil {
		t.Fatalf("respond: %v", err)
	}
	grounding := comp.prompts[0].Grounding
	if len(grounding) > 200+len("Context for this conversation:\n") {
		t.Errorf("grounding length = %d, want bounded", len(grounding))
	}
}

func TestHTTPCompletionRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream busy", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"content":"hello"}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer srv.Close()

	c := NewHTTPCompletion(srv.URL, "", "assistant-v1", time.Second)
	c.backoff = time.Millisecond

	text, err := c.Generate(context.Background(), Prompt{Utterance: "hi"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "hello" {
		t.Errorf("text = %q, want hello", text)
	}
	if calls.Load() != 2 {
		t.Errorf("server saw %d calls, want 2", calls.Load())
	}
}

func TestHTTPCompletionDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad prompt", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPCompletion(srv.URL, "", "assistant-v1", time.Second)
	c.backoff = time.Millisecond

	if _, err := c.Generate(context.Background(), Prompt{Utterance: "hi"}); err == nil {
		t.Fatal("expected error for client error status")
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d calls, want 1", calls.Load())
	}
}

func TestHTTPValidatorRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"valid":false,"reason":"invented price"}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer srv.Close()

	v := NewHTTPValidator(srv.URL, "", time.Second)
	err := v.Validate(context.Background(), "the pads cost $3")
	if fault.Classify(err) != fault.KindHallucination {
		t.Fatalf("classify = %v, want %v", fault.Classify(err), fault.KindHallucination)
	}
}
