// Package intent maps free-text utterances to intent labels.
//
// The default classifier is rule-based and bilingual (Spanish/English):
// each intent carries weighted keyword patterns, and the label with the
// highest accumulated weight wins. An external classifier can be plugged in
// through the Classifier interface; the rule-based one doubles as its
// fallback.
package intent

import (
	"context"
	"strings"
)

// Intent labels a user's goal for the current turn.
type Intent string

const (
	ProductSearch  Intent = "product_search"
	OrderStatus    Intent = "order_status"
	FAQ            Intent = "faq"
	PriceQuote     Intent = "price_quote"
	Greeting       Intent = "greeting"
	Goodbye        Intent = "goodbye"
	LanguageSwitch Intent = "language_switch"
	Unknown        Intent = "unknown"
)

// Result is a classification outcome.
type Result struct {
	Intent     Intent
	Confidence float64
}

// Classifier maps an utterance to an intent with a confidence score.
type Classifier interface {
	Classify(ctx context.Context, utterance string) (Result, error)
}

// rule is one weighted keyword pattern.
type rule struct {
	intent  Intent
	weight  float64
	pattern string
}

// rules covers the Spanish and English phrasings seen in production
// traffic. Order is irrelevant; weights accumulate per intent.
var rules = []rule{
	{ProductSearch, 1.0, "repuesto"},
	{ProductSearch, 1.0, "pieza"},
	{ProductSearch, 0.9, "necesito"},
	{ProductSearch, 1.0, "busco"},
	{ProductSearch, 1.0, "part"},
	{ProductSearch, 0.9, "looking for"},
	{ProductSearch, 0.8, "brake"},
	{ProductSearch, 0.8, "filtro"},
	{ProductSearch, 0.8, "filter"},
	{ProductSearch, 0.8, "freno"},
	{ProductSearch, 0.8, "bujia"},
	{ProductSearch, 0.8, "amortiguador"},

	{OrderStatus, 1.2, "pedido"},
	{OrderStatus, 1.2, "order"},
	{OrderStatus, 1.0, "envio"},
	{OrderStatus, 1.0, "shipping"},
	{OrderStatus, 0.9, "tracking"},
	{OrderStatus, 0.9, "rastrear"},

	{PriceQuote, 1.2, "precio"},
	{PriceQuote, 1.2, "price"},
	{PriceQuote, 1.0, "cotiza"},
	{PriceQuote, 1.0, "quote"},
	{PriceQuote, 0.9, "cuanto cuesta"},
	{PriceQuote, 0.9, "how much"},

	{FAQ, 1.0, "garantia"},
	{FAQ, 1.0, "warranty"},
	{FAQ, 1.0, "devolucion"},
	{FAQ, 1.0, "return policy"},
	{FAQ, 0.9, "horario"},
	{FAQ, 0.9, "opening hours"},
	{FAQ, 0.8, "como instalo"},
	{FAQ, 0.8, "how do i install"},

	{Greeting, 1.5, "hola"},
	{Greeting, 1.5, "hello"},
	{Greeting, 1.2, "buenos dias"},
	{Greeting, 1.2, "buenas tardes"},
	{Greeting, 1.2, "good morning"},
	{Greeting, 1.0, "hi"},

	{Goodbye, 1.5, "adios"},
	{Goodbye, 1.5, "bye"},
	{Goodbye, 1.2, "hasta luego"},
	{Goodbye, 1.2, "gracias, eso es todo"},

	{LanguageSwitch, 1.5, "in english"},
	{LanguageSwitch, 1.5, "en espanol"},
	{LanguageSwitch, 1.2, "switch language"},
	{LanguageSwitch, 1.2, "cambiar idioma"},
}

// RuleClassifier is the built-in keyword classifier.
type RuleClassifier struct{}

// NewRuleClassifier creates the default classifier.
func NewRuleClassifier() *RuleClassifier { return &RuleClassifier{} }

// Classify scores the utterance against every rule and returns the winning
// intent. Confidence is the winning score normalized against the total
// matched weight, so ambiguous utterances score low.
func (c *RuleClassifier) Classify(_ context.Context, utterance string) (Result, error) {
	normalized := normalize(utterance)
	if normalized == "" {
		return Result{Intent: Greeting, Confidence: 1.0}, nil
	}

	scores := make(map[Intent]float64)
	var total float64
	for _, r := range rules {
		if strings.Contains(normalized, r.pattern) {
			scores[r.intent] += r.weight
			total += r.weight
		}
	}

	if total == 0 {
		return Result{Intent: Unknown, Confidence: 0}, nil
	}

	best := Unknown
	var bestScore float64
	for in, score := range scores {
		if score > bestScore || (score == bestScore && in < best) {
			best = in
			bestScore = score
		}
	}
	return Result{Intent: best, Confidence: bestScore / total}, nil
}

// normalize lowercases and strips accents common in Spanish input so the
// keyword table can stay unaccented.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	replacer := strings.NewReplacer(
		"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n", "ü", "u",
	)
	return replacer.Replace(s)
}

var _ Classifier = (*RuleClassifier)(nil)
