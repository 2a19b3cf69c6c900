// Package language holds the user-facing message catalogs and the
// language-reset coordinator.
//
// Language is a first-class session field mutated only through
// Coordinator.Reset; there is no process-global "current language".
package language

import "fmt"

// Supported language tags.
const (
	ES = "es"
	EN = "en"
)

// Normalize maps common variants onto a supported tag, defaulting to
// Spanish, which matches the deployment region.
func Normalize(lang string) string {
	switch lang {
	case "en", "en-US", "en-GB", "english":
		return EN
	case "es", "es-ES", "es-CO", "es-MX", "spanish", "":
		return ES
	default:
		return ES
	}
}

// catalogs hold all user-visible copy, keyed by message id.
var catalogs = map[string]map[string]string{
	EN: {
		"greeting":                "Hi! I'm your auto parts assistant. Tell me what part you're looking for, or ask me anything about your order.",
		"language.changed":        "Language has been changed to English.",
		"vehicle.picker":          "Let's find the right part. First, select your vehicle.",
		"vehicle.selected":        "Got it: %s %s %s (%s). Now let's pick the part category.",
		"category.picker":         "Select the part category for your vehicle.",
		"articles.none":           "All matching parts are currently out of stock. Would you like me to suggest alternatives or notify you when stock returns?",
		"inventory.check_failed":  "I couldn't verify stock availability right now. Please try again in a moment.",
		"drilldown.step_failed":   "I couldn't load that list right now. Please try again.",
		"drilldown.out_of_order":  "Please complete the previous selection first.",
		"quote.intro":             "Here is the price information for your selection.",
		"order.status_intro":      "Let me check your order status.",
		"fallback":                "I'm not sure I understood. I can help you find parts, check prices, or answer questions about orders and warranty.",
		"goodbye":                 "Thanks for visiting! Come back any time.",
		"error.generic":           "Sorry, something went wrong on our side. Please try again. Reference: %s",
		"rate_limited":            "You're sending messages too quickly. Please wait a moment and try again.",
		"safety.fallback":         "I can't provide that answer. Could you rephrase your question?",
	},
	ES: {
		"greeting":                "¡Hola! Soy tu asistente de repuestos. Dime qué pieza buscas o pregúntame por tu pedido.",
		"language.changed":        "El idioma ha sido cambiado a español.",
		"vehicle.picker":          "Busquemos la pieza correcta. Primero, selecciona tu vehículo.",
		"vehicle.selected":        "Listo: %s %s %s (%s). Ahora elijamos la categoría de la pieza.",
		"category.picker":         "Selecciona la categoría de la pieza para tu vehículo.",
		"articles.none":           "Todas las piezas encontradas están agotadas por ahora. ¿Quieres que te sugiera alternativas o te avise cuando haya stock?",
		"inventory.check_failed":  "No pude verificar la disponibilidad en este momento. Por favor intenta de nuevo.",
		"drilldown.step_failed":   "No pude cargar esa lista. Por favor intenta de nuevo.",
		"drilldown.out_of_order":  "Primero completa la selección anterior, por favor.",
		"quote.intro":             "Aquí tienes la información de precios de tu selección.",
		"order.status_intro":      "Déjame revisar el estado de tu pedido.",
		"fallback":                "No estoy seguro de haber entendido. Puedo ayudarte a encontrar piezas, consultar precios o responder preguntas sobre pedidos y garantía.",
		"goodbye":                 "¡Gracias por tu visita! Vuelve cuando quieras.",
		"error.generic":           "Lo siento, ocurrió un error de nuestro lado. Por favor intenta de nuevo. Referencia: %s",
		"rate_limited":            "Estás enviando mensajes muy rápido. Espera un momento e intenta de nuevo.",
		"safety.fallback":         "No puedo darte esa respuesta. ¿Podrías reformular tu pregunta?",
	},
}

// T returns the message for key in lang, falling back to Spanish and then
// to the key itself so a missing entry is visible rather than silent.
func T(lang, key string) string {
	if msg, ok := catalogs[Normalize(lang)][key]; ok {
		return msg
	}
	if msg, ok := catalogs[ES][key]; ok {
		return msg
	}
	return key
}

// Tf returns the formatted message for key in lang.
func Tf(lang, key string, args ...any) string {
	return fmt.Sprintf(T(lang, key), args...)
}
