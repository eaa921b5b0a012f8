package content

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/simi/internal/observe"
	"github.com/MrWong99/simi/pkg/provider/llm"
)

func metricOpts(op string) []metric.RecordOption {
	return []metric.RecordOption{metric.WithAttributes(observe.Attr("op", op))}
}

// ── group buy ────────────────────────────────────────────────────────────────

// Deal is a negotiated group-buy offer.
type Deal struct {
	DealPrice float64 `json:"dealPrice"`
	Pitch     string  `json:"pitch"`
}

var dealSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"dealPrice": map[string]any{"type": "number"},
		"pitch":     map[string]any{"type": "string"},
	},
	"required": []string{"dealPrice", "pitch"},
}

// NegotiateGroupBuy asks for a discounted price when targetCount buyers join.
// The fallback is a 30% discount with a canned pitch.
func (h *Helper) NegotiateGroupBuy(ctx context.Context, product string, targetCount int, price float64) Deal {
	req := llm.Request{
		Prompt: fmt.Sprintf(`You are Simi on the "Market Demand" show.
Product: %s
Target Buyers: %d
Market Price: N%g

Negotiate a group-buy discount with a virtual manufacturer.
Return ONLY a JSON object with "dealPrice" (the discounted price) and "pitch" (your high-energy announcement to the buyers in Pidgin/English).`,
			product, targetCount, price),
		Schema: dealSchema,
	}
	fallback := Deal{
		DealPrice: price * 0.7,
		Pitch:     fmt.Sprintf("Oya o! If we reach %d people, we go carry this %s for ground!", targetCount, product),
	}
	return run(ctx, h, "negotiate", req, decodeJSON[Deal], fallback)
}

// ── suppliers ────────────────────────────────────────────────────────────────

// Supplier is a wholesaler or manufacturer suggestion.
type Supplier struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Location    string  `json:"location"`
	Reliability float64 `json:"reliability"`
	Category    string  `json:"category"`
}

var supplierSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":        map[string]any{"type": "string"},
			"type":        map[string]any{"type": "string"},
			"location":    map[string]any{"type": "string"},
			"reliability": map[string]any{"type": "number"},
			"category":    map[string]any{"type": "string"},
		},
		"required": []string{"name", "type", "location", "reliability", "category"},
	},
}

// MatchSuppliers suggests three suppliers for category. The fallback is an
// empty list.
func (h *Helper) MatchSuppliers(ctx context.Context, category string) []Supplier {
	req := llm.Request{
		Prompt: fmt.Sprintf(`Generate 3 fictional but realistic Nigerian wholesalers or manufacturers for the category: %s.
Include name, type (Manufacturer/Wholesaler), location (e.g. Aba, Onitsha, Lagos), and a "reliability" score (1-100).
Return ONLY a JSON array of objects.`, category),
		Schema: supplierSchema,
	}
	return run(ctx, h, "suppliers", req, nonNil(decodeJSON[[]Supplier]), []Supplier{})
}

// ── gossip ───────────────────────────────────────────────────────────────────

// FallbackGossip is returned when no gossip could be generated.
const FallbackGossip = "Market calm today, but I hear say tomato price wan fly again!"

// MarketGossip returns a short, persona-voiced market update.
func (h *Helper) MarketGossip(ctx context.Context) string {
	req := llm.Request{
		SystemPrompt: h.instructions,
		Prompt:       "Tell me the latest 'Market Gossip' about prices and trends in Lagos/Nigeria. Be funny and use Pidgin. Focus on what's hot this week.",
	}
	return run(ctx, h, "gossip", req, plainText, FallbackGossip)
}

// ── social ───────────────────────────────────────────────────────────────────

// Manifest is a social media post plan.
type Manifest struct {
	Caption string   `json:"caption"`
	Tags    []string `json:"tags"`
	Vibe    string   `json:"vibe"`
}

var manifestSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"caption": map[string]any{"type": "string"},
		"tags":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"vibe":    map[string]any{"type": "string"},
	},
	"required": []string{"caption", "tags", "vibe"},
}

// SocialManifest drafts a post for platform. The fallback echoes prompt as
// the caption.
func (h *Helper) SocialManifest(ctx context.Context, prompt, platform string) Manifest {
	req := llm.Request{
		Prompt: fmt.Sprintf(`Generate a social media post manifest for %s based on this prompt: %q.
Include a catchy caption in Lagos/Pidgin style, relevant hashtags, and describe the "vibe" of the post.
Return ONLY a JSON object with keys: "caption", "tags" (array), and "vibe".`, platform, prompt),
		Schema: manifestSchema,
	}
	parse := func(text string) (Manifest, error) {
		m, err := decodeJSON[Manifest](text)
		if err == nil && m.Tags == nil {
			m.Tags = []string{}
		}
		return m, err
	}
	return run(ctx, h, "social", req, parse, Manifest{Caption: prompt, Tags: []string{}, Vibe: "Street Pulse"})
}

// ── whatsapp ─────────────────────────────────────────────────────────────────

// Status is one WhatsApp status update.
type Status struct {
	Text  string `json:"text"`
	Type  string `json:"type"`
	Emoji string `json:"emoji"`
}

var statusSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"statuses": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text":  map[string]any{"type": "string"},
					"type":  map[string]any{"type": "string"},
					"emoji": map[string]any{"type": "string"},
				},
				"required": []string{"text", "type", "emoji"},
			},
		},
	},
	"required": []string{"statuses"},
}

// WhatsAppManifest drafts three status updates for productInfo. The fallback
// is an empty list.
func (h *Helper) WhatsAppManifest(ctx context.Context, productInfo string) []Status {
	req := llm.Request{
		Prompt: fmt.Sprintf(`Generate 3 WhatsApp status updates for this product/service: %q.
Make them engaging and use Nigerian Pidgin/English.
Return ONLY a JSON object with a "statuses" array. Each status should have "text", "type" (e.g. Hype, Info, scarcity), and "emoji".`, productInfo),
		Schema: statusSchema,
	}
	parse := func(text string) ([]Status, error) {
		v, err := decodeJSON[struct {
			Statuses []Status `json:"statuses"`
		}](text)
		if err != nil {
			return nil, err
		}
		if v.Statuses == nil {
			return nil, errors.New(`missing "statuses"`)
		}
		return v.Statuses, nil
	}
	return run(ctx, h, "whatsapp", req, parse, []Status{})
}

// ── auto reply ───────────────────────────────────────────────────────────────

// FallbackReply is returned when no reply could be generated.
const FallbackReply = "I dey come, I go check for you now-now!"

// AutoReply answers a customer query from the vendor's knowledge base.
func (h *Helper) AutoReply(ctx context.Context, knowledgeBase, query string) string {
	req := llm.Request{
		SystemPrompt: h.instructions,
		Prompt: fmt.Sprintf("Using this knowledge base: %q, generate a helpful and friendly auto-reply in Nigerian Pidgin/English to this customer query: %q.",
			knowledgeBase, query),
	}
	return run(ctx, h, "reply", req, plainText, FallbackReply)
}

// nonNil turns a decoded JSON null into an error so the fallback applies.
func nonNil[T any](parse func(string) ([]T, error)) func(string) ([]T, error) {
	return func(text string) ([]T, error) {
		v, err := parse(text)
		if err == nil && v == nil {
			return nil, errors.New("null result")
		}
		return v, err
	}
}
