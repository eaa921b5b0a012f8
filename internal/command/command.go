// Package command maps the voice model's tool calls onto application state
// transitions.
//
// The vocabulary is fixed: five command kinds, each a pure synchronous
// mutation of [state.State]. Unknown kinds are ignored rather than rejected,
// so dispatch never fails.
package command

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MrWong99/simi/internal/state"
)

// Kind names a command.
type Kind string

const (
	KindVisualState     Kind = "visual_state"
	KindNavigate        Kind = "navigate"
	KindAddToCart       Kind = "add_to_cart"
	KindUpdateInventory Kind = "update_inventory"
	KindGenerateInvoice Kind = "generate_invoice"
)

// Kinds returns every known command kind.
func Kinds() []Kind {
	return []Kind{KindVisualState, KindNavigate, KindAddToCart, KindUpdateInventory, KindGenerateInvoice}
}

// ToolSetVisualState is the remote tool name for [KindVisualState].
const ToolSetVisualState = "set_visual_state"

// Normalize maps a remote tool name to a command kind. Only
// "set_visual_state" is renamed; every other name passes through unchanged.
func Normalize(toolName string) Kind {
	if toolName == ToolSetVisualState {
		return KindVisualState
	}
	return Kind(toolName)
}

// Command is a normalised tool call.
type Command struct {
	Kind Kind           `json:"kind"`
	Args map[string]any `json:"args,omitempty"`
}

// DeliveryRider is assigned to every new invoice.
const DeliveryRider = "Arealine Rider #242"

// ParseMode resolves a requested screen name case-insensitively. "HUSTLE" is
// a synonym for the business dashboard.
func ParseMode(name string) (state.Mode, bool) {
	m := state.Mode(strings.ToUpper(strings.TrimSpace(name)))
	if m == "HUSTLE" {
		return state.ModeBusiness, true
	}
	if m.Valid() {
		return m, true
	}
	return "", false
}

// ── argument helpers ──────────────────────────────────────────────────────────

func str(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// num reads a numeric argument. Models occasionally quote numbers, so numeric
// strings are accepted too.
func num(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// count reads a whole-number argument, falling back to def when the argument
// is missing or zero.
func count(args map[string]any, key string, def int) int {
	f, ok := num(args, key)
	if !ok || f == 0 {
		return def
	}
	return int(math.Round(f))
}
