package command

import (
	"github.com/MrWong99/simi/internal/state"
	"github.com/MrWong99/simi/pkg/provider/live"
)

// Declarations returns the tool list offered to the voice model.
func Declarations() []live.ToolDeclaration {
	moods := make([]string, 0, len(state.Moods()))
	for _, m := range state.Moods() {
		moods = append(moods, string(m))
	}
	modes := []string{"HUSTLE"}
	for _, m := range state.Modes() {
		modes = append(modes, string(m))
	}

	return []live.ToolDeclaration{
		{
			Name:        ToolSetVisualState,
			Description: "Changes Simi's visual aura or background.",
			Parameters: object(map[string]any{
				"state": map[string]any{"type": "STRING", "enum": moods},
			}, "state"),
		},
		{
			Name:        string(KindNavigate),
			Description: "Switch between different app pages/modes.",
			Parameters: object(map[string]any{
				"mode": map[string]any{"type": "STRING", "enum": modes},
			}, "mode"),
		},
		{
			Name:        string(KindAddToCart),
			Description: "Add an item to the shopping cart for a buyer.",
			Parameters: object(map[string]any{
				"name":     map[string]any{"type": "STRING"},
				"price":    map[string]any{"type": "NUMBER"},
				"quantity": map[string]any{"type": "NUMBER"},
			}, "name", "price"),
		},
		{
			Name:        string(KindUpdateInventory),
			Description: "Add or update a product for a vendor.",
			Parameters: object(map[string]any{
				"name":  map[string]any{"type": "STRING"},
				"price": map[string]any{"type": "NUMBER"},
				"stock": map[string]any{"type": "NUMBER"},
			}, "name", "price"),
		},
		{
			Name:        string(KindGenerateInvoice),
			Description: "Create a final invoice for payment and trigger delivery.",
			Parameters: object(map[string]any{
				"total": map[string]any{"type": "NUMBER"},
			}),
		},
	}
}

func object(props map[string]any, required ...string) map[string]any {
	o := map[string]any{"type": "OBJECT", "properties": props}
	if len(required) > 0 {
		o["required"] = required
	}
	return o
}
