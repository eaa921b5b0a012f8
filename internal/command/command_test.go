package command_test

import (
	"fmt"
	"testing"

	"github.com/MrWong99/simi/internal/command"
	"github.com/MrWong99/simi/internal/state"
)

// seqIDs returns a deterministic id generator: prefix + counter.
func seqIDs() command.Option {
	n := 0
	return command.WithIDGenerator(func(prefix string) string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	})
}

func emptyState() *state.State {
	st := state.New()
	st.Inventory = []state.InventoryItem{}
	return st
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want command.Kind
	}{
		{"set_visual_state", command.KindVisualState},
		{"navigate", command.KindNavigate},
		{"add_to_cart", command.KindAddToCart},
		{"visual_state", command.KindVisualState},
		{"something_else", "something_else"},
	}
	for _, tc := range tests {
		if got := command.Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestApply_AddToCart(t *testing.T) {
	t.Parallel()

	d := command.NewDispatcher(seqIDs())
	st := emptyState()
	changed := d.Apply(st, command.Command{
		Kind: command.KindAddToCart,
		Args: map[string]any{"name": "Rice", "price": 5000.0, "quantity": 2.0},
	})
	if !changed {
		t.Fatal("Apply reported no change")
	}
	if len(st.Cart) != 1 {
		t.Fatalf("cart = %+v, want one line", st.Cart)
	}
	want := state.CartItem{ID: "cart-1", Name: "Rice", Price: 5000, Quantity: 2}
	if st.Cart[0] != want {
		t.Errorf("line = %+v, want %+v", st.Cart[0], want)
	}
	if st.Mode != state.ModeShopper {
		t.Errorf("Mode = %q, want SHOPPER", st.Mode)
	}
}

func TestApply_AddToCartDefaultsQuantity(t *testing.T) {
	t.Parallel()

	d := command.NewDispatcher(seqIDs())
	st := emptyState()
	d.Apply(st, command.Command{Kind: command.KindAddToCart, Args: map[string]any{"name": "Garri", "price": "1200"}})
	if st.Cart[0].Quantity != 1 || st.Cart[0].Price != 1200 {
		t.Errorf("line = %+v", st.Cart[0])
	}
}

func TestApply_UpdateInventory(t *testing.T) {
	t.Parallel()

	d := command.NewDispatcher(seqIDs())
	st := state.New()
	d.Apply(st, command.Command{Kind: command.KindUpdateInventory, Args: map[string]any{"name": "Ankara", "price": 8000.0}})

	if len(st.Inventory) != 3 {
		t.Fatalf("inventory = %+v", st.Inventory)
	}
	got := st.Inventory[2]
	if got.ID != "inv-1" || got.Name != "Ankara" || got.Price != 8000 || got.Stock != 10 {
		t.Errorf("item = %+v", got)
	}
	if st.Mode != state.ModeBusiness || st.Mood != state.MoodStrategy {
		t.Errorf("mode/mood = %q/%q", st.Mode, st.Mood)
	}

	d.Apply(st, command.Command{Kind: command.KindUpdateInventory, Args: map[string]any{"name": "Beads", "price": 500.0, "stock": 3.0}})
	if st.Inventory[3].Stock != 3 {
		t.Errorf("stock = %d, want 3", st.Inventory[3].Stock)
	}
}

func TestApply_GenerateInvoice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args map[string]any
		want float64
	}{
		{name: "computed", args: nil, want: 250},
		{name: "override", args: map[string]any{"total": 999.0}, want: 999},
		{name: "zero override ignored", args: map[string]any{"total": 0.0}, want: 250},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := command.NewDispatcher(seqIDs())
			st := emptyState()
			st.Cart = []state.CartItem{{ID: "a", Price: 100, Quantity: 2}, {ID: "b", Price: 50, Quantity: 1}}

			d.Apply(st, command.Command{Kind: command.KindGenerateInvoice, Args: tc.args})

			inv := st.ActiveInvoice
			if inv == nil {
				t.Fatal("no invoice")
			}
			if inv.Total != tc.want {
				t.Errorf("Total = %v, want %v", inv.Total, tc.want)
			}
			if inv.ID != "INV-1" || inv.Status != state.InvoicePending || inv.DeliveryRider != command.DeliveryRider {
				t.Errorf("invoice = %+v", inv)
			}
			if len(inv.Items) != 2 {
				t.Fatalf("items = %+v", inv.Items)
			}
			st.Cart[0].Quantity = 50
			if inv.Items[0].Quantity != 2 {
				t.Error("invoice items alias the cart")
			}
			if st.Mode != state.ModeShopper || st.Mood != state.MoodCelebrate {
				t.Errorf("mode/mood = %q/%q", st.Mode, st.Mood)
			}
		})
	}
}

func TestApply_NavigateSynonym(t *testing.T) {
	t.Parallel()

	d := command.NewDispatcher()
	for _, mode := range []string{"HUSTLE", "BUSINESS", "hustle", "Business"} {
		st := state.New()
		d.Apply(st, command.Command{Kind: command.KindNavigate, Args: map[string]any{"mode": mode}})
		if st.Mode != state.ModeBusiness {
			t.Errorf("navigate %q: Mode = %q, want BUSINESS", mode, st.Mode)
		}
	}
}

func TestApply_NavigateKnownAndUnknown(t *testing.T) {
	t.Parallel()

	d := command.NewDispatcher()
	st := state.New()
	if !d.Apply(st, command.Command{Kind: command.KindNavigate, Args: map[string]any{"mode": "tv"}}) || st.Mode != state.ModeTV {
		t.Fatalf("Mode = %q, want TV", st.Mode)
	}
	for _, mode := range []any{"NONEXISTENT", "SUPPLY", nil, ""} {
		if d.Apply(st, command.Command{Kind: command.KindNavigate, Args: map[string]any{"mode": mode}}) {
			t.Errorf("navigate %v reported a change", mode)
		}
		if st.Mode != state.ModeTV {
			t.Errorf("navigate %v: Mode = %q, want TV", mode, st.Mode)
		}
	}
}

func TestApply_VisualStateUnvalidated(t *testing.T) {
	t.Parallel()

	d := command.NewDispatcher()
	st := state.New()
	for _, mood := range []string{"analytics", "disco"} {
		d.Apply(st, command.Command{Kind: command.KindVisualState, Args: map[string]any{"state": mood}})
		if string(st.Mood) != mood {
			t.Errorf("Mood = %q, want %q", st.Mood, mood)
		}
	}
	if d.Apply(st, command.Command{Kind: command.KindVisualState}) {
		t.Error("missing state argument reported a change")
	}
}

func TestApply_UnknownKindIsNoOp(t *testing.T) {
	t.Parallel()

	d := command.NewDispatcher()
	st := state.New()
	before := st.Clone()
	if d.Apply(st, command.Command{Kind: "launch_rocket", Args: map[string]any{"x": 1}}) {
		t.Error("unknown command reported a change")
	}
	if st.Mode != before.Mode || st.Mood != before.Mood || len(st.Cart) != len(before.Cart) {
		t.Error("unknown command mutated state")
	}
}

func TestApply_DefaultIDsAreUnique(t *testing.T) {
	t.Parallel()

	d := command.NewDispatcher()
	st := emptyState()
	for range 2 {
		d.Apply(st, command.Command{Kind: command.KindAddToCart, Args: map[string]any{"name": "x", "price": 1.0}})
	}
	if st.Cart[0].ID == st.Cart[1].ID {
		t.Errorf("duplicate ids %q", st.Cart[0].ID)
	}
	if len(st.Cart[0].ID) <= len("cart-") || st.Cart[0].ID[:5] != "cart-" {
		t.Errorf("id %q lacks cart- prefix", st.Cart[0].ID)
	}
}

func TestDeclarations(t *testing.T) {
	t.Parallel()

	decls := command.Declarations()
	want := map[string][]string{
		"set_visual_state": {"state"},
		"navigate":         {"mode"},
		"add_to_cart":      {"name", "price"},
		"update_inventory": {"name", "price"},
		"generate_invoice": nil,
	}
	if len(decls) != len(want) {
		t.Fatalf("got %d declarations, want %d", len(decls), len(want))
	}
	for _, d := range decls {
		req, ok := want[d.Name]
		if !ok {
			t.Errorf("unexpected declaration %q", d.Name)
			continue
		}
		got, _ := d.Parameters["required"].([]string)
		if len(got) != len(req) {
			t.Errorf("%s required = %v, want %v", d.Name, got, req)
			continue
		}
		for i := range req {
			if got[i] != req[i] {
				t.Errorf("%s required = %v, want %v", d.Name, got, req)
			}
		}
	}
}
