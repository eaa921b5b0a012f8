package command

import (
	"slices"

	"github.com/google/uuid"

	"github.com/MrWong99/simi/internal/state"
)

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithIDGenerator replaces the id source. fn receives the record prefix
// ("cart-", "inv-" or "INV-") and returns the full id.
func WithIDGenerator(fn func(prefix string) string) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.newID = fn
		}
	}
}

// Dispatcher applies commands to state.
type Dispatcher struct {
	newID func(prefix string) string
}

// NewDispatcher returns a Dispatcher that mints ids with google/uuid unless
// configured otherwise.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		newID: func(prefix string) string { return prefix + uuid.NewString() },
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Apply mutates st according to cmd and reports whether anything changed.
// Unknown kinds and unrecognised navigation targets change nothing.
func (d *Dispatcher) Apply(st *state.State, cmd Command) bool {
	switch cmd.Kind {
	case KindVisualState:
		return d.visualState(st, cmd.Args)
	case KindNavigate:
		return d.navigate(st, cmd.Args)
	case KindAddToCart:
		return d.addToCart(st, cmd.Args)
	case KindUpdateInventory:
		return d.updateInventory(st, cmd.Args)
	case KindGenerateInvoice:
		return d.generateInvoice(st, cmd.Args)
	default:
		return false
	}
}

// visualState sets the mood verbatim; values outside the declared enum are
// accepted.
func (d *Dispatcher) visualState(st *state.State, args map[string]any) bool {
	s, ok := str(args, "state")
	if !ok {
		return false
	}
	st.Mood = state.Mood(s)
	return true
}

func (d *Dispatcher) navigate(st *state.State, args map[string]any) bool {
	name, _ := str(args, "mode")
	mode, ok := ParseMode(name)
	if !ok {
		return false
	}
	st.Mode = mode
	return true
}

func (d *Dispatcher) addToCart(st *state.State, args map[string]any) bool {
	name, _ := str(args, "name")
	price, _ := num(args, "price")
	st.Cart = append(st.Cart, state.CartItem{
		ID:       d.newID("cart-"),
		Name:     name,
		Price:    price,
		Quantity: count(args, "quantity", 1),
	})
	st.Mode = state.ModeShopper
	return true
}

func (d *Dispatcher) updateInventory(st *state.State, args map[string]any) bool {
	name, _ := str(args, "name")
	price, _ := num(args, "price")
	st.Inventory = append(st.Inventory, state.InventoryItem{
		ID:    d.newID("inv-"),
		Name:  name,
		Price: price,
		Stock: count(args, "stock", 10),
	})
	st.Mode = state.ModeBusiness
	st.Mood = state.MoodStrategy
	return true
}

// generateInvoice snapshots the cart. A non-zero total argument overrides the
// computed sum.
func (d *Dispatcher) generateInvoice(st *state.State, args map[string]any) bool {
	total, ok := num(args, "total")
	if !ok || total == 0 {
		total = st.CartTotal()
	}
	st.ActiveInvoice = &state.Invoice{
		ID:            d.newID("INV-"),
		Items:         slices.Clone(st.Cart),
		Total:         total,
		Status:        state.InvoicePending,
		DeliveryRider: DeliveryRider,
	}
	st.Mode = state.ModeShopper
	st.Mood = state.MoodCelebrate
	return true
}
