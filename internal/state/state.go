// Package state holds the application state the shell renders and the command
// dispatcher mutates: the active screen, the avatar mood, the cart, the
// inventory, the current invoice and the running conversation transcript.
//
// State is a plain data container with no locking of its own; the app.Store
// serialises access to it.
package state

import (
	"slices"
	"time"
)

// MaxTranscript bounds the transcript log kept in State.
const MaxTranscript = 200

// Mode is a navigable screen of the application.
type Mode string

const (
	ModeChat      Mode = "CHAT"
	ModeTV        Mode = "TV"
	ModeBusiness  Mode = "BUSINESS"
	ModeShopper   Mode = "SHOPPER"
	ModeDirectory Mode = "DIRECTORY"
	ModeAdmin     Mode = "ADMIN"
)

// Modes returns every known screen in header order.
func Modes() []Mode {
	return []Mode{ModeChat, ModeTV, ModeBusiness, ModeShopper, ModeDirectory, ModeAdmin}
}

// Valid reports whether m names a known screen.
func (m Mode) Valid() bool {
	return slices.Contains(Modes(), m)
}

// Mood is the avatar's visual indicator. Values outside the constants below
// are carried through unchanged.
type Mood string

const (
	MoodStandard  Mood = "standard"
	MoodAnalytics Mood = "analytics"
	MoodStrategy  Mood = "strategy"
	MoodCelebrate Mood = "celebrate"
	MoodWarning   Mood = "warning"
	MoodAreaFM    Mood = "areafm"
	MoodBroadcast Mood = "broadcast"
)

// Moods returns the moods the voice model is told about.
func Moods() []Mood {
	return []Mood{MoodStandard, MoodAnalytics, MoodStrategy, MoodCelebrate, MoodWarning}
}

// CartItem is one line of the shopping cart.
type CartItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// InventoryItem is one product a vendor has in stock.
type InventoryItem struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

// InvoiceStatus is the payment state of an invoice.
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoicePaid    InvoiceStatus = "paid"
)

// Invoice is a checkout of the cart.
type Invoice struct {
	ID            string        `json:"id"`
	Items         []CartItem    `json:"items"`
	Total         float64       `json:"total"`
	Status        InvoiceStatus `json:"status"`
	DeliveryRider string        `json:"deliveryRider,omitempty"`
}

// WardrobeItem is an avatar outfit.
type WardrobeItem struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// Wardrobe returns the available outfits. The first is the default.
func Wardrobe() []WardrobeItem {
	return []WardrobeItem{
		{
			ID:     "tv_host",
			Name:   "TV Host Sparkle",
			Prompt: "Simi as a high-energy TV host. Emerald green braids with gold tinsel. Wearing a shimmering emerald green Adire gown with holographic accents. 4k.",
		},
		{
			ID:     "business_mogul",
			Name:   "Neural CEO",
			Prompt: "Simi in a futuristic business suit made of emerald Adire fabric. Wearing smart-tech glasses. Sharp, professional, but street-smart energy. 4k.",
		},
	}
}

// FindWardrobe looks up an outfit by id.
func FindWardrobe(id string) (WardrobeItem, bool) {
	for _, w := range Wardrobe() {
		if w.ID == id {
			return w, true
		}
	}
	return WardrobeItem{}, false
}

// TranscriptEntry is one fragment of conversation as received.
type TranscriptEntry struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// State is the whole application state.
type State struct {
	Mode      Mode `json:"mode"`
	Mood      Mood `json:"mood"`
	Listening bool `json:"listening"`
	Speaking  bool `json:"speaking"`

	Cart          []CartItem      `json:"cart"`
	Inventory     []InventoryItem `json:"inventory"`
	ActiveInvoice *Invoice        `json:"activeInvoice,omitempty"`
	Wardrobe      string          `json:"wardrobe"`

	Transcript []TranscriptEntry `json:"transcript"`

	// Session is the voice session state name, e.g. "ACTIVE".
	Session string `json:"session"`

	// LastError is the most recent user-visible session failure.
	LastError string `json:"lastError,omitempty"`

	// Version increases on every change.
	Version uint64 `json:"version"`
}

// New returns the initial state: chat screen, broadcast mood, an empty cart
// and the demo inventory.
func New() *State {
	return &State{
		Mode: ModeChat,
		Mood: MoodBroadcast,
		Cart: []CartItem{},
		Inventory: []InventoryItem{
			{ID: "1", Name: "Premium Adire Fabric", Price: 12500, Stock: 15},
			{ID: "2", Name: "Neural Sisi Hoodie", Price: 18000, Stock: 8},
		},
		Wardrobe:   Wardrobe()[0].ID,
		Transcript: []TranscriptEntry{},
		Session:    "IDLE",
	}
}

// CartTotal sums price × quantity over the cart.
func (s *State) CartTotal() float64 {
	var total float64
	for _, it := range s.Cart {
		total += it.Price * float64(it.Quantity)
	}
	return total
}

// AppendTranscript adds e, discarding the oldest entries beyond MaxTranscript.
func (s *State) AppendTranscript(e TranscriptEntry) {
	s.Transcript = append(s.Transcript, e)
	if over := len(s.Transcript) - MaxTranscript; over > 0 {
		s.Transcript = slices.Delete(s.Transcript, 0, over)
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	c.Cart = slices.Clone(s.Cart)
	c.Inventory = slices.Clone(s.Inventory)
	c.Transcript = slices.Clone(s.Transcript)
	if s.ActiveInvoice != nil {
		inv := *s.ActiveInvoice
		inv.Items = slices.Clone(s.ActiveInvoice.Items)
		c.ActiveInvoice = &inv
	}
	return &c
}
