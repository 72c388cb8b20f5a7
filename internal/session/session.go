// Package session holds per-user persisted conversation state and its
// storage contract.
package session

import (
	"strings"
	"time"
)

// CartItem is one line of the session's shopping cart.
type CartItem struct {
	ProductID     string  `json:"productId"`
	Quantity      int     `json:"quantity"`
	PriceSnapshot float64 `json:"priceSnapshot"`
}

// Await marks a chain suspended on user input. Generation increases every
// time the marker is set or cleared so stale timeout callbacks can detect
// that the wait they belong to is gone.
type Await struct {
	NodeID        string    `json:"nodeId"`
	Field         string    `json:"field,omitempty"`
	TimeoutSec    int       `json:"timeoutSec,omitempty"`
	TimeoutAction string    `json:"timeoutAction,omitempty"`
	TimeoutMenuID string    `json:"timeoutMenuId,omitempty"`
	Generation    int64     `json:"generation"`
	AskedAt       time.Time `json:"askedAt"`
}

// Session is the persisted state of one Telegram user inside one flow.
type Session struct {
	FlowID        string            `json:"flow_id"`
	UserID        int64             `json:"user_id"`
	CurrentMenuID string            `json:"current_menu_id"`
	Variables     map[string]string `json:"variables"`
	Tags          []string          `json:"tags"`
	Points        float64           `json:"points"`
	Cart          []CartItem        `json:"cart_data"`
	Await         *Await            `json:"await,omitempty"`

	// awaitGeneration survives clearing the Await marker so a new wait
	// always gets a fresh generation.
	AwaitGeneration int64 `json:"await_generation"`

	FirstVisit bool      `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// New creates a default-empty session for a first interaction.
func New(flowID string, userID int64) *Session {
	now := time.Now().UTC()
	return &Session{
		FlowID:     flowID,
		UserID:     userID,
		Variables:  make(map[string]string),
		Tags:       make([]string, 0),
		Cart:       make([]CartItem, 0),
		FirstVisit: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Var returns a variable value, empty string when absent.
func (s *Session) Var(name string) string {
	if s.Variables == nil {
		return ""
	}
	return s.Variables[name]
}

// SetVar assigns a variable value.
func (s *Session) SetVar(name, value string) {
	if s.Variables == nil {
		s.Variables = make(map[string]string)
	}
	s.Variables[name] = value
}

// ClearVar resets a variable to the empty value.
func (s *Session) ClearVar(name string) {
	if s.Variables == nil {
		return
	}
	s.Variables[name] = ""
}

// AppendToList pushes value onto a comma-separated list variable.
func (s *Session) AppendToList(name, value string, unique bool) {
	current := s.Var(name)
	if current == "" {
		s.SetVar(name, value)
		return
	}

	if unique {
		for _, item := range strings.Split(current, ",") {
			if item == value {
				return
			}
		}
	}

	s.SetVar(name, current+","+value)
}

// HasTag reports tag membership.
func (s *Session) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag inserts a tag, keeping the set free of duplicates.
func (s *Session) AddTag(tag string) {
	if tag == "" || s.HasTag(tag) {
		return
	}
	s.Tags = append(s.Tags, tag)
}

// RemoveTag deletes a tag if present.
func (s *Session) RemoveTag(tag string) {
	for i, t := range s.Tags {
		if t == tag {
			s.Tags = append(s.Tags[:i], s.Tags[i+1:]...)
			return
		}
	}
}

// AdjustPoints applies a points operation, floor-clamping the result at 0.
func (s *Session) AdjustPoints(op string, amount float64) {
	switch op {
	case "add":
		s.Points += amount
	case "subtract":
		s.Points -= amount
	case "set":
		s.Points = amount
	case "multiply":
		s.Points *= amount
	}

	if s.Points < 0 {
		s.Points = 0
	}
}

// CartAdd merges quantity into an existing cart line or appends a new one.
func (s *Session) CartAdd(productID string, quantity int, price float64) {
	for i := range s.Cart {
		if s.Cart[i].ProductID == productID {
			s.Cart[i].Quantity += quantity
			return
		}
	}

	s.Cart = append(s.Cart, CartItem{ProductID: productID, Quantity: quantity, PriceSnapshot: price})
}

// CartSetQuantity updates a line's quantity; zero removes the line.
func (s *Session) CartSetQuantity(productID string, quantity int) {
	for i := range s.Cart {
		if s.Cart[i].ProductID == productID {
			if quantity <= 0 {
				s.Cart = append(s.Cart[:i], s.Cart[i+1:]...)
			} else {
				s.Cart[i].Quantity = quantity
			}
			return
		}
	}
}

// CartRemove deletes a line by product id.
func (s *Session) CartRemove(productID string) {
	s.CartSetQuantity(productID, 0)
}

// CartClear empties the cart.
func (s *Session) CartClear() {
	s.Cart = s.Cart[:0]
}

// CartTotal sums price × quantity across all lines.
func (s *Session) CartTotal() float64 {
	var total float64
	for _, item := range s.Cart {
		total += item.PriceSnapshot * float64(item.Quantity)
	}
	return total
}

// BeginAwait sets the awaiting-input marker, bumping the generation.
func (s *Session) BeginAwait(a Await) {
	s.AwaitGeneration++
	a.Generation = s.AwaitGeneration
	s.Await = &a
}

// EndAwait clears the awaiting-input marker and returns the marker that was
// active, if any. Clearing bumps the generation so scheduled timeouts for
// the old wait become no-ops.
func (s *Session) EndAwait() *Await {
	prev := s.Await
	if prev != nil {
		s.AwaitGeneration++
		s.Await = nil
	}
	return prev
}
