// Package flow defines the authored flow-definition model: menus, buttons,
// and the typed action-node graph the engine walks.
package flow

import "sort"

// TargetKind discriminates exit references between menus and action nodes.
type TargetKind string

const (
	TargetMenu   TargetKind = "menu"
	TargetAction TargetKind = "action"
)

// Exit is a reference to the next step of a chain: a menu or another node.
type Exit struct {
	TargetID string     `json:"targetId"`
	Kind     TargetKind `json:"targetType"`
}

// Ref addresses a starting point for a chain walk.
type Ref struct {
	ID   string
	Kind TargetKind
}

// Outcome is one branch target of a multi-exit node.
type Outcome struct {
	ID     string  `json:"id"`
	Label  string  `json:"label,omitempty"`
	Weight float64 `json:"weight,omitempty"`
	Target *Exit   `json:"target,omitempty"`
}

// MediaRef points at an attachment rendered with a menu message.
type MediaRef struct {
	Kind string `json:"kind"` // photo, video, document
	URL  string `json:"url"`
}

// InlineAction is a legacy pre-navigation action attached directly to a button.
type InlineAction struct {
	ID     string         `json:"id"`
	Order  int            `json:"order"`
	Type   NodeType       `json:"type"`
	Config map[string]any `json:"config"`
}

// Button is one keyboard entry of a menu. Its navigation target is mutually
// exclusive between a menu and an action node.
type Button struct {
	ID             string         `json:"id"`
	Text           string         `json:"text"`
	Row            int            `json:"row"`
	Order          int            `json:"order"`
	TargetMenuID   string         `json:"targetMenuId,omitempty"`
	TargetActionID string         `json:"targetActionId,omitempty"`
	Actions        []InlineAction `json:"actions,omitempty"`
}

// Menu is one bot screen: message text plus button rows.
type Menu struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Text    string    `json:"text"`
	Media   *MediaRef `json:"media,omitempty"`
	Buttons []Button  `json:"buttons"`
}

// ButtonRows returns the menu's buttons grouped into rows, each row and the
// rows themselves sorted by the authored order.
func (m *Menu) ButtonRows() [][]Button {
	if m == nil || len(m.Buttons) == 0 {
		return nil
	}

	byRow := make(map[int][]Button)
	rows := make([]int, 0)
	for _, btn := range m.Buttons {
		if _, seen := byRow[btn.Row]; !seen {
			rows = append(rows, btn.Row)
		}
		byRow[btn.Row] = append(byRow[btn.Row], btn)
	}

	sort.Ints(rows)

	result := make([][]Button, 0, len(rows))
	for _, row := range rows {
		buttons := byRow[row]
		sort.SliceStable(buttons, func(i, j int) bool { return buttons[i].Order < buttons[j].Order })
		result = append(result, buttons)
	}

	return result
}

// Button finds a button by id across all rows.
func (m *Menu) Button(id string) *Button {
	if m == nil {
		return nil
	}

	for i := range m.Buttons {
		if m.Buttons[i].ID == id {
			return &m.Buttons[i]
		}
	}

	return nil
}

// Definition is one authored flow: the full menu and action-node graph.
// It is immutable per execution; the engine never mutates it.
type Definition struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	RootMenuID string           `json:"rootMenuId"`
	Menus      map[string]*Menu `json:"menus"`
	Nodes      map[string]*Node `json:"actionNodes"`

	// Warnings collects non-fatal load-time problems (malformed node
	// configs, dangling references) for authoring feedback.
	Warnings []string `json:"-"`
}

// Menu resolves a menu id, returning nil for unknown ids.
func (d *Definition) Menu(id string) *Menu {
	if d == nil {
		return nil
	}
	return d.Menus[id]
}

// Node resolves a node id, returning nil for unknown ids.
func (d *Definition) Node(id string) *Node {
	if d == nil {
		return nil
	}
	return d.Nodes[id]
}

// RootMenu returns the flow's entry menu. Flows authored without an
// explicit root fall back to the lexicographically first menu id so entry
// stays deterministic.
func (d *Definition) RootMenu() *Menu {
	if d == nil {
		return nil
	}

	if menu := d.Menus[d.RootMenuID]; menu != nil {
		return menu
	}

	var first *Menu
	for id, menu := range d.Menus {
		if first == nil || id < first.ID {
			first = menu
		}
	}

	return first
}

// TriggerNodes returns every trigger-declaration node of the given type.
func (d *Definition) TriggerNodes(t NodeType) []*Node {
	if d == nil {
		return nil
	}

	var nodes []*Node
	for _, node := range d.Nodes {
		if node.Type == t {
			nodes = append(nodes, node)
		}
	}

	return nodes
}
