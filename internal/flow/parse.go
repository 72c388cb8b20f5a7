package flow

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cast"
)

// ParseDefinition decodes an authored flow definition from JSON, decodes and
// validates every node's config, and normalizes exits.
//
// Authorable-content problems never fail the parse: a node with a malformed
// config loads with nil Params (a run-time no-op) and a recorded warning.
// Only structural problems (invalid JSON, missing flow id) are errors.
func ParseDefinition(data []byte) (*Definition, error) {
	var raw rawDefinition
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode flow definition: %w", err)
	}

	if raw.ID == "" {
		return nil, fmt.Errorf("flow definition has no id")
	}

	def := &Definition{
		ID:         raw.ID,
		Name:       raw.Name,
		RootMenuID: raw.RootMenuID,
		Menus:      make(map[string]*Menu, len(raw.Menus)),
		Nodes:      make(map[string]*Node, len(raw.Nodes)),
	}

	for _, menu := range raw.Menus {
		if menu == nil || menu.ID == "" {
			def.warn("menu without id skipped")
			continue
		}

		normalizeButtons(def, menu)
		def.Menus[menu.ID] = menu
	}

	for _, rn := range raw.Nodes {
		if rn == nil || rn.ID == "" {
			def.warn("node without id skipped")
			continue
		}

		node := normalizeNode(def, rn)
		def.Nodes[node.ID] = node
	}

	checkReferences(def)

	return def, nil
}

type rawDefinition struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	RootMenuID string     `json:"rootMenuId"`
	Menus      []*Menu    `json:"menus"`
	Nodes      []*rawNode `json:"actionNodes"`
}

// rawNode accepts both the normalized exit shape and the legacy flat
// nextNodeId/nextNodeType keys the builder historically produced.
type rawNode struct {
	Node
	NextNodeID   string     `json:"nextNodeId"`
	NextNodeType TargetKind `json:"nextNodeType"`
}

func normalizeButtons(def *Definition, menu *Menu) {
	for i := range menu.Buttons {
		btn := &menu.Buttons[i]

		// Navigation target is mutually exclusive: an action target wins,
		// matching the builder behavior of clearing the other side.
		if btn.TargetActionID != "" && btn.TargetMenuID != "" {
			def.warn(fmt.Sprintf("button %s has both menu and action targets; menu target dropped", btn.ID))
			btn.TargetMenuID = ""
		}

		sort.SliceStable(btn.Actions, func(a, b int) bool {
			return btn.Actions[a].Order < btn.Actions[b].Order
		})
	}
}

func normalizeNode(def *Definition, rn *rawNode) *Node {
	node := rn.Node

	if node.Next == nil && rn.NextNodeID != "" {
		kind := rn.NextNodeType
		if kind == "" {
			kind = TargetAction
		}
		node.Next = &Exit{TargetID: rn.NextNodeID, Kind: kind}
	}

	normalizeExits(def, &node)

	params, err := DecodeParams(node.Type, node.Config)
	if err != nil {
		def.warn(fmt.Sprintf("node %s: %v", node.ID, err))
		node.Params = nil
	} else {
		node.Params = params
	}

	return &node
}

func normalizeExits(def *Definition, node *Node) {
	switch node.Shape() {
	case ShapeBinary:
		want := []string{BranchYes, BranchNo}
		if node.Type == TypeLottery {
			want = []string{BranchWin, BranchLose}
		}

		for key := range node.Branches {
			if key != want[0] && key != want[1] {
				def.warn(fmt.Sprintf("node %s: unexpected branch %q dropped", node.ID, key))
				delete(node.Branches, key)
			}
		}
		if node.Next != nil {
			def.warn(fmt.Sprintf("node %s: binary node single exit dropped", node.ID))
			node.Next = nil
		}
	case ShapeMulti:
		if node.Next != nil {
			def.warn(fmt.Sprintf("node %s: multi-exit node single exit dropped", node.ID))
			node.Next = nil
		}
		if node.Type == TypeRandomResult {
			// Uniform nodes select by count; explicit weights would make the
			// exit shape ambiguous, so they are stripped.
			for i := range node.Outcomes {
				node.Outcomes[i].Weight = 0
			}
		}
	default:
		node.Outcomes = nil
		// check_* nodes keep an optional fail branch beside the single exit.
		failExit := failBranchFromConfig(node.Config)
		keepFail := failExit != nil || node.Branch(BranchFail) != nil
		if isCheckNode(node.Type) && keepFail {
			if node.Branches == nil {
				node.Branches = make(map[string]*Exit, 1)
			}
			if failExit != nil {
				node.Branches[BranchFail] = failExit
			}
			for key := range node.Branches {
				if key != BranchFail {
					delete(node.Branches, key)
				}
			}
		} else {
			node.Branches = nil
		}
	}
}

func failBranchFromConfig(cfg map[string]any) *Exit {
	id := cast.ToString(cfg["failTargetId"])
	if id == "" {
		return nil
	}

	kind := TargetKind(cast.ToString(cfg["failTargetType"]))
	if kind == "" {
		kind = TargetMenu
	}

	return &Exit{TargetID: id, Kind: kind}
}

func isCheckNode(t NodeType) bool {
	switch t {
	case TypeCheckSubscription, TypeCheckRole, TypeCheckStock, TypeCheckValue, TypeProcessPayment:
		return true
	default:
		return false
	}
}

// checkReferences records warnings for dangling exits. Dangling references
// are non-fatal: at run time they terminate the chain silently.
func checkReferences(def *Definition) {
	check := func(owner string, exit *Exit) {
		if exit == nil || exit.TargetID == "" {
			return
		}

		switch exit.Kind {
		case TargetMenu:
			if def.Menu(exit.TargetID) == nil {
				def.warn(fmt.Sprintf("%s references unknown menu %s", owner, exit.TargetID))
			}
		case TargetAction:
			if def.Node(exit.TargetID) == nil {
				def.warn(fmt.Sprintf("%s references unknown node %s", owner, exit.TargetID))
			}
		default:
			def.warn(fmt.Sprintf("%s has unknown target kind %q", owner, exit.Kind))
		}
	}

	for _, menu := range def.Menus {
		for i := range menu.Buttons {
			btn := &menu.Buttons[i]
			owner := fmt.Sprintf("button %s", btn.ID)
			if btn.TargetMenuID != "" {
				check(owner, &Exit{TargetID: btn.TargetMenuID, Kind: TargetMenu})
			}
			if btn.TargetActionID != "" {
				check(owner, &Exit{TargetID: btn.TargetActionID, Kind: TargetAction})
			}
		}
	}

	if def.RootMenuID != "" && def.Menu(def.RootMenuID) == nil {
		def.warn(fmt.Sprintf("root menu %s does not exist", def.RootMenuID))
	}

	for _, node := range def.Nodes {
		owner := fmt.Sprintf("node %s", node.ID)
		check(owner, node.Next)
		for _, exit := range node.Branches {
			check(owner, exit)
		}
		for i := range node.Outcomes {
			check(owner, node.Outcomes[i].Target)
		}
	}
}

func (d *Definition) warn(msg string) {
	d.Warnings = append(d.Warnings, msg)
}
