package flow

// NodeType identifies one of the supported automation step variants.
type NodeType string

// Messaging and navigation.
const (
	TypeShowText     NodeType = "show_text"
	TypeDelay        NodeType = "delay"
	TypeTyping       NodeType = "typing_indicator"
	TypeNavigateMenu NodeType = "navigate_menu"
	TypeOpenURL      NodeType = "open_url"
)

// Session field mutation.
const (
	TypeSetField     NodeType = "set_field"
	TypeChangeField  NodeType = "change_field"
	TypeClearField   NodeType = "clear_field"
	TypeAppendToList NodeType = "append_to_list"
	TypeAddTag       NodeType = "add_tag"
	TypeRemoveTag    NodeType = "remove_tag"
	TypeModifyPoints NodeType = "modify_points"
)

// Branching and randomness.
const (
	TypeIfElse         NodeType = "if_else"
	TypeLottery        NodeType = "lottery"
	TypeRandomResult   NodeType = "random_result"
	TypeWeightedRandom NodeType = "weighted_random"
)

// Input collection.
const (
	TypeWaitResponse NodeType = "wait_response"
	TypeRequestInput NodeType = "request_input"
	TypeQuiz         NodeType = "quiz"
)

// External checks.
const (
	TypeCheckSubscription NodeType = "check_subscription"
	TypeCheckRole         NodeType = "check_role"
	TypeCheckStock        NodeType = "check_stock"
	TypeCheckValue        NodeType = "check_value"
)

// Commerce.
const (
	TypeShowProduct    NodeType = "show_product"
	TypeAddToCart      NodeType = "add_to_cart"
	TypeUpdateQuantity NodeType = "update_quantity"
	TypeRemoveFromCart NodeType = "remove_from_cart"
	TypeApplyPromo     NodeType = "apply_promo"
	TypeShowCart       NodeType = "show_cart"
	TypeClearCart      NodeType = "clear_cart"
	TypeProcessPayment NodeType = "process_payment"
)

// Reporting, protection, side-channel messaging.
const (
	TypeLeaderboard      NodeType = "leaderboard"
	TypeSpamProtection   NodeType = "spam_protection"
	TypeSendNotification NodeType = "send_notification"
	TypeScheduleMessage  NodeType = "schedule_message"
	TypeBroadcast        NodeType = "broadcast"
)

// Trigger declarations. These have no predecessor: the runtime invokes their
// exit when the external event they describe fires.
const (
	TypeOnPaymentSuccess NodeType = "on_payment_success"
	TypeOnFirstVisit     NodeType = "on_first_visit"
	TypeOnTimer          NodeType = "on_timer"
	TypeOnThreshold      NodeType = "on_threshold"
)

// Branch keys for binary-exit nodes.
const (
	BranchYes  = "yes"
	BranchNo   = "no"
	BranchWin  = "win"
	BranchLose = "lose"
	BranchFail = "fail"
)

// ExitShape describes how a node connects to the rest of the graph.
type ExitShape int

const (
	ShapeSingle ExitShape = iota
	ShapeBinary
	ShapeMulti
)

// Node is one step of automation: a typed operation with config and exits.
//
// Config keeps the raw authored key/value bag; Params holds the typed,
// validated payload decoded at load time. A node whose config failed
// validation keeps Params == nil and executes as a no-op that still follows
// its exit.
type Node struct {
	ID     string         `json:"id"`
	Type   NodeType       `json:"type"`
	Config map[string]any `json:"config"`

	Next     *Exit            `json:"next,omitempty"`
	Branches map[string]*Exit `json:"branches,omitempty"`
	Outcomes []Outcome        `json:"outcomes,omitempty"`

	// Position is builder layout only and irrelevant to execution.
	Position struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"position"`

	Params any `json:"-"`
}

// Shape returns the exit shape implied by the node type.
func (n *Node) Shape() ExitShape {
	switch n.Type {
	case TypeIfElse, TypeLottery:
		return ShapeBinary
	case TypeRandomResult, TypeWeightedRandom:
		return ShapeMulti
	default:
		return ShapeSingle
	}
}

// IsTrigger reports whether the node is a trigger declaration rather than a
// chain step.
func (n *Node) IsTrigger() bool {
	switch n.Type {
	case TypeOnPaymentSuccess, TypeOnFirstVisit, TypeOnTimer, TypeOnThreshold:
		return true
	default:
		return false
	}
}

// Branch returns the named branch exit, or nil when absent.
func (n *Node) Branch(name string) *Exit {
	if n == nil || n.Branches == nil {
		return nil
	}
	return n.Branches[name]
}
