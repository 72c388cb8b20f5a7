package flow

import (
	"fmt"

	validator "github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
)

// ConditionKind selects a predicate family for condition evaluation.
type ConditionKind string

const (
	ConditionField        ConditionKind = "field"
	ConditionTag          ConditionKind = "tag"
	ConditionSubscription ConditionKind = "subscription"
	ConditionTime         ConditionKind = "time"
	ConditionRole         ConditionKind = "role"
	ConditionStock        ConditionKind = "stock"
	ConditionExpression   ConditionKind = "expression"
)

// ConditionSpec is the authored configuration of one predicate.
type ConditionSpec struct {
	Kind ConditionKind `json:"kind"`

	// field compare
	Field    string `json:"field,omitempty"`
	Operator string `json:"operator,omitempty"`
	Value    string `json:"value,omitempty"`

	// tag presence
	Tag string `json:"tag,omitempty"`

	// channel subscription
	Channel string `json:"channel,omitempty"`

	// time of day, HH:MM
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// role membership
	Role string `json:"role,omitempty"`

	// stock level
	ProductID string `json:"productId,omitempty"`
	MinQty    int    `json:"minQty,omitempty"`

	// free-form expression over the user context
	Expr string `json:"expr,omitempty"`
}

// Typed node payloads. One struct per node type; decoded from the raw config
// bag at load time and validated before the node is ever executed.

type ShowTextParams struct {
	Text      string `validate:"required"`
	ParseMode string
}

type DelayParams struct {
	Seconds float64 `validate:"gte=0,lte=300"`
	Typing  bool
}

type TypingParams struct {
	Seconds int `validate:"gte=1,lte=10"`
}

type NavigateMenuParams struct {
	MenuID string `validate:"required"`
}

type OpenURLParams struct {
	URL   string `validate:"required,url"`
	Label string
}

type SetFieldParams struct {
	Field string `validate:"required"`
	Value string
}

type ChangeFieldParams struct {
	Field string `validate:"required"`
	Delta float64
}

type ClearFieldParams struct {
	Field string `validate:"required"`
}

type AppendToListParams struct {
	Field  string `validate:"required"`
	Value  string
	Unique bool
}

type TagParams struct {
	Tag string `validate:"required"`
}

type ModifyPointsParams struct {
	Op     string `validate:"oneof=add subtract set multiply"`
	Amount float64
}

type IfElseParams struct {
	Condition ConditionSpec
}

type LotteryParams struct {
	WinChance float64 `validate:"gte=0,lte=100"`
	WinText   string
	LoseText  string
}

type RandomResultParams struct {
	OutcomeCount int `validate:"gte=2,lte=10"`
}

type WeightedRandomParams struct{}

// Wait timeout resolutions.
const (
	TimeoutNone     = "none"
	TimeoutRepeat   = "repeat"
	TimeoutContinue = "continue"
	TimeoutGotoMenu = "goto_menu"
)

type WaitResponseParams struct {
	Prompt        string `validate:"required"`
	SaveToField   string
	TimeoutSec    int    `validate:"gte=0"`
	TimeoutAction string `validate:"omitempty,oneof=none repeat continue goto_menu"`
	TimeoutMenuID string
}

type QuizQuestion struct {
	Text   string `json:"text"`
	Answer string `json:"answer"`
	Points float64
}

type QuizParams struct {
	Questions   []QuizQuestion `validate:"min=1"`
	SaveScoreTo string
}

type CheckSubscriptionParams struct {
	Channel string `validate:"required"`
}

type CheckRoleParams struct {
	Role string `validate:"required"`
}

type CheckStockParams struct {
	ProductID string `validate:"required"`
	MinQty    int    `validate:"gte=1"`
}

type CheckValueParams struct {
	Condition ConditionSpec
}

type ShowProductParams struct {
	ProductID string `validate:"required"`
}

type AddToCartParams struct {
	ProductID string `validate:"required"`
	Quantity  int    `validate:"gte=1"`
	Price     float64
}

type UpdateQuantityParams struct {
	ProductID string `validate:"required"`
	Quantity  int    `validate:"gte=0"`
}

type RemoveFromCartParams struct {
	ProductID string `validate:"required"`
}

type ApplyPromoParams struct {
	Code string `validate:"required"`
}

type ShowCartParams struct{}

type ClearCartParams struct{}

type ProcessPaymentParams struct {
	Provider string
	Currency string
}

type LeaderboardParams struct {
	Limit int `validate:"gte=1,lte=50"`
}

type SpamProtectionParams struct {
	MaxPerWindow int `validate:"gte=1"`
	WindowSec    int `validate:"gte=1"`
}

type SendNotificationParams struct {
	Text string `validate:"required"`
}

type ScheduleMessageParams struct {
	Text     string `validate:"required"`
	DelaySec int    `validate:"gte=1"`
}

type BroadcastParams struct {
	Text string `validate:"required"`
	Tag  string
}

type OnTimerParams struct {
	Cron string `validate:"required"`
}

type OnThresholdParams struct {
	Field string `validate:"required"`
	Value float64
}

type EmptyParams struct{}

var paramsValidator = validator.New(validator.WithRequiredStructEnabled())

// DecodeParams converts a node's raw config bag into its typed payload.
// Unknown keys are ignored; values are coerced leniently. A validation
// failure returns an error and the caller records it as a load warning.
func DecodeParams(t NodeType, cfg map[string]any) (any, error) {
	params, err := buildParams(t, cfg)
	if err != nil {
		return nil, err
	}

	if err := paramsValidator.Struct(params); err != nil {
		return nil, fmt.Errorf("validate %s config: %w", t, err)
	}

	return params, nil
}

func buildParams(t NodeType, cfg map[string]any) (any, error) {
	get := func(key string) any { return cfg[key] }
	str := func(key string) string { return cast.ToString(get(key)) }
	num := func(key string) float64 { return cast.ToFloat64(get(key)) }
	integer := func(key string) int { return cast.ToInt(get(key)) }
	boolean := func(key string) bool { return cast.ToBool(get(key)) }

	switch t {
	case TypeShowText:
		return &ShowTextParams{Text: str("text"), ParseMode: str("parseMode")}, nil
	case TypeDelay:
		return &DelayParams{Seconds: clampFloat(num("seconds"), 0, 300), Typing: boolean("showTyping")}, nil
	case TypeTyping:
		return &TypingParams{Seconds: clampInt(integer("seconds"), 1, 10)}, nil
	case TypeNavigateMenu:
		return &NavigateMenuParams{MenuID: str("menuId")}, nil
	case TypeOpenURL:
		return &OpenURLParams{URL: str("url"), Label: str("label")}, nil
	case TypeSetField:
		return &SetFieldParams{Field: str("field"), Value: str("value")}, nil
	case TypeChangeField:
		return &ChangeFieldParams{Field: str("field"), Delta: num("delta")}, nil
	case TypeClearField:
		return &ClearFieldParams{Field: str("field")}, nil
	case TypeAppendToList:
		return &AppendToListParams{Field: str("field"), Value: str("value"), Unique: boolean("unique")}, nil
	case TypeAddTag, TypeRemoveTag:
		return &TagParams{Tag: str("tag")}, nil
	case TypeModifyPoints:
		op := str("operation")
		if op == "" {
			op = "add"
		}
		return &ModifyPointsParams{Op: op, Amount: num("amount")}, nil
	case TypeIfElse:
		return &IfElseParams{Condition: decodeCondition(cfg)}, nil
	case TypeLottery:
		return &LotteryParams{
			WinChance: clampFloat(num("winChance"), 0, 100),
			WinText:   str("winText"),
			LoseText:  str("loseText"),
		}, nil
	case TypeRandomResult:
		return &RandomResultParams{OutcomeCount: clampInt(integer("outcomeCount"), 2, 10)}, nil
	case TypeWeightedRandom:
		return &WeightedRandomParams{}, nil
	case TypeWaitResponse, TypeRequestInput:
		action := str("timeoutAction")
		if action == "" {
			action = TimeoutNone
		}
		return &WaitResponseParams{
			Prompt:        str("prompt"),
			SaveToField:   str("saveToField"),
			TimeoutSec:    integer("timeoutSec"),
			TimeoutAction: action,
			TimeoutMenuID: str("timeoutMenuId"),
		}, nil
	case TypeQuiz:
		return decodeQuiz(cfg)
	case TypeCheckSubscription:
		return &CheckSubscriptionParams{Channel: str("channel")}, nil
	case TypeCheckRole:
		return &CheckRoleParams{Role: str("role")}, nil
	case TypeCheckStock:
		minQty := integer("minQty")
		if minQty == 0 {
			minQty = 1
		}
		return &CheckStockParams{ProductID: str("productId"), MinQty: minQty}, nil
	case TypeCheckValue:
		return &CheckValueParams{Condition: decodeCondition(cfg)}, nil
	case TypeShowProduct:
		return &ShowProductParams{ProductID: str("productId")}, nil
	case TypeAddToCart:
		qty := integer("quantity")
		if qty == 0 {
			qty = 1
		}
		return &AddToCartParams{ProductID: str("productId"), Quantity: qty, Price: num("price")}, nil
	case TypeUpdateQuantity:
		return &UpdateQuantityParams{ProductID: str("productId"), Quantity: integer("quantity")}, nil
	case TypeRemoveFromCart:
		return &RemoveFromCartParams{ProductID: str("productId")}, nil
	case TypeApplyPromo:
		return &ApplyPromoParams{Code: str("code")}, nil
	case TypeShowCart:
		return &ShowCartParams{}, nil
	case TypeClearCart:
		return &ClearCartParams{}, nil
	case TypeProcessPayment:
		return &ProcessPaymentParams{Provider: str("provider"), Currency: str("currency")}, nil
	case TypeLeaderboard:
		limit := integer("limit")
		if limit == 0 {
			limit = 10
		}
		return &LeaderboardParams{Limit: limit}, nil
	case TypeSpamProtection:
		maxPerWindow := integer("maxPerWindow")
		if maxPerWindow == 0 {
			maxPerWindow = 5
		}
		windowSec := integer("windowSec")
		if windowSec == 0 {
			windowSec = 60
		}
		return &SpamProtectionParams{MaxPerWindow: maxPerWindow, WindowSec: windowSec}, nil
	case TypeSendNotification:
		return &SendNotificationParams{Text: str("text")}, nil
	case TypeScheduleMessage:
		return &ScheduleMessageParams{Text: str("text"), DelaySec: integer("delaySec")}, nil
	case TypeBroadcast:
		return &BroadcastParams{Text: str("text"), Tag: str("tag")}, nil
	case TypeOnTimer:
		return &OnTimerParams{Cron: str("cron")}, nil
	case TypeOnThreshold:
		return &OnThresholdParams{Field: str("field"), Value: num("value")}, nil
	case TypeOnPaymentSuccess, TypeOnFirstVisit:
		return &EmptyParams{}, nil
	default:
		return nil, fmt.Errorf("unknown node type %q", t)
	}
}

func decodeCondition(cfg map[string]any) ConditionSpec {
	raw := cfg
	if nested, ok := cfg["condition"].(map[string]any); ok {
		raw = nested
	}

	kind := ConditionKind(cast.ToString(raw["kind"]))
	if kind == "" {
		kind = ConditionField
	}

	return ConditionSpec{
		Kind:      kind,
		Field:     cast.ToString(raw["field"]),
		Operator:  cast.ToString(raw["operator"]),
		Value:     cast.ToString(raw["value"]),
		Tag:       cast.ToString(raw["tag"]),
		Channel:   cast.ToString(raw["channel"]),
		From:      cast.ToString(raw["from"]),
		To:        cast.ToString(raw["to"]),
		Role:      cast.ToString(raw["role"]),
		ProductID: cast.ToString(raw["productId"]),
		MinQty:    cast.ToInt(raw["minQty"]),
		Expr:      cast.ToString(raw["expr"]),
	}
}

func decodeQuiz(cfg map[string]any) (*QuizParams, error) {
	rawQuestions, err := cast.ToSliceE(cfg["questions"])
	if err != nil {
		return nil, fmt.Errorf("quiz questions must be a list: %w", err)
	}

	questions := make([]QuizQuestion, 0, len(rawQuestions))
	for _, rawQ := range rawQuestions {
		q, err := cast.ToStringMapE(rawQ)
		if err != nil {
			continue
		}

		points := cast.ToFloat64(q["points"])
		if points == 0 {
			points = 1
		}

		questions = append(questions, QuizQuestion{
			Text:   cast.ToString(q["text"]),
			Answer: cast.ToString(q["answer"]),
			Points: points,
		})
	}

	return &QuizParams{
		Questions:   questions,
		SaveScoreTo: cast.ToString(cfg["saveScoreTo"]),
	}, nil
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
