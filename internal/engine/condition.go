package engine

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/flowbot-app/flowbot/internal/flow"
	"github.com/flowbot-app/flowbot/internal/session"
)

// evalCondition evaluates one typed predicate against session state and the
// user context. Evaluation never returns an error: malformed specs and
// failing external checks are the false branch (authorable content must
// degrade, not crash).
func (e *Engine) evalCondition(ctx context.Context, spec flow.ConditionSpec, sess *session.Session, uctx map[string]string) bool {
	switch spec.Kind {
	case flow.ConditionField:
		return evalFieldCompare(spec, uctx)
	case flow.ConditionTag:
		return sess.HasTag(spec.Tag)
	case flow.ConditionSubscription:
		return e.checkSubscription(ctx, spec.Channel, sess.UserID)
	case flow.ConditionTime:
		return evalTimeOfDay(spec.From, spec.To, e.clock.Now())
	case flow.ConditionRole:
		return e.checkRole(ctx, sess.UserID, spec.Role)
	case flow.ConditionStock:
		return e.checkStock(ctx, spec.ProductID, spec.MinQty)
	case flow.ConditionExpression:
		return e.evalExpression(spec.Expr, uctx)
	default:
		e.log.Warn("unknown condition kind", slog.String("kind", string(spec.Kind)))
		return false
	}
}

func evalFieldCompare(spec flow.ConditionSpec, uctx map[string]string) bool {
	// A missing field reads as the empty string, never an error.
	left := uctx[spec.Field]

	switch spec.Operator {
	case "equals":
		return left == spec.Value
	case "not_equals":
		return left != spec.Value
	case "contains":
		return strings.Contains(left, spec.Value)
	case "exists":
		_, ok := uctx[spec.Field]
		return ok && left != ""
	case "is_empty":
		return left == ""
	case "greater", "greater_or_equal", "less", "less_or_equal":
		lv, lok := parseNumber(left)
		rv, rok := parseNumber(spec.Value)
		if !lok || !rok {
			// Non-numeric operands fail the comparison rather than erroring.
			return false
		}
		switch spec.Operator {
		case "greater":
			return lv > rv
		case "greater_or_equal":
			return lv >= rv
		case "less":
			return lv < rv
		default:
			return lv <= rv
		}
	default:
		return false
	}
}

// evalTimeOfDay reports whether now falls inside [from, to), wrapping
// midnight when to < from.
func evalTimeOfDay(from, to string, now time.Time) bool {
	fromMin, ok := parseClock(from)
	if !ok {
		return false
	}
	toMin, ok := parseClock(to)
	if !ok {
		return false
	}

	nowMin := now.Hour()*60 + now.Minute()

	if fromMin <= toMin {
		return nowMin >= fromMin && nowMin < toMin
	}

	// window wraps midnight
	return nowMin >= fromMin || nowMin < toMin
}

func parseClock(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, false
	}

	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, false
	}

	return hours*60 + minutes, true
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, err == nil
}

func (e *Engine) checkSubscription(ctx context.Context, channel string, userID int64) bool {
	if e.subscriptions == nil || channel == "" {
		return false
	}

	subscribed, err := e.subscriptions.IsSubscribed(ctx, channel, userID)
	if err != nil {
		e.log.Warn("subscription check failed",
			slog.String("channel", channel), slog.Int64("user_id", userID), slog.Any("error", err))
		return false
	}

	return subscribed
}

func (e *Engine) checkRole(ctx context.Context, userID int64, role string) bool {
	if e.roles == nil || role == "" {
		return false
	}

	has, err := e.roles.HasRole(ctx, userID, role)
	if err != nil {
		e.log.Warn("role check failed",
			slog.String("role", role), slog.Int64("user_id", userID), slog.Any("error", err))
		return false
	}

	return has
}

func (e *Engine) checkStock(ctx context.Context, productID string, minQty int) bool {
	if e.stock == nil || productID == "" {
		return false
	}
	if minQty <= 0 {
		minQty = 1
	}

	inStock, err := e.stock.InStock(ctx, productID, minQty)
	if err != nil {
		e.log.Warn("stock check failed",
			slog.String("product_id", productID), slog.Any("error", err))
		return false
	}

	return inStock
}

// exprCache keeps compiled expression programs keyed by source.
var exprCache sync.Map

func (e *Engine) evalExpression(source string, uctx map[string]string) bool {
	if source == "" {
		return false
	}

	var program *vm.Program
	if cached, ok := exprCache.Load(source); ok {
		program = cached.(*vm.Program)
	} else {
		compiled, err := expr.Compile(source, expr.AllowUndefinedVariables())
		if err != nil {
			e.log.Warn("expression compile failed", slog.String("expr", source), slog.Any("error", err))
			return false
		}
		exprCache.Store(source, compiled)
		program = compiled
	}

	env := make(map[string]any, len(uctx))
	for key, value := range uctx {
		if num, ok := parseNumber(value); ok {
			env[key] = num
		} else {
			env[key] = value
		}
	}

	result, err := expr.Run(program, env)
	if err != nil {
		e.log.Warn("expression run failed", slog.String("expr", source), slog.Any("error", err))
		return false
	}

	truth, ok := result.(bool)
	return ok && truth
}
