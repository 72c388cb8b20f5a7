package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flowbot-app/flowbot/internal/flow"
	"github.com/flowbot-app/flowbot/internal/session"
	"github.com/flowbot-app/flowbot/pkg/metrics"
)

// executeNode runs one node and returns the exit to follow. suspended is
// true when the chain must stop pending user input. A node with nil Params
// (malformed config) skips its effect but still follows its exit.
func (e *Engine) executeNode(ctx context.Context, def *flow.Definition, sess *session.Session, profile Profile, node *flow.Node, res *Result, sink Sink) (next *flow.Exit, suspended bool, err error) {
	status := "ok"
	if node.Params == nil {
		status = "noop"
	}
	metrics.RecordNode(string(node.Type), status)

	if node.Params == nil {
		return node.Next, false, nil
	}

	uctx := e.userContext(sess, profile)

	switch node.Type {
	case flow.TypeShowText:
		p := node.Params.(*flow.ShowTextParams)
		e.emit(ctx, res, sink, SendMessage{Text: Interpolate(p.Text, uctx), ParseMode: p.ParseMode})
		return node.Next, false, nil

	case flow.TypeDelay:
		p := node.Params.(*flow.DelayParams)
		if p.Typing {
			e.emit(ctx, res, sink, ShowTyping{Seconds: int(p.Seconds)})
		}
		if err := e.clock.Sleep(ctx, time.Duration(p.Seconds*float64(time.Second))); err != nil {
			return nil, false, err
		}
		return node.Next, false, nil

	case flow.TypeTyping:
		p := node.Params.(*flow.TypingParams)
		e.emit(ctx, res, sink, ShowTyping{Seconds: p.Seconds})
		if err := e.clock.Sleep(ctx, time.Duration(p.Seconds)*time.Second); err != nil {
			return nil, false, err
		}
		return node.Next, false, nil

	case flow.TypeNavigateMenu:
		p := node.Params.(*flow.NavigateMenuParams)
		return &flow.Exit{TargetID: p.MenuID, Kind: flow.TargetMenu}, false, nil

	case flow.TypeOpenURL:
		p := node.Params.(*flow.OpenURLParams)
		e.emit(ctx, res, sink, OpenURL{URL: p.URL, Label: Interpolate(p.Label, uctx)})
		return node.Next, false, nil

	case flow.TypeSetField:
		p := node.Params.(*flow.SetFieldParams)
		before, _ := parseNumber(sess.Var(p.Field))
		sess.SetVar(p.Field, Interpolate(p.Value, uctx))
		if after, ok := parseNumber(sess.Var(p.Field)); ok {
			e.queueThresholds(def, res, p.Field, before, after)
		}
		return node.Next, false, nil

	case flow.TypeChangeField:
		p := node.Params.(*flow.ChangeFieldParams)
		current, _ := parseNumber(sess.Var(p.Field))
		sess.SetVar(p.Field, formatNumber(current+p.Delta))
		e.queueThresholds(def, res, p.Field, current, current+p.Delta)
		return node.Next, false, nil

	case flow.TypeClearField:
		p := node.Params.(*flow.ClearFieldParams)
		sess.ClearVar(p.Field)
		return node.Next, false, nil

	case flow.TypeAppendToList:
		p := node.Params.(*flow.AppendToListParams)
		sess.AppendToList(p.Field, Interpolate(p.Value, uctx), p.Unique)
		return node.Next, false, nil

	case flow.TypeAddTag:
		p := node.Params.(*flow.TagParams)
		sess.AddTag(p.Tag)
		return node.Next, false, nil

	case flow.TypeRemoveTag:
		p := node.Params.(*flow.TagParams)
		sess.RemoveTag(p.Tag)
		return node.Next, false, nil

	case flow.TypeModifyPoints:
		p := node.Params.(*flow.ModifyPointsParams)
		before := sess.Points
		sess.AdjustPoints(p.Op, p.Amount)
		e.queueThresholds(def, res, "points", before, sess.Points)
		return node.Next, false, nil

	case flow.TypeIfElse:
		p := node.Params.(*flow.IfElseParams)
		if e.evalCondition(ctx, p.Condition, sess, uctx) {
			return node.Branch(flow.BranchYes), false, nil
		}
		return node.Branch(flow.BranchNo), false, nil

	case flow.TypeLottery:
		return e.stepLottery(ctx, node, uctx, res, sink), false, nil

	case flow.TypeRandomResult:
		p := node.Params.(*flow.RandomResultParams)
		index := pickUniform(e.random, p.OutcomeCount)
		if index >= len(node.Outcomes) {
			return nil, false, nil
		}
		return node.Outcomes[index].Target, false, nil

	case flow.TypeWeightedRandom:
		index := pickWeighted(e.random, node.Outcomes)
		if index < 0 {
			return nil, false, nil
		}
		return node.Outcomes[index].Target, false, nil

	case flow.TypeWaitResponse, flow.TypeRequestInput:
		return nil, e.stepWait(ctx, sess, node, uctx, res, sink), nil

	case flow.TypeQuiz:
		return e.stepQuiz(ctx, sess, node, uctx, res, sink), false, nil

	case flow.TypeCheckSubscription:
		p := node.Params.(*flow.CheckSubscriptionParams)
		return e.routeCheck(node, e.checkSubscription(ctx, p.Channel, sess.UserID)), false, nil

	case flow.TypeCheckRole:
		p := node.Params.(*flow.CheckRoleParams)
		return e.routeCheck(node, e.checkRole(ctx, sess.UserID, p.Role)), false, nil

	case flow.TypeCheckStock:
		p := node.Params.(*flow.CheckStockParams)
		return e.routeCheck(node, e.checkStock(ctx, p.ProductID, p.MinQty)), false, nil

	case flow.TypeCheckValue:
		p := node.Params.(*flow.CheckValueParams)
		return e.routeCheck(node, e.evalCondition(ctx, p.Condition, sess, uctx)), false, nil

	case flow.TypeShowProduct, flow.TypeAddToCart, flow.TypeUpdateQuantity,
		flow.TypeRemoveFromCart, flow.TypeApplyPromo, flow.TypeShowCart,
		flow.TypeClearCart:
		e.stepCommerce(ctx, sess, node, uctx, res, sink)
		return node.Next, false, nil

	case flow.TypeProcessPayment:
		return e.stepPayment(ctx, def, sess, node, res, sink), false, nil

	case flow.TypeLeaderboard:
		p := node.Params.(*flow.LeaderboardParams)
		e.stepLeaderboard(ctx, sess, p.Limit, res, sink)
		return node.Next, false, nil

	case flow.TypeSpamProtection:
		p := node.Params.(*flow.SpamProtectionParams)
		e.stepSpamGuard(ctx, sess, node.ID, p)
		return node.Next, false, nil

	case flow.TypeSendNotification:
		p := node.Params.(*flow.SendNotificationParams)
		if e.messenger != nil {
			if err := e.messenger.Notify(ctx, Interpolate(p.Text, uctx)); err != nil {
				e.log.Warn("notification failed", slog.Any("error", err))
			}
		}
		return node.Next, false, nil

	case flow.TypeScheduleMessage:
		p := node.Params.(*flow.ScheduleMessageParams)
		if e.messenger != nil {
			delay := time.Duration(p.DelaySec) * time.Second
			if err := e.messenger.ScheduleMessage(ctx, sess.FlowID, sess.UserID, Interpolate(p.Text, uctx), delay); err != nil {
				e.log.Warn("schedule message failed", slog.Any("error", err))
			}
		}
		return node.Next, false, nil

	case flow.TypeBroadcast:
		p := node.Params.(*flow.BroadcastParams)
		if e.messenger != nil {
			if err := e.messenger.Broadcast(ctx, sess.FlowID, p.Tag, p.Text); err != nil {
				e.log.Warn("broadcast failed", slog.Any("error", err))
			}
		}
		return node.Next, false, nil

	case flow.TypeOnPaymentSuccess, flow.TypeOnFirstVisit, flow.TypeOnTimer, flow.TypeOnThreshold:
		// Trigger declarations reached mid-chain pass through to their exit.
		return node.Next, false, nil

	default:
		e.log.Warn("unhandled node type", slog.String("type", string(node.Type)))
		return node.Next, false, nil
	}
}

func (e *Engine) stepLottery(ctx context.Context, node *flow.Node, uctx map[string]string, res *Result, sink Sink) *flow.Exit {
	p := node.Params.(*flow.LotteryParams)

	won := e.random.Float64() < p.WinChance/100
	if won {
		if p.WinText != "" {
			e.emit(ctx, res, sink, SendMessage{Text: Interpolate(p.WinText, uctx)})
		}
		return node.Branch(flow.BranchWin)
	}

	if p.LoseText != "" {
		e.emit(ctx, res, sink, SendMessage{Text: Interpolate(p.LoseText, uctx)})
	}
	return node.Branch(flow.BranchLose)
}

// stepWait emits the prompt and suspends the chain: the awaiting marker is
// stored in the session so the next inbound message resumes here instead of
// starting fresh.
func (e *Engine) stepWait(ctx context.Context, sess *session.Session, node *flow.Node, uctx map[string]string, res *Result, sink Sink) bool {
	p := node.Params.(*flow.WaitResponseParams)

	e.emit(ctx, res, sink, SendMessage{Text: Interpolate(p.Prompt, uctx)})

	sess.BeginAwait(session.Await{
		NodeID:        node.ID,
		Field:         p.SaveToField,
		TimeoutSec:    p.TimeoutSec,
		TimeoutAction: p.TimeoutAction,
		TimeoutMenuID: p.TimeoutMenuID,
		AskedAt:       e.clock.Now(),
	})

	if p.TimeoutSec > 0 && e.messenger != nil {
		timeout := time.Duration(p.TimeoutSec) * time.Second
		if err := e.messenger.ScheduleWaitTimeout(ctx, sess.FlowID, sess.UserID, node.ID, sess.Await.Generation, timeout); err != nil {
			e.log.Warn("failed to schedule wait timeout",
				slog.String("node", node.ID), slog.Any("error", err))
		}
	}

	return true
}

// stepQuiz iterates all questions, scoring answers against stored variables.
// The quiz never branches into the graph: after the last question the chain
// follows the single exit.
func (e *Engine) stepQuiz(ctx context.Context, sess *session.Session, node *flow.Node, uctx map[string]string, res *Result, sink Sink) *flow.Exit {
	p := node.Params.(*flow.QuizParams)

	var score float64
	for i, question := range p.Questions {
		e.emit(ctx, res, sink, SendMessage{Text: Interpolate(question.Text, uctx)})

		answerVar := fmt.Sprintf("quiz.%s.answer_%d", node.ID, i+1)
		given := sess.Var(answerVar)
		if given != "" && strings.EqualFold(strings.TrimSpace(given), strings.TrimSpace(question.Answer)) {
			score += question.Points
		}
	}

	if p.SaveScoreTo != "" {
		sess.SetVar(p.SaveScoreTo, formatNumber(score))
	}

	return node.Next
}

// routeCheck collapses a check node's two outcomes: success continues along
// the single exit, failure follows the alternate branch when configured.
func (e *Engine) routeCheck(node *flow.Node, ok bool) *flow.Exit {
	if ok {
		return node.Next
	}

	if failExit := node.Branch(flow.BranchFail); failExit != nil {
		return failExit
	}

	return nil
}

func (e *Engine) stepPayment(ctx context.Context, def *flow.Definition, sess *session.Session, node *flow.Node, res *Result, sink Sink) *flow.Exit {
	p := node.Params.(*flow.ProcessPaymentParams)

	total := sess.CartTotal()
	if e.payments == nil || total <= 0 {
		return e.routeCheck(node, false)
	}

	if err := e.payments.Charge(ctx, sess.UserID, total, p.Currency); err != nil {
		// Provider failure is the node's failure branch, never an engine fault.
		e.log.Warn("payment failed",
			slog.Int64("user_id", sess.UserID), slog.Any("error", err))
		return e.routeCheck(node, false)
	}

	e.emit(ctx, res, sink, CommerceUpdate{Cart: snapshotCart(sess), Total: total, Note: "payment_accepted"})
	sess.CartClear()
	res.pendingTriggers = append(res.pendingTriggers, def.TriggerNodes(flow.TypeOnPaymentSuccess)...)

	return e.routeCheck(node, true)
}

func (e *Engine) stepLeaderboard(ctx context.Context, sess *session.Session, limit int, res *Result, sink Sink) {
	if e.leaderboard == nil {
		return
	}

	scores, err := e.leaderboard.TopScores(ctx, sess.FlowID, limit)
	if err != nil {
		e.log.Warn("leaderboard lookup failed", slog.Any("error", err))
		return
	}

	var b strings.Builder
	for i, score := range scores {
		fmt.Fprintf(&b, "%d. %d — %s\n", i+1, score.UserID, formatNumber(score.Points))
	}

	if b.Len() > 0 {
		e.emit(ctx, res, sink, SendMessage{Text: b.String()})
	}
}

// stepSpamGuard consults the rate limiter. On a limit hit it silently passes
// through: the current behavior has no blocking path.
func (e *Engine) stepSpamGuard(ctx context.Context, sess *session.Session, nodeID string, p *flow.SpamProtectionParams) {
	if e.spamGuard == nil {
		return
	}

	key := fmt.Sprintf("spam:%s:%s:%d", sess.FlowID, nodeID, sess.UserID)
	window := time.Duration(p.WindowSec) * time.Second

	allowed, err := e.spamGuard.Allow(ctx, key, p.MaxPerWindow, window)
	if err != nil {
		e.log.Warn("spam guard check failed", slog.Any("error", err))
		return
	}

	if !allowed {
		e.log.Info("spam guard limit hit",
			slog.String("node", nodeID), slog.Int64("user_id", sess.UserID))
	}
}
