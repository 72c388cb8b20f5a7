// Package engine implements the canonical action-chain execution engine:
// given a flow definition, a session, and a starting node, it walks the
// action graph, applies node effects, mutates the session, and reports where
// the conversation goes next. Every host (live bot, preview, job worker)
// calls this one implementation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/flowbot-app/flowbot/internal/flow"
	"github.com/flowbot-app/flowbot/internal/session"
	"github.com/flowbot-app/flowbot/pkg/metrics"
)

// DefaultMaxSteps bounds chain length to guard against authored cycles.
const DefaultMaxSteps = 50

var (
	// ErrNilDefinition indicates a programming error in the caller.
	ErrNilDefinition = errors.New("flow definition is nil")
	// ErrNilSession indicates a programming error in the caller.
	ErrNilSession = errors.New("session is nil")
	// ErrNotAwaiting indicates Resume was called without a pending wait.
	ErrNotAwaiting = errors.New("session is not awaiting input")
)

// OutcomeKind classifies how a chain walk ended.
type OutcomeKind int

const (
	// OutcomeTerminated means the chain ran out of nodes (or hit the
	// iteration bound) without navigating anywhere.
	OutcomeTerminated OutcomeKind = iota
	// OutcomeNavigated means the chain ended by navigating to a menu.
	OutcomeNavigated
	// OutcomeAwaiting means the chain suspended pending user input.
	OutcomeAwaiting
)

// String renders the outcome for logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNavigated:
		return "navigated"
	case OutcomeAwaiting:
		return "awaiting"
	default:
		return "terminated"
	}
}

// Result is the outcome of one chain walk: the ordered effects, the final
// disposition, and (for navigation) the target menu.
type Result struct {
	Effects       []Effect
	Outcome       OutcomeKind
	MenuID        string
	AwaitNodeID   string
	StepsExecuted int

	// pendingTriggers holds trigger-declaration nodes whose event fired
	// during the walk (payment success, threshold crossings). Their exits
	// run after the primary chain settles.
	pendingTriggers []*flow.Node
}

// Profile carries the Telegram identity fields merged into the user context.
type Profile struct {
	UserID    int64
	FirstName string
	LastName  string
	Username  string
}

// Deps bundles the engine's injected collaborators. Random and Clock default
// to production implementations; the rest are optional and their absence
// makes the corresponding nodes evaluate as failures or no-ops.
type Deps struct {
	Random        RandomSource
	Clock         Clock
	Subscriptions SubscriptionChecker
	Stock         StockChecker
	Roles         RoleResolver
	Promos        PromoResolver
	Payments      PaymentProvider
	Messenger     Messenger
	SpamGuard     SpamGuard
	Leaderboard   LeaderboardSource
}

// Engine is the chain walker. It is stateless across calls; all mutable
// state lives in the session passed to each run.
type Engine struct {
	random        RandomSource
	clock         Clock
	subscriptions SubscriptionChecker
	stock         StockChecker
	roles         RoleResolver
	promos        PromoResolver
	payments      PaymentProvider
	messenger     Messenger
	spamGuard     SpamGuard
	leaderboard   LeaderboardSource
	maxSteps      int
	log           *slog.Logger
}

// New builds an Engine from its dependencies.
func New(deps Deps, maxSteps int, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if deps.Random == nil {
		deps.Random = NewRand(time.Now().UnixNano())
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	return &Engine{
		random:        deps.Random,
		clock:         deps.Clock,
		subscriptions: deps.Subscriptions,
		stock:         deps.Stock,
		roles:         deps.Roles,
		promos:        deps.Promos,
		payments:      deps.Payments,
		messenger:     deps.Messenger,
		spamGuard:     deps.SpamGuard,
		leaderboard:   deps.Leaderboard,
		maxSteps:      maxSteps,
		log:           log,
	}
}

// SetSubscriptions attaches the subscription checker after construction.
// The checker rides on the Telegram transport, which is built after the
// engine, so it arrives late.
func (e *Engine) SetSubscriptions(checker SubscriptionChecker) {
	e.subscriptions = checker
}

// Run walks the chain from start until navigation, termination, or an input
// wait. The caller persists the mutated session afterwards. Only programming
// errors (nil flow or session) are returned; authored-content problems
// degrade silently per the engine's error policy.
func (e *Engine) Run(ctx context.Context, def *flow.Definition, sess *session.Session, profile Profile, start flow.Ref, sink Sink) (*Result, error) {
	if def == nil {
		return nil, ErrNilDefinition
	}
	if sess == nil {
		return nil, ErrNilSession
	}

	res := &Result{}
	began := e.clock.Now()

	var exit *flow.Exit
	switch start.Kind {
	case flow.TargetMenu:
		exit = &flow.Exit{TargetID: start.ID, Kind: flow.TargetMenu}
	default:
		exit = &flow.Exit{TargetID: start.ID, Kind: flow.TargetAction}
	}

	err := e.walk(ctx, def, sess, profile, exit, res, sink)
	if err == nil {
		err = e.flushTriggers(ctx, def, sess, profile, res, sink)
	}
	metrics.RecordChain(res.Outcome.String(), res.StepsExecuted, e.clock.Now().Sub(began))

	return res, err
}

// RunButton executes a button press: legacy inline actions first (in
// authored order), then navigation per the button's exit.
func (e *Engine) RunButton(ctx context.Context, def *flow.Definition, sess *session.Session, profile Profile, btn *flow.Button, sink Sink) (*Result, error) {
	if def == nil {
		return nil, ErrNilDefinition
	}
	if sess == nil {
		return nil, ErrNilSession
	}
	if btn == nil {
		return nil, errors.New("button is nil")
	}

	res := &Result{}

	for _, inline := range btn.Actions {
		node := inlineNode(inline)
		if node == nil {
			continue
		}

		if _, suspended, err := e.executeNode(ctx, def, sess, profile, node, res, sink); err != nil {
			return res, err
		} else if suspended {
			// An input node authored inline still sets the await marker, but
			// its synthetic node id cannot be resolved later, so the chain
			// never continues past it. Navigation proceeds now and the next
			// message only fills the field.
			break
		}
	}

	switch {
	case btn.TargetActionID != "":
		if err := e.walk(ctx, def, sess, profile, &flow.Exit{TargetID: btn.TargetActionID, Kind: flow.TargetAction}, res, sink); err != nil {
			return res, err
		}
	case btn.TargetMenuID != "":
		e.navigate(def, sess, btn.TargetMenuID, res)
	default:
		res.Outcome = OutcomeTerminated
	}

	err := e.flushTriggers(ctx, def, sess, profile, res, sink)
	return res, err
}

// Resume consumes the session's awaiting-input marker: the user's message is
// stored into the configured field and the chain continues from the awaited
// node's exit.
func (e *Engine) Resume(ctx context.Context, def *flow.Definition, sess *session.Session, profile Profile, input string, sink Sink) (*Result, error) {
	if def == nil {
		return nil, ErrNilDefinition
	}
	if sess == nil {
		return nil, ErrNilSession
	}

	await := sess.EndAwait()
	if await == nil {
		return nil, ErrNotAwaiting
	}

	if await.Field != "" {
		sess.SetVar(await.Field, input)
	}

	res := &Result{}

	node := def.Node(await.NodeID)
	if node == nil {
		// The flow changed while the user was typing; nothing to resume.
		res.Outcome = OutcomeTerminated
		return res, nil
	}

	if err := e.walk(ctx, def, sess, profile, node.Next, res, sink); err != nil {
		return res, err
	}

	err := e.flushTriggers(ctx, def, sess, profile, res, sink)
	return res, err
}

// ExpireWait resolves a wait timeout. The generation must match the marker
// that scheduled the timeout; otherwise the wait was already answered or
// cancelled and the call is a no-op.
func (e *Engine) ExpireWait(ctx context.Context, def *flow.Definition, sess *session.Session, profile Profile, nodeID string, generation int64, sink Sink) (*Result, error) {
	if def == nil {
		return nil, ErrNilDefinition
	}
	if sess == nil {
		return nil, ErrNilSession
	}

	res := &Result{}

	await := sess.Await
	if await == nil || await.NodeID != nodeID || await.Generation != generation {
		res.Outcome = OutcomeTerminated
		return res, nil
	}

	node := def.Node(nodeID)

	var params *flow.WaitResponseParams
	if node != nil {
		params, _ = node.Params.(*flow.WaitResponseParams)
	}

	switch await.TimeoutAction {
	case flow.TimeoutRepeat:
		if params != nil {
			uctx := e.userContext(sess, profile)
			e.emit(ctx, res, sink, SendMessage{Text: Interpolate(params.Prompt, uctx)})
		}
		sess.Await.AskedAt = e.clock.Now()
		if e.messenger != nil && await.TimeoutSec > 0 {
			timeout := time.Duration(await.TimeoutSec) * time.Second
			if err := e.messenger.ScheduleWaitTimeout(ctx, sess.FlowID, sess.UserID, nodeID, await.Generation, timeout); err != nil {
				e.log.Warn("failed to reschedule wait timeout", slog.Any("error", err))
			}
		}
		res.Outcome = OutcomeAwaiting
		res.AwaitNodeID = nodeID
		return res, nil
	case flow.TimeoutContinue:
		sess.EndAwait()
		if node == nil {
			res.Outcome = OutcomeTerminated
			return res, nil
		}
		if err := e.walk(ctx, def, sess, profile, node.Next, res, sink); err != nil {
			return res, err
		}
		err := e.flushTriggers(ctx, def, sess, profile, res, sink)
		return res, err
	case flow.TimeoutGotoMenu:
		sess.EndAwait()
		e.navigate(def, sess, await.TimeoutMenuID, res)
		return res, nil
	default:
		sess.EndAwait()
		res.Outcome = OutcomeTerminated
		return res, nil
	}
}

// FireTrigger runs the exit of every trigger-declaration node of the given
// type. Trigger nodes are not chain steps: only their exits execute.
func (e *Engine) FireTrigger(ctx context.Context, def *flow.Definition, sess *session.Session, profile Profile, trigger flow.NodeType, sink Sink) (*Result, error) {
	if def == nil {
		return nil, ErrNilDefinition
	}
	if sess == nil {
		return nil, ErrNilSession
	}

	res := &Result{}
	res.Outcome = OutcomeTerminated

	for _, node := range def.TriggerNodes(trigger) {
		if node.Next == nil {
			continue
		}

		if err := e.walk(ctx, def, sess, profile, node.Next, res, sink); err != nil {
			return res, err
		}

		// The first trigger that navigates or suspends wins.
		if res.Outcome != OutcomeTerminated {
			break
		}
	}

	if err := e.flushTriggers(ctx, def, sess, profile, res, sink); err != nil {
		return res, err
	}

	return res, nil
}

// queueThresholds marks every on_threshold declaration whose watched field
// just crossed its configured value from below. Declarations for other
// fields, and mutations that stay on one side of the value, never fire.
func (e *Engine) queueThresholds(def *flow.Definition, res *Result, field string, before, after float64) {
	if before == after {
		return
	}

	for _, node := range def.TriggerNodes(flow.TypeOnThreshold) {
		p, ok := node.Params.(*flow.OnThresholdParams)
		if !ok || p.Field != field {
			continue
		}
		if before < p.Value && after >= p.Value {
			res.pendingTriggers = append(res.pendingTriggers, node)
		}
	}
}

// flushTriggers runs the exits of trigger nodes whose event fired during
// the walk. Trigger chains run after the primary chain settles; a chain
// that navigates or suspends overrides the primary disposition, and chains
// may queue further triggers up to the iteration bound.
func (e *Engine) flushTriggers(ctx context.Context, def *flow.Definition, sess *session.Session, profile Profile, res *Result, sink Sink) error {
	for fired := 0; len(res.pendingTriggers) > 0 && fired < e.maxSteps; fired++ {
		node := res.pendingTriggers[0]
		res.pendingTriggers = res.pendingTriggers[1:]
		if node.Next == nil {
			continue
		}

		sub := &Result{}
		if err := e.walk(ctx, def, sess, profile, node.Next, sub, sink); err != nil {
			return err
		}

		res.Effects = append(res.Effects, sub.Effects...)
		res.StepsExecuted += sub.StepsExecuted
		res.pendingTriggers = append(res.pendingTriggers, sub.pendingTriggers...)

		if sub.Outcome != OutcomeTerminated {
			res.Outcome = sub.Outcome
			res.MenuID = sub.MenuID
			res.AwaitNodeID = sub.AwaitNodeID
		}
	}

	if len(res.pendingTriggers) > 0 {
		e.log.Warn("trigger cascade bound exceeded",
			slog.String("flow", def.ID), slog.Int64("user_id", sess.UserID))
		res.pendingTriggers = nil
	}

	return nil
}

// walk is the core loop: execute a node, follow its exit, repeat until a
// terminal condition. The iteration bound turns authored cycles into a
// logged termination instead of a hang.
func (e *Engine) walk(ctx context.Context, def *flow.Definition, sess *session.Session, profile Profile, exit *flow.Exit, res *Result, sink Sink) error {
	for steps := 0; steps < e.maxSteps; steps++ {
		if exit == nil || exit.TargetID == "" {
			res.Outcome = OutcomeTerminated
			return nil
		}

		if exit.Kind == flow.TargetMenu {
			e.navigate(def, sess, exit.TargetID, res)
			return nil
		}

		node := def.Node(exit.TargetID)
		if node == nil {
			// Dangling reference: terminate silently, never raise.
			res.Outcome = OutcomeTerminated
			return nil
		}

		res.StepsExecuted++

		next, suspended, err := e.executeNode(ctx, def, sess, profile, node, res, sink)
		if err != nil {
			return err
		}
		if suspended {
			res.Outcome = OutcomeAwaiting
			res.AwaitNodeID = node.ID
			return nil
		}

		exit = next
	}

	e.log.Warn("chain iteration bound exceeded",
		slog.String("flow", def.ID), slog.Int64("user_id", sess.UserID), slog.Int("bound", e.maxSteps))
	metrics.RecordCycleGuardTrip()
	res.Outcome = OutcomeTerminated

	return nil
}

func (e *Engine) navigate(def *flow.Definition, sess *session.Session, menuID string, res *Result) {
	if menuID == "" || def.Menu(menuID) == nil {
		res.Outcome = OutcomeTerminated
		return
	}

	sess.CurrentMenuID = menuID
	res.Outcome = OutcomeNavigated
	res.MenuID = menuID
}

// emit streams the effect to the sink and records it in the result.
func (e *Engine) emit(ctx context.Context, res *Result, sink Sink, effect Effect) {
	res.Effects = append(res.Effects, effect)
	metrics.RecordEffect(effect.EffectType())

	if sink == nil {
		return
	}

	if err := sink.Emit(ctx, effect); err != nil {
		e.log.Warn("effect sink error", slog.String("effect", effect.EffectType()), slog.Any("error", err))
	}
}

// UserContext exposes the interpolation view so callers can render menu
// text with the same substitutions the chain uses.
func (e *Engine) UserContext(sess *session.Session, profile Profile) map[string]string {
	return e.userContext(sess, profile)
}

// userContext builds the interpolation/condition view: session variables
// overlaid with always-present system fields. Date and time are refreshed on
// every invocation.
func (e *Engine) userContext(sess *session.Session, profile Profile) map[string]string {
	uctx := make(map[string]string, len(sess.Variables)+7)
	for key, value := range sess.Variables {
		uctx[key] = value
	}

	now := e.clock.Now()
	uctx["first_name"] = profile.FirstName
	uctx["last_name"] = profile.LastName
	uctx["username"] = profile.Username
	uctx["user_id"] = strconv.FormatInt(profile.UserID, 10)
	uctx["date"] = now.Format("02.01.2006")
	uctx["time"] = now.Format("15:04")
	uctx["points"] = formatNumber(sess.Points)

	return uctx
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// inlineNode adapts a legacy inline button action to a transient node so the
// regular dispatch executes it. Inline actions have no exits of their own.
func inlineNode(a flow.InlineAction) *flow.Node {
	node := &flow.Node{
		ID:     fmt.Sprintf("inline:%s", a.ID),
		Type:   a.Type,
		Config: a.Config,
	}

	params, err := flow.DecodeParams(a.Type, a.Config)
	if err != nil {
		return node // params stay nil: executes as a no-op
	}
	node.Params = params

	return node
}
