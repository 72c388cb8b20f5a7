package engine_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbot-app/flowbot/internal/engine"
	"github.com/flowbot-app/flowbot/internal/flow"
	"github.com/flowbot-app/flowbot/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixedRandom replays a fixed sequence of draws.
type fixedRandom struct {
	values []float64
	index  int
}

func (r *fixedRandom) Float64() float64 {
	if r.index >= len(r.values) {
		return 0
	}
	v := r.values[r.index]
	r.index++
	return v
}

// frozenClock never sleeps and reports a fixed instant.
type frozenClock struct {
	now time.Time
}

func (c frozenClock) Now() time.Time                                  { return c.now }
func (c frozenClock) Sleep(ctx context.Context, d time.Duration) error { return nil }

func newTestEngine(t *testing.T, deps engine.Deps) *engine.Engine {
	t.Helper()

	if deps.Clock == nil {
		deps.Clock = frozenClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	}

	return engine.New(deps, 0, testLogger())
}

func mustParse(t *testing.T, data string) *flow.Definition {
	t.Helper()

	def, err := flow.ParseDefinition([]byte(data))
	require.NoError(t, err)
	return def
}

func textEffects(effects []engine.Effect) []string {
	var texts []string
	for _, effect := range effects {
		if msg, ok := effect.(engine.SendMessage); ok {
			texts = append(texts, msg.Text)
		}
	}
	return texts
}

func TestEngine_ShowTextThenNavigate(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [{"id": "M1", "text": "Menu one"}],
		"actionNodes": [
			{"id": "A", "type": "show_text", "config": {"text": "Hello, {first_name}!"},
			 "next": {"targetId": "M1", "targetType": "menu"}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)
	profile := engine.Profile{UserID: 7, FirstName: "Ivan"}

	res, err := eng.Run(context.Background(), def, sess, profile, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeNavigated, res.Outcome)
	assert.Equal(t, "M1", res.MenuID)
	assert.Equal(t, "M1", sess.CurrentMenuID)
	assert.Equal(t, []string{"Hello, Ivan!"}, textEffects(res.Effects))
	assert.Equal(t, 1, res.StepsExecuted)
}

func TestEngine_IfElseTakesYesBranch(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [{"id": "M1", "text": "Rich"}, {"id": "M2", "text": "Poor"}],
		"actionNodes": [
			{"id": "A", "type": "if_else",
			 "config": {"condition": {"kind": "field", "field": "balance", "operator": "greater", "value": "100"}},
			 "branches": {
				"yes": {"targetId": "M1", "targetType": "menu"},
				"no": {"targetId": "M2", "targetType": "menu"}
			 }}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)
	sess.SetVar("balance", "150")

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeNavigated, res.Outcome)
	assert.Equal(t, "M1", res.MenuID)
}

func TestEngine_WeightedRandomSeededDraw(t *testing.T) {
	// A draw of 0.05 against weights [10, 90] lands in the first band.
	def := mustParse(t, `{
		"id": "f1",
		"menus": [{"id": "M1", "text": "rare"}, {"id": "M2", "text": "common"}],
		"actionNodes": [
			{"id": "A", "type": "weighted_random", "config": {},
			 "outcomes": [
				{"id": "o1", "weight": 10, "target": {"targetId": "M1", "targetType": "menu"}},
				{"id": "o2", "weight": 90, "target": {"targetId": "M2", "targetType": "menu"}}
			 ]}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{Random: &fixedRandom{values: []float64{0.05}}})
	sess := session.New("f1", 7)

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, "M1", res.MenuID)
}

func TestEngine_AddTagThenTerminate(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "add_tag", "config": {"tag": "VIP"}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeTerminated, res.Outcome)
	assert.True(t, sess.HasTag("VIP"))
}

func TestEngine_PointsNeverGoNegative(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "modify_points", "config": {"operation": "subtract", "amount": 50}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)
	sess.Points = 30

	_, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, float64(0), sess.Points)
}

func TestEngine_DanglingTargetTerminatesSilently(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "show_text", "config": {"text": "hi"},
			 "next": {"targetId": "GONE", "targetType": "action"}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeTerminated, res.Outcome)
	assert.Equal(t, []string{"hi"}, textEffects(res.Effects))
}

func TestEngine_CycleGuardStopsInfiniteLoop(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "add_tag", "config": {"tag": "a"}, "next": {"targetId": "B", "targetType": "action"}},
			{"id": "B", "type": "add_tag", "config": {"tag": "b"}, "next": {"targetId": "A", "targetType": "action"}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeTerminated, res.Outcome)
	assert.Equal(t, engine.DefaultMaxSteps, res.StepsExecuted)
}

func TestEngine_MalformedNodeIsNoOpButFollowsExit(t *testing.T) {
	// show_text without text fails validation at load; the node must still
	// pass control to its exit at run time.
	def := mustParse(t, `{
		"id": "f1",
		"menus": [{"id": "M1", "text": "after"}],
		"actionNodes": [
			{"id": "A", "type": "show_text", "config": {},
			 "next": {"targetId": "M1", "targetType": "menu"}}
		]
	}`)

	require.NotEmpty(t, def.Warnings)
	require.Nil(t, def.Node("A").Params)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Empty(t, textEffects(res.Effects))
	assert.Equal(t, engine.OutcomeNavigated, res.Outcome)
	assert.Equal(t, "M1", res.MenuID)
}

func TestEngine_WaitSuspendsAndResumeContinues(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [{"id": "M1", "text": "done"}],
		"actionNodes": [
			{"id": "ASK", "type": "request_input",
			 "config": {"prompt": "Name?", "saveToField": "nickname"},
			 "next": {"targetId": "SAY", "targetType": "action"}},
			{"id": "SAY", "type": "show_text", "config": {"text": "Hi, {nickname}!"},
			 "next": {"targetId": "M1", "targetType": "menu"}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)
	profile := engine.Profile{UserID: 7}
	ctx := context.Background()

	res, err := eng.Run(ctx, def, sess, profile, flow.Ref{ID: "ASK", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeAwaiting, res.Outcome)
	assert.Equal(t, "ASK", res.AwaitNodeID)
	require.NotNil(t, sess.Await)
	assert.Equal(t, []string{"Name?"}, textEffects(res.Effects))

	res, err = eng.Resume(ctx, def, sess, profile, "Bob", nil)
	require.NoError(t, err)

	assert.Nil(t, sess.Await)
	assert.Equal(t, "Bob", sess.Var("nickname"))
	assert.Equal(t, engine.OutcomeNavigated, res.Outcome)
	assert.Equal(t, []string{"Hi, Bob!"}, textEffects(res.Effects))
}

func TestEngine_ResumeWithoutAwaitFails(t *testing.T) {
	def := mustParse(t, `{"id": "f1", "menus": [], "actionNodes": []}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)

	_, err := eng.Resume(context.Background(), def, sess, engine.Profile{UserID: 7}, "hello", nil)
	assert.ErrorIs(t, err, engine.ErrNotAwaiting)
}

func TestEngine_ExpireWaitStaleGenerationIsNoOp(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "ASK", "type": "wait_response",
			 "config": {"prompt": "Answer?", "saveToField": "answer", "timeoutSec": 30, "timeoutAction": "continue"}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)
	profile := engine.Profile{UserID: 7}
	ctx := context.Background()

	_, err := eng.Run(ctx, def, sess, profile, flow.Ref{ID: "ASK", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)
	require.NotNil(t, sess.Await)

	staleGeneration := sess.Await.Generation

	// The user answers before the timeout fires.
	_, err = eng.Resume(ctx, def, sess, profile, "42", nil)
	require.NoError(t, err)

	res, err := eng.ExpireWait(ctx, def, sess, profile, "ASK", staleGeneration, nil)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeTerminated, res.Outcome)
	assert.Empty(t, res.Effects)
	assert.Equal(t, "42", sess.Var("answer"))
}

func TestEngine_ExpireWaitRepeatReprompts(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "ASK", "type": "wait_response",
			 "config": {"prompt": "Answer?", "timeoutSec": 30, "timeoutAction": "repeat"}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)
	profile := engine.Profile{UserID: 7}
	ctx := context.Background()

	_, err := eng.Run(ctx, def, sess, profile, flow.Ref{ID: "ASK", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	res, err := eng.ExpireWait(ctx, def, sess, profile, "ASK", sess.Await.Generation, nil)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeAwaiting, res.Outcome)
	assert.Equal(t, []string{"Answer?"}, textEffects(res.Effects))
	require.NotNil(t, sess.Await)
}

func TestEngine_LotteryWinBranch(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [{"id": "WIN", "text": "winner"}, {"id": "LOSE", "text": "loser"}],
		"actionNodes": [
			{"id": "A", "type": "lottery",
			 "config": {"winChance": 30, "winText": "You won!", "loseText": "You lost."},
			 "branches": {
				"win": {"targetId": "WIN", "targetType": "menu"},
				"lose": {"targetId": "LOSE", "targetType": "menu"}
			 }}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{Random: &fixedRandom{values: []float64{0.1}}})
	sess := session.New("f1", 7)

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, "WIN", res.MenuID)
	assert.Equal(t, []string{"You won!"}, textEffects(res.Effects))
}

func TestEngine_RunButtonInlineActionsThenNavigate(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [
			{"id": "M1", "text": "home", "buttons": [
				{"id": "b1", "text": "Go", "targetMenuId": "M2",
				 "actions": [
					{"id": "ia1", "order": 1, "type": "add_tag", "config": {"tag": "pressed"}},
					{"id": "ia2", "order": 0, "type": "modify_points", "config": {"operation": "add", "amount": 5}}
				 ]}
			]},
			{"id": "M2", "text": "there"}
		],
		"actionNodes": []
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)

	btn := def.Menu("M1").Button("b1")
	require.NotNil(t, btn)

	res, err := eng.RunButton(context.Background(), def, sess, engine.Profile{UserID: 7}, btn, nil)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeNavigated, res.Outcome)
	assert.Equal(t, "M2", res.MenuID)
	assert.True(t, sess.HasTag("pressed"))
	assert.Equal(t, float64(5), sess.Points)
}

func TestEngine_RunButtonInlineInputNavigatesAndSavesLater(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [
			{"id": "M1", "text": "home", "buttons": [
				{"id": "b1", "text": "Name", "targetMenuId": "M2",
				 "actions": [
					{"id": "ia1", "order": 0, "type": "request_input",
					 "config": {"prompt": "Your name?", "saveToField": "name"}}
				 ]}
			]},
			{"id": "M2", "text": "there"}
		],
		"actionNodes": []
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)

	btn := def.Menu("M1").Button("b1")
	require.NotNil(t, btn)

	res, err := eng.RunButton(context.Background(), def, sess, engine.Profile{UserID: 7}, btn, nil)
	require.NoError(t, err)

	// The button navigates right away; the transient node only leaves an
	// await marker behind.
	assert.Equal(t, engine.OutcomeNavigated, res.Outcome)
	assert.Equal(t, "M2", res.MenuID)
	require.NotNil(t, sess.Await)
	assert.Equal(t, "inline:ia1", sess.Await.NodeID)

	// The next message fills the field; the marker's node does not exist in
	// the graph, so nothing else runs.
	resumed, err := eng.Resume(context.Background(), def, sess, engine.Profile{UserID: 7}, "Ivan", nil)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeTerminated, resumed.Outcome)
	assert.Equal(t, "Ivan", sess.Var("name"))
	assert.Nil(t, sess.Await)
}

func TestEngine_UniformRandomIsFair(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [{"id": "M1", "text": "a"}, {"id": "M2", "text": "b"}],
		"actionNodes": [
			{"id": "A", "type": "random_result", "config": {"outcomeCount": 2},
			 "outcomes": [
				{"id": "o1", "target": {"targetId": "M1", "targetType": "menu"}},
				{"id": "o2", "target": {"targetId": "M2", "targetType": "menu"}}
			 ]}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{Random: engine.NewRand(1)})
	ctx := context.Background()

	const trials = 2000
	counts := map[string]int{}
	for i := 0; i < trials; i++ {
		sess := session.New("f1", 7)
		res, err := eng.Run(ctx, def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
		require.NoError(t, err)
		counts[res.MenuID]++
	}

	first := float64(counts["M1"]) / trials
	assert.InDelta(t, 0.5, first, 0.05)
}

func TestEngine_WeightedRandomMatchesWeights(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [{"id": "M1", "text": "rare"}, {"id": "M2", "text": "common"}],
		"actionNodes": [
			{"id": "A", "type": "weighted_random", "config": {},
			 "outcomes": [
				{"id": "o1", "weight": 10, "target": {"targetId": "M1", "targetType": "menu"}},
				{"id": "o2", "weight": 90, "target": {"targetId": "M2", "targetType": "menu"}}
			 ]}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{Random: engine.NewRand(7)})
	ctx := context.Background()

	const trials = 5000
	counts := map[string]int{}
	for i := 0; i < trials; i++ {
		sess := session.New("f1", 7)
		res, err := eng.Run(ctx, def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
		require.NoError(t, err)
		counts[res.MenuID]++
	}

	common := float64(counts["M2"]) / trials
	assert.InDelta(t, 0.9, common, 0.03)
}

func TestEngine_FireTriggerRunsFirstMatchingChain(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [{"id": "M1", "text": "welcome"}],
		"actionNodes": [
			{"id": "T", "type": "on_first_visit", "config": {},
			 "next": {"targetId": "A", "targetType": "action"}},
			{"id": "A", "type": "show_text", "config": {"text": "First time!"},
			 "next": {"targetId": "M1", "targetType": "menu"}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)

	res, err := eng.FireTrigger(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.TypeOnFirstVisit, nil)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeNavigated, res.Outcome)
	assert.Equal(t, []string{"First time!"}, textEffects(res.Effects))
}

func TestEngine_ThresholdTriggerFiresOnCrossing(t *testing.T) {
	flowJSON := `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "modify_points", "config": {"operation": "add", "amount": 120}},
			{"id": "T", "type": "on_threshold", "config": {"field": "points", "value": 100},
			 "next": {"targetId": "C", "targetType": "action"}},
			{"id": "C", "type": "show_text", "config": {"text": "Century club!"}}
		]
	}`

	t.Run("crossing from below runs the trigger chain", func(t *testing.T) {
		def := mustParse(t, flowJSON)
		eng := newTestEngine(t, engine.Deps{})
		sess := session.New("f1", 7)

		res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
		require.NoError(t, err)

		assert.Equal(t, []string{"Century club!"}, textEffects(res.Effects))
	})

	t.Run("staying above the threshold does not refire", func(t *testing.T) {
		def := mustParse(t, flowJSON)
		eng := newTestEngine(t, engine.Deps{})
		sess := session.New("f1", 7)
		sess.Points = 200

		res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
		require.NoError(t, err)

		assert.Empty(t, textEffects(res.Effects))
	})

	t.Run("other fields leave the watcher silent", func(t *testing.T) {
		def := mustParse(t, `{
			"id": "f1",
			"menus": [],
			"actionNodes": [
				{"id": "A", "type": "set_field", "config": {"field": "streak", "value": "500"}},
				{"id": "T", "type": "on_threshold", "config": {"field": "points", "value": 100},
				 "next": {"targetId": "C", "targetType": "action"}},
				{"id": "C", "type": "show_text", "config": {"text": "Century club!"}}
			]
		}`)
		eng := newTestEngine(t, engine.Deps{})
		sess := session.New("f1", 7)

		res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
		require.NoError(t, err)

		assert.Empty(t, textEffects(res.Effects))
	})
}

func TestEngine_ThresholdTriggerOnFieldMutation(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "change_field", "config": {"field": "xp", "delta": 30}},
			{"id": "T", "type": "on_threshold", "config": {"field": "xp", "value": 50},
			 "next": {"targetId": "C", "targetType": "action"}},
			{"id": "C", "type": "show_text", "config": {"text": "Level up!"}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)
	sess.SetVar("xp", "25")

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, "55", sess.Var("xp"))
	assert.Equal(t, []string{"Level up!"}, textEffects(res.Effects))
}

func TestEngine_TriggerChainNavigationWins(t *testing.T) {
	// A trigger chain that ends on a menu overrides the primary chain's
	// terminated disposition.
	def := mustParse(t, `{
		"id": "f1",
		"menus": [{"id": "M1", "text": "milestone"}],
		"actionNodes": [
			{"id": "A", "type": "modify_points", "config": {"operation": "set", "amount": 100}},
			{"id": "T", "type": "on_threshold", "config": {"field": "points", "value": 100},
			 "next": {"targetId": "M1", "targetType": "menu"}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeNavigated, res.Outcome)
	assert.Equal(t, "M1", res.MenuID)
}

func TestEngine_SinkReceivesEffectsInOrder(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "show_text", "config": {"text": "one"},
			 "next": {"targetId": "B", "targetType": "action"}},
			{"id": "B", "type": "show_text", "config": {"text": "two"}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)

	var collector engine.Collector
	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, &collector)
	require.NoError(t, err)

	assert.Equal(t, []string{"one", "two"}, textEffects(collector.Effects))
	assert.Equal(t, textEffects(res.Effects), textEffects(collector.Effects))
}
