package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbot-app/flowbot/internal/engine"
	"github.com/flowbot-app/flowbot/internal/flow"
	"github.com/flowbot-app/flowbot/internal/session"
)

type recordingMessenger struct {
	notifications []string
	scheduled     []string
	broadcasts    []string
	waitTimeouts  []int64
}

func (m *recordingMessenger) Notify(_ context.Context, text string) error {
	m.notifications = append(m.notifications, text)
	return nil
}

func (m *recordingMessenger) ScheduleMessage(_ context.Context, _ string, _ int64, text string, _ time.Duration) error {
	m.scheduled = append(m.scheduled, text)
	return nil
}

func (m *recordingMessenger) Broadcast(_ context.Context, _, _, text string) error {
	m.broadcasts = append(m.broadcasts, text)
	return nil
}

func (m *recordingMessenger) ScheduleWaitTimeout(_ context.Context, _ string, _ int64, _ string, generation int64, _ time.Duration) error {
	m.waitTimeouts = append(m.waitTimeouts, generation)
	return nil
}

type stubPayments struct {
	err     error
	charged []float64
}

func (p *stubPayments) Charge(_ context.Context, _ int64, amount float64, _ string) error {
	if p.err != nil {
		return p.err
	}
	p.charged = append(p.charged, amount)
	return nil
}

type stubLeaderboard struct {
	scores []engine.Score
}

func (l *stubLeaderboard) TopScores(_ context.Context, _ string, limit int) ([]engine.Score, error) {
	if limit < len(l.scores) {
		return l.scores[:limit], nil
	}
	return l.scores, nil
}

func TestEngine_FieldNodes(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "set_field", "config": {"field": "city", "value": "Riga"},
			 "next": {"targetId": "B", "targetType": "action"}},
			{"id": "B", "type": "change_field", "config": {"field": "visits", "delta": 2},
			 "next": {"targetId": "C", "targetType": "action"}},
			{"id": "C", "type": "clear_field", "config": {"field": "city"}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)

	_, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Empty(t, sess.Var("city"))
	assert.Equal(t, "2", sess.Var("visits"))
}

func TestEngine_MessagingNodes(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "send_notification", "config": {"text": "order from {first_name}"},
			 "next": {"targetId": "B", "targetType": "action"}},
			{"id": "B", "type": "schedule_message", "config": {"text": "reminder", "delaySec": 60},
			 "next": {"targetId": "C", "targetType": "action"}},
			{"id": "C", "type": "broadcast", "config": {"text": "sale!", "tag": "VIP"}}
		]
	}`)

	messenger := &recordingMessenger{}
	eng := newTestEngine(t, engine.Deps{Messenger: messenger})
	sess := session.New("f1", 7)

	_, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7, FirstName: "Ivan"}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"order from Ivan"}, messenger.notifications)
	assert.Equal(t, []string{"reminder"}, messenger.scheduled)
	assert.Equal(t, []string{"sale!"}, messenger.broadcasts)
}

func TestEngine_MessagingNodesWithoutMessengerAreNoOps(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [{"id": "M1", "text": "done"}],
		"actionNodes": [
			{"id": "A", "type": "send_notification", "config": {"text": "hello"},
			 "next": {"targetId": "M1", "targetType": "menu"}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeNavigated, res.Outcome)
}

func TestEngine_NavigateMenuNode(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [{"id": "M1", "text": "target"}],
		"actionNodes": [
			{"id": "A", "type": "navigate_menu", "config": {"menuId": "M1"}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeNavigated, res.Outcome)
	assert.Equal(t, "M1", res.MenuID)
}

func TestEngine_OpenURLAndTypingEffects(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "typing", "config": {"seconds": 2},
			 "next": {"targetId": "B", "targetType": "action"}},
			{"id": "B", "type": "open_url", "config": {"url": "https://example.com", "label": "Open"}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	require.Len(t, res.Effects, 2)
	typing, ok := res.Effects[0].(engine.ShowTyping)
	require.True(t, ok)
	assert.Equal(t, 2, typing.Seconds)

	link, ok := res.Effects[1].(engine.OpenURL)
	require.True(t, ok)
	assert.Equal(t, "https://example.com", link.URL)
	assert.Equal(t, "Open", link.Label)
}

func TestEngine_ProcessPayment(t *testing.T) {
	flowJSON := `{
		"id": "f1",
		"menus": [{"id": "PAID", "text": "thanks"}, {"id": "FAILED", "text": "declined"}],
		"actionNodes": [
			{"id": "A", "type": "process_payment",
			 "config": {"currency": "EUR", "failTargetId": "FAILED"},
			 "next": {"targetId": "PAID", "targetType": "menu"}}
		]
	}`

	t.Run("successful charge clears the cart", func(t *testing.T) {
		def := mustParse(t, flowJSON)
		payments := &stubPayments{}
		eng := newTestEngine(t, engine.Deps{Payments: payments})
		sess := session.New("f1", 7)
		sess.CartAdd("stickers", 2, 10)

		res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
		require.NoError(t, err)

		assert.Equal(t, "PAID", res.MenuID)
		assert.Equal(t, []float64{20}, payments.charged)
		assert.Empty(t, sess.Cart)
	})

	t.Run("declined charge routes the fail branch", func(t *testing.T) {
		def := mustParse(t, flowJSON)
		payments := &stubPayments{err: errors.New("card declined")}
		eng := newTestEngine(t, engine.Deps{Payments: payments})
		sess := session.New("f1", 7)
		sess.CartAdd("stickers", 1, 10)

		res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
		require.NoError(t, err)

		assert.Equal(t, "FAILED", res.MenuID)
		assert.Len(t, sess.Cart, 1)
	})

	t.Run("empty cart routes the fail branch", func(t *testing.T) {
		def := mustParse(t, flowJSON)
		eng := newTestEngine(t, engine.Deps{Payments: &stubPayments{}})
		sess := session.New("f1", 7)

		res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
		require.NoError(t, err)

		assert.Equal(t, "FAILED", res.MenuID)
	})
}

func TestEngine_PaymentSuccessRunsTriggerChain(t *testing.T) {
	flowJSON := `{
		"id": "f1",
		"menus": [{"id": "PAID", "text": "receipt"}, {"id": "FAILED", "text": "declined"}],
		"actionNodes": [
			{"id": "A", "type": "process_payment",
			 "config": {"currency": "EUR", "failTargetId": "FAILED"},
			 "next": {"targetId": "PAID", "targetType": "menu"}},
			{"id": "T", "type": "on_payment_success", "config": {},
			 "next": {"targetId": "B", "targetType": "action"}},
			{"id": "B", "type": "show_text", "config": {"text": "Thanks for your purchase!"}}
		]
	}`

	t.Run("charge accepted", func(t *testing.T) {
		def := mustParse(t, flowJSON)
		eng := newTestEngine(t, engine.Deps{Payments: &stubPayments{}})
		sess := session.New("f1", 7)
		sess.CartAdd("stickers", 1, 10)

		res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
		require.NoError(t, err)

		assert.Equal(t, "PAID", res.MenuID)
		assert.Equal(t, []string{"Thanks for your purchase!"}, textEffects(res.Effects))
	})

	t.Run("declined charge stays quiet", func(t *testing.T) {
		def := mustParse(t, flowJSON)
		eng := newTestEngine(t, engine.Deps{Payments: &stubPayments{err: errors.New("card declined")}})
		sess := session.New("f1", 7)
		sess.CartAdd("stickers", 1, 10)

		res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
		require.NoError(t, err)

		assert.Equal(t, "FAILED", res.MenuID)
		assert.Empty(t, textEffects(res.Effects))
	})
}

func TestEngine_LeaderboardNode(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "leaderboard", "config": {"limit": 2}}
		]
	}`)

	board := &stubLeaderboard{scores: []engine.Score{
		{UserID: 1, Points: 120},
		{UserID: 2, Points: 90},
		{UserID: 3, Points: 10},
	}}

	eng := newTestEngine(t, engine.Deps{Leaderboard: board})
	sess := session.New("f1", 7)

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	texts := textEffects(res.Effects)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "1. 1")
	assert.NotContains(t, texts[0], "3. 3")
}

func TestEngine_AppendToListNode(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "append_to_list", "config": {"field": "colors", "value": "red", "unique": true},
			 "next": {"targetId": "A2", "targetType": "action"}},
			{"id": "A2", "type": "append_to_list", "config": {"field": "colors", "value": "red", "unique": true}}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)

	_, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "A", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, "red", sess.Var("colors"))
}

func TestEngine_QuizScoresStoredAnswers(t *testing.T) {
	def := mustParse(t, `{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "Q", "type": "quiz",
			 "config": {
				"saveScoreTo": "score",
				"questions": [
					{"text": "2+2?", "answer": "4", "points": 10},
					{"text": "Capital of France?", "answer": "Paris", "points": 5}
				]
			 }}
		]
	}`)

	eng := newTestEngine(t, engine.Deps{})
	sess := session.New("f1", 7)
	sess.SetVar("quiz.Q.answer_1", "4")
	sess.SetVar("quiz.Q.answer_2", "london")

	res, err := eng.Run(context.Background(), def, sess, engine.Profile{UserID: 7}, flow.Ref{ID: "Q", Kind: flow.TargetAction}, nil)
	require.NoError(t, err)

	assert.Equal(t, "10", sess.Var("score"))
	assert.Len(t, textEffects(res.Effects), 2)
}
