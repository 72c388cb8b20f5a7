package bot

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/flowbot-app/flowbot/internal/bot/keyboard"
	"github.com/flowbot-app/flowbot/internal/engine"
	"github.com/flowbot-app/flowbot/internal/flow"
	"github.com/flowbot-app/flowbot/internal/session"
)

// SessionStore is the persistence surface the flow service needs.
type SessionStore interface {
	Load(ctx context.Context, flowID string, userID int64) (*session.Session, error)
	Save(ctx context.Context, sess *session.Session) error
	UsersByTag(ctx context.Context, flowID, tag string) ([]int64, error)
}

// FlowService drives flow executions for incoming Telegram updates and
// background jobs: it owns the lock-load-run-save-render sequence around
// every chain walk.
type FlowService struct {
	registry  *flow.Registry
	store     SessionStore
	locker    *session.Locker
	engine    *engine.Engine
	renderer  *Renderer
	keyboard  *keyboard.Builder
	bot       *telebot.Bot
	flowID    string
	parseMode string
	log       *slog.Logger
}

// NewFlowService wires the service from its collaborators.
func NewFlowService(
	registry *flow.Registry,
	store SessionStore,
	locker *session.Locker,
	eng *engine.Engine,
	renderer *Renderer,
	kb *keyboard.Builder,
	bot *telebot.Bot,
	defaultFlowID string,
	parseMode string,
	log *slog.Logger,
) *FlowService {
	if log == nil {
		log = slog.Default()
	}

	return &FlowService{
		registry:  registry,
		store:     store,
		locker:    locker,
		engine:    eng,
		renderer:  renderer,
		keyboard:  kb,
		bot:       bot,
		flowID:    defaultFlowID,
		parseMode: parseMode,
		log:       log,
	}
}

// HandleStart resets the conversation: any pending input wait is cancelled
// (its generation bumps, so scheduled timeouts become no-ops) and the root
// menu is rendered. First visits additionally fire the first-visit triggers.
func (s *FlowService) HandleStart(c telebot.Context) error {
	ctx := context.Background()
	profile := profileFromContext(c)

	def, err := s.registry.Get(s.flowID)
	if err != nil {
		return fmt.Errorf("resolve flow: %w", err)
	}

	if err := s.locker.Acquire(ctx, def.ID, profile.UserID); err != nil {
		return s.handleLocked(c, err)
	}
	defer s.locker.Release(ctx, def.ID, profile.UserID)

	sess, err := s.store.Load(ctx, def.ID, profile.UserID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	sess.EndAwait()

	root := def.RootMenu()
	if root == nil {
		s.log.Error("flow has no menus", slog.String("flow_id", def.ID))
		return c.Send("This bot is not configured yet.")
	}
	sess.CurrentMenuID = root.ID

	sink := s.sinkFor(c.Sender())

	if sess.FirstVisit {
		res, err := s.engine.FireTrigger(ctx, def, sess, profile, flow.TypeOnFirstVisit, sink)
		if err != nil {
			return err
		}
		if res.Outcome == engine.OutcomeNavigated {
			sess.CurrentMenuID = res.MenuID
		}
	}

	if err := s.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return s.renderer.SendMenu(c.Sender(), def, sess.CurrentMenuID, s.engine.UserContext(sess, profile))
}

// HandleCallback executes a menu button press.
func (s *FlowService) HandleCallback(c telebot.Context) error {
	callback := c.Callback()
	if callback == nil {
		return nil
	}

	menuID, buttonID, ok := keyboard.DecodeButton(callback.Data)
	if !ok {
		s.log.Debug("unrecognized callback data", slog.String("data", callback.Data))
		return c.Respond()
	}

	ctx := context.Background()
	profile := profileFromContext(c)

	def, err := s.registry.Get(s.flowID)
	if err != nil {
		return fmt.Errorf("resolve flow: %w", err)
	}

	menu := def.Menu(menuID)
	if menu == nil {
		// The flow was edited after this keyboard was sent.
		return c.Respond(&telebot.CallbackResponse{Text: "This menu is no longer available."})
	}

	btn := menu.Button(buttonID)
	if btn == nil {
		return c.Respond(&telebot.CallbackResponse{Text: "This button is no longer available."})
	}

	if err := s.locker.Acquire(ctx, def.ID, profile.UserID); err != nil {
		return s.handleLocked(c, err)
	}
	defer s.locker.Release(ctx, def.ID, profile.UserID)

	sess, err := s.store.Load(ctx, def.ID, profile.UserID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	// A button press while awaiting input abandons the wait.
	sess.EndAwait()

	res, err := s.engine.RunButton(ctx, def, sess, profile, btn, s.sinkFor(c.Sender()))
	if err != nil {
		return err
	}

	if err := s.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	if err := c.Respond(); err != nil {
		s.log.Debug("callback respond failed", slog.Any("error", err))
	}

	return s.renderAfter(c.Sender(), def, sess, profile, res)
}

// HandleText routes a plain message: it resumes a pending input wait, or
// re-renders the current menu when nothing is awaited.
func (s *FlowService) HandleText(c telebot.Context) error {
	ctx := context.Background()
	profile := profileFromContext(c)

	def, err := s.registry.Get(s.flowID)
	if err != nil {
		return fmt.Errorf("resolve flow: %w", err)
	}

	if err := s.locker.Acquire(ctx, def.ID, profile.UserID); err != nil {
		return s.handleLocked(c, err)
	}
	defer s.locker.Release(ctx, def.ID, profile.UserID)

	sess, err := s.store.Load(ctx, def.ID, profile.UserID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	if sess.Await != nil {
		res, err := s.engine.Resume(ctx, def, sess, profile, c.Text(), s.sinkFor(c.Sender()))
		if err != nil && !stdErrors.Is(err, engine.ErrNotAwaiting) {
			return err
		}

		if err := s.store.Save(ctx, sess); err != nil {
			return fmt.Errorf("save session: %w", err)
		}

		return s.renderAfter(c.Sender(), def, sess, profile, res)
	}

	menuID := sess.CurrentMenuID
	if menuID == "" {
		root := def.RootMenu()
		if root == nil {
			return nil
		}
		menuID = root.ID
		sess.CurrentMenuID = menuID
	}

	if err := s.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return s.renderer.SendMenu(c.Sender(), def, menuID, s.engine.UserContext(sess, profile))
}

// SendText delivers a plain message to a user chat. Background jobs use it
// for scheduled messages and broadcast fan-out.
func (s *FlowService) SendText(ctx context.Context, userID int64, text string) error {
	if _, err := s.bot.Send(telebot.ChatID(userID), text, &telebot.SendOptions{ParseMode: s.parseMode}); err != nil {
		return fmt.Errorf("send text to %d: %w", userID, err)
	}
	return nil
}

// UsersByTag exposes broadcast audience resolution to the job handlers.
func (s *FlowService) UsersByTag(ctx context.Context, flowID, tag string) ([]int64, error) {
	return s.store.UsersByTag(ctx, flowID, tag)
}

// ExpireWait runs the timeout branch of a suspended wait node. A stale
// generation means the wait was already answered and the call is a no-op.
func (s *FlowService) ExpireWait(ctx context.Context, flowID string, userID int64, nodeID string, generation int64) error {
	def, err := s.registry.Get(flowID)
	if err != nil {
		return fmt.Errorf("resolve flow: %w", err)
	}

	if err := s.locker.Acquire(ctx, flowID, userID); err != nil {
		// The user is mid-chain right now; the wait either resolves or the
		// rescheduled timeout fires later.
		if stdErrors.Is(err, session.ErrSessionLocked) {
			return nil
		}
		return err
	}
	defer s.locker.Release(ctx, flowID, userID)

	sess, err := s.store.Load(ctx, flowID, userID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	profile := engine.Profile{UserID: userID}
	res, err := s.engine.ExpireWait(ctx, def, sess, profile, nodeID, generation, s.sinkFor(telebot.ChatID(userID)))
	if err != nil {
		return err
	}

	if err := s.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return s.renderAfter(telebot.ChatID(userID), def, sess, profile, res)
}

// FireTimerTrigger runs a timer trigger chain for every session of the flow.
func (s *FlowService) FireTimerTrigger(ctx context.Context, flowID, nodeID string) error {
	def, err := s.registry.Get(flowID)
	if err != nil {
		return fmt.Errorf("resolve flow: %w", err)
	}

	node := def.Node(nodeID)
	if node == nil || node.Next == nil {
		return nil
	}

	ids, err := s.store.UsersByTag(ctx, flowID, "")
	if err != nil {
		return fmt.Errorf("list trigger recipients: %w", err)
	}

	start := flow.Ref{ID: node.Next.TargetID, Kind: node.Next.Kind}

	for _, userID := range ids {
		if err := s.fireTriggerFor(ctx, def, userID, start); err != nil {
			s.log.Warn("timer trigger run failed",
				slog.String("flow_id", flowID),
				slog.Int64("user_id", userID),
				slog.Any("error", err))
		}
	}

	return nil
}

func (s *FlowService) fireTriggerFor(ctx context.Context, def *flow.Definition, userID int64, start flow.Ref) error {
	if err := s.locker.Acquire(ctx, def.ID, userID); err != nil {
		if stdErrors.Is(err, session.ErrSessionLocked) {
			return nil
		}
		return err
	}
	defer s.locker.Release(ctx, def.ID, userID)

	sess, err := s.store.Load(ctx, def.ID, userID)
	if err != nil {
		return err
	}

	// Never interrupt a user who is typing an answer.
	if sess.Await != nil {
		return nil
	}

	profile := engine.Profile{UserID: userID}
	res, err := s.engine.Run(ctx, def, sess, profile, start, s.sinkFor(telebot.ChatID(userID)))
	if err != nil {
		return err
	}

	if err := s.store.Save(ctx, sess); err != nil {
		return err
	}

	return s.renderAfter(telebot.ChatID(userID), def, sess, profile, res)
}

// renderAfter completes a chain walk on the chat side: navigation renders
// the destination menu; awaiting and terminated chains already said
// everything through effects.
func (s *FlowService) renderAfter(recipient telebot.Recipient, def *flow.Definition, sess *session.Session, profile engine.Profile, res *engine.Result) error {
	if res == nil || res.Outcome != engine.OutcomeNavigated {
		return nil
	}

	return s.renderer.SendMenu(recipient, def, res.MenuID, s.engine.UserContext(sess, profile))
}

func (s *FlowService) sinkFor(recipient telebot.Recipient) engine.Sink {
	return NewTelegramSink(s.bot, recipient, s.keyboard, s.parseMode, s.log)
}

// handleLocked answers an update that arrived while another chain walk for
// the same user is still running. The update is dropped, not queued.
func (s *FlowService) handleLocked(c telebot.Context, err error) error {
	if !stdErrors.Is(err, session.ErrSessionLocked) {
		return err
	}

	if callback := c.Callback(); callback != nil {
		return c.Respond(&telebot.CallbackResponse{Text: "⏳"})
	}

	return nil
}

func profileFromContext(c telebot.Context) engine.Profile {
	sender := c.Sender()
	if sender == nil {
		return engine.Profile{}
	}

	return engine.Profile{
		UserID:    sender.ID,
		FirstName: sender.FirstName,
		LastName:  sender.LastName,
		Username:  sender.Username,
	}
}
