// Package bot hosts the Telegram transport: it receives updates, routes
// them through the middleware chain, and drives flow executions via the
// flow service.
package bot

import (
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/flowbot-app/flowbot/internal/bot/keyboard"
	"github.com/flowbot-app/flowbot/internal/engine"
	appErrors "github.com/flowbot-app/flowbot/internal/errors"
	"github.com/flowbot-app/flowbot/internal/flow"
	"github.com/flowbot-app/flowbot/internal/session"
	"github.com/flowbot-app/flowbot/pkg/config"
	"github.com/flowbot-app/flowbot/pkg/redis"
)

const CommandStart = "/start"

// Bot wraps telebot.Bot with application dependencies required for handling updates.
type Bot struct {
	telebot    *telebot.Bot
	log        *slog.Logger
	cfg        config.Config
	router     *Router
	keyboard   *keyboard.Builder
	errHandler *appErrors.Handler
	service    *FlowService
}

// New builds a telegram bot instance configured according to the application settings.
func New(
	cfg config.Config,
	log *slog.Logger,
	registry *flow.Registry,
	store SessionStore,
	locker *session.Locker,
	eng *engine.Engine,
	redisClient *redis.Client,
	rateLimitMw *RateLimitMiddleware,
) (*Bot, error) {
	settings := telebot.Settings{
		Token: cfg.Bot.Token,
	}

	if cfg.Bot.Mode == "webhook" {
		settings.Poller = &telebot.Webhook{
			Listen:   cfg.Server.Port,
			Endpoint: &telebot.WebhookEndpoint{PublicURL: cfg.Bot.Webhook},
		}
	} else {
		settings.Poller = &telebot.LongPoller{
			Timeout: cfg.Bot.Timeout,
		}
	}

	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	kb := keyboard.NewBuilder(log)
	renderer := NewRenderer(tb, kb, cfg.Engine.DefaultParseMode, log)
	errHandler := appErrors.NewHandler(log, cfg.Sentry.Enabled)
	router := NewRouter(log)

	service := NewFlowService(
		registry,
		store,
		locker,
		eng,
		renderer,
		kb,
		tb,
		cfg.Flows.DefaultID,
		cfg.Engine.DefaultParseMode,
		log,
	)

	b := &Bot{
		telebot:    tb,
		log:        log,
		cfg:        cfg,
		router:     router,
		keyboard:   kb,
		errHandler: errHandler,
		service:    service,
	}

	b.setupRouter(redisClient, rateLimitMw)
	b.registerTelebotHandlers()

	return b, nil
}

// Start runs the telegram bot event loop.
func (b *Bot) Start() {
	if b.telebot != nil {
		b.telebot.Start()
	}
}

// Stop gracefully stops the telegram bot.
func (b *Bot) Stop() {
	if b.telebot == nil {
		return
	}

	if b.log != nil {
		b.log.Info("stopping telegram bot...")
	}

	b.telebot.Stop()
}

// Telebot exposes the underlying telebot.Bot instance for integrations such
// as job delivery and health checks.
func (b *Bot) Telebot() *telebot.Bot {
	return b.telebot
}

// Service exposes the flow service for job handlers.
func (b *Bot) Service() *FlowService {
	return b.service
}

func (b *Bot) setupRouter(redisClient *redis.Client, rateLimitMw *RateLimitMiddleware) {
	if b.router == nil {
		return
	}

	b.router.Use(RecoveryMiddleware(b.log, b.errHandler))
	b.router.Use(DedupMiddleware(redisClient, b.log))
	b.router.Use(ErrorHandlingMiddleware(b.errHandler))
	b.router.Use(LoggingMiddleware(b.log))
	if rateLimitMw != nil {
		b.router.Use(rateLimitMw.Handle)
	}
	b.router.Use(MetricsMiddleware)

	b.router.RegisterCommand(CommandStart, b.service.HandleStart)
	b.router.RegisterCallback(keyboard.CallbackPrefix+":", b.service.HandleCallback)
	b.router.SetDefault(b.service.HandleText)
}

func (b *Bot) registerTelebotHandlers() {
	if b.telebot == nil || b.router == nil {
		return
	}

	b.telebot.Handle(telebot.OnText, b.router.Route)
	b.telebot.Handle(telebot.OnCallback, b.router.Route)
}
