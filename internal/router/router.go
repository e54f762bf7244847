package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"prenotazioni/internal/domain"
	"prenotazioni/internal/metrics"
	"prenotazioni/internal/models"

	"github.com/rs/zerolog"
)

const (
	cmdBook     = "/prenota"
	cmdCancel   = "/annulla"
	cmdReset    = "/reset"
	cmdStart    = "/start"
	cmdHelp     = "/aiuto"
	cmdHelpEn   = "/help"
	helpMessage = "👋 Benvenuto!\n\n" +
		"/prenota <nome struttura> - inizia una prenotazione\n" +
		"/prenota - elenco delle strutture\n" +
		"/annulla - annulla la prenotazione in corso\n" +
		"/aiuto - mostra questo messaggio"
)

type Config struct {
	IntentPhrases    []string
	AssistantTimeout time.Duration
}

// Router decides which part of the system answers an inbound message.
type Router struct {
	engine    domain.ConversationEngine
	assistant domain.Assistant
	phrases   []string
	timeout   time.Duration
	logger    *zerolog.Logger
}

func New(engine domain.ConversationEngine, assistant domain.Assistant, cfg Config, logger *zerolog.Logger) *Router {
	phrases := make([]string, 0, len(cfg.IntentPhrases))
	for _, p := range cfg.IntentPhrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			phrases = append(phrases, p)
		}
	}
	timeout := cfg.AssistantTimeout
	if timeout <= 0 {
		timeout = time.Duration(models.DefaultAssistantTimeoutSeconds) * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Router{
		engine:    engine,
		assistant: assistant,
		phrases:   phrases,
		timeout:   timeout,
		logger:    logger,
	}
}

// Route answers msg. Commands win over an active dialogue, the dialogue wins
// over intent detection, and the assistant gets whatever is left.
func (r *Router) Route(ctx context.Context, msg models.InboundMessage) (models.Reply, error) {
	reply, err := r.route(ctx, msg)
	if err != nil {
		return models.Reply{}, err
	}
	metrics.IncMessage(string(reply.Route))
	return reply, nil
}

func (r *Router) route(ctx context.Context, msg models.InboundMessage) (models.Reply, error) {
	text := strings.TrimSpace(msg.Text)
	command, args := splitCommand(text)

	switch command {
	case cmdCancel, cmdReset:
		reply, err := r.engine.Reset(ctx, msg.UserID)
		return withRoute(reply, models.RouteReset), err
	case cmdStart, cmdHelp, cmdHelpEn:
		return models.Reply{Text: helpMessage, Route: models.RouteHelp}, nil
	case cmdBook:
		var reply models.Reply
		var err error
		if args == "" {
			reply, err = r.engine.Catalog(ctx)
		} else {
			reply, err = r.engine.Start(ctx, msg.UserID, msg.DisplayName, args)
		}
		if err != nil {
			return models.Reply{}, fmt.Errorf("failed to start booking: %w", err)
		}
		return withRoute(reply, models.RouteCommand), nil
	}

	active, err := r.engine.Active(ctx, msg.UserID)
	if err != nil {
		return models.Reply{}, err
	}
	if active {
		reply, err := r.engine.Advance(ctx, msg.UserID, text)
		if err != nil {
			return models.Reply{}, fmt.Errorf("failed to advance booking: %w", err)
		}
		return withRoute(reply, models.RouteSession), nil
	}

	if r.hasBookingIntent(text) {
		reply, err := r.engine.Catalog(ctx)
		if err != nil {
			return models.Reply{}, err
		}
		return withRoute(reply, models.RouteIntent), nil
	}

	return r.ask(ctx, msg.UserID, text), nil
}

func (r *Router) ask(ctx context.Context, userID, text string) models.Reply {
	fallback := models.Reply{Text: helpMessage, Route: models.RouteHelp, Step: models.StepIdle}
	if r.assistant == nil {
		return fallback
	}

	askCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	answer, err := r.assistant.Answer(askCtx, userID, text)
	if err != nil || strings.TrimSpace(answer) == "" {
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("Assistant unavailable")
		}
		return fallback
	}
	return models.Reply{Text: answer, Route: models.RouteAssistant, Step: models.StepIdle}
}

func (r *Router) hasBookingIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range r.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// splitCommand returns the lowercased command and its trimmed argument.
// Text that is not a command yields an empty command. "/prenota@MyBot x"
// is treated as "/prenota x".
func splitCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	command, args, _ := strings.Cut(text, " ")
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	return strings.ToLower(command), strings.TrimSpace(args)
}

func withRoute(reply models.Reply, route models.Route) models.Reply {
	reply.Route = route
	return reply
}
