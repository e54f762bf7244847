package bot

import (
	"context"
	"runtime/debug"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// withRecovery runs handler. A panic is logged with the update it came from and
// the chat gets the generic error reply instead of silence.
func (b *Bot) withRecovery(ctx context.Context, update tgbotapi.Update, handler func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if b.metrics != nil {
			b.metrics.ErrorsTotal.Inc()
		}
		zerolog.Ctx(ctx).Error().
			Interface("panic", r).
			Int("update_id", update.UpdateID).
			Str("stack", string(debug.Stack())).
			Msg("Recovered from panic in update handler")

		if msg := update.Message; msg != nil && msg.Chat != nil {
			b.sendMessage(ctx, msg.Chat.ID, b.getErrorMessage(errPanic))
		}
	}()
	handler()
}
