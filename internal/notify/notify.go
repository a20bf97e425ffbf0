package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"forwarder/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// MessageSender is the slice of the Telegram API the notifier needs.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier pushes operator notices to a fixed list of admin chats
// through a dedicated notification bot.
type TelegramNotifier struct {
	api    MessageSender
	admins []int64
	logger *zerolog.Logger
}

func NewTelegramNotifier(api MessageSender, admins []int64, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{api: api, admins: admins, logger: logger}
}

// NotifyAdmins delivers the text to every configured admin. Delivery is
// best effort; a dead admin chat must not affect the engine.
func (n *TelegramNotifier) NotifyAdmins(ctx context.Context, text string) {
	if n == nil || n.api == nil {
		return
	}
	for _, adminID := range n.admins {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg := tgbotapi.NewMessage(adminID, text)
		if _, err := n.api.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("admin_id", adminID).Msg("notify: send error")
		}
	}
}

// WatchFailures subscribes the notifier to terminal task failures and
// bulk operation results.
func (n *TelegramNotifier) WatchFailures(ctx context.Context, bus *events.EventBus) {
	bus.Subscribe(events.EventTaskFailed, func(event *events.Event) error {
		var payload events.TaskEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		// Задача с notify_on_failure=false попадает только в журнал.
		if !payload.Notify {
			return nil
		}
		n.NotifyAdmins(ctx, formatTaskFailure(payload))
		return nil
	})

	bus.Subscribe(events.EventBulkApplied, func(event *events.Event) error {
		var payload events.BulkEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		if payload.Skipped == 0 {
			return nil
		}
		n.NotifyAdmins(ctx, formatBulkSkips(payload))
		return nil
	})
}

func formatTaskFailure(p events.TaskEventPayload) string {
	name := p.TaskName
	if name == "" {
		name = fmt.Sprintf("#%d", p.TaskID)
	}
	return fmt.Sprintf("⚠️ Задача %s (клиент %s) переведена в failed.\nЮзербот: %s\nПричина: %s\nПопыток за запуск: %d",
		name, p.ClientID, p.UserbotPhone, p.Reason, p.Attempts)
}

func formatBulkSkips(p events.BulkEventPayload) string {
	return fmt.Sprintf("Массовая операция %s: применено %d, пропущено %d (задачи выполнялись в момент операции).",
		p.Action, p.Affected, p.Skipped)
}
