package notification

import (
	"context"
	"fmt"
	"log"
)

// MessageSender posts a text message to a Telegram chat.
// *telegram.Client satisfies it.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// TelegramNotifier sends alerts to the operator's private chat.
type TelegramNotifier struct {
	sender MessageSender
	chatID int64
}

// NewTelegramNotifier creates a Telegram notifier for the given operator chat.
func NewTelegramNotifier(sender MessageSender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, chatID: chatID}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	emoji := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}

	text := fmt.Sprintf("%s %s\n\n%s", emoji, alert.Title, alert.Message)
	if err := t.sender.SendMessage(ctx, t.chatID, text); err != nil {
		return fmt.Errorf("telegram alert: %w", err)
	}

	log.Printf("[telegram] sent alert: %s", alert.Title)
	return nil
}
