package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/teams-extractor/internal/models"
)

// Notifier announces the outcome of an extraction run.
type Notifier interface {
	RunComplete(result models.ExtractionResult) error
}

// TelegramNotifier posts run summaries to a Telegram chat.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

func NewTelegramNotifier(token string, chatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}
	return &TelegramNotifier{
		api:    api,
		chatID: chatID,
		logger: logger,
	}, nil
}

func (n *TelegramNotifier) RunComplete(result models.ExtractionResult) error {
	stats := result.Statistics()

	var b strings.Builder
	fmt.Fprintf(&b, "Teams extraction run %s finished\n", result.RunID)
	fmt.Fprintf(&b, "Messages: %d (%d threads)\n", stats.TotalMessages, stats.Threads)
	fmt.Fprintf(&b, "Authors: %d, channels: %d, teams: %d\n", stats.Authors, stats.Channels, stats.Teams)
	fmt.Fprintf(&b, "Duration: %.1fs", stats.DurationSeconds)
	if stats.Errors > 0 {
		fmt.Fprintf(&b, "\nErrors: %d", stats.Errors)
		for _, e := range result.Errors {
			fmt.Fprintf(&b, "\n- %s", e)
		}
	}

	msg := tgbotapi.NewMessage(n.chatID, b.String())
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Error("failed to send run notification",
			zap.Error(err),
			zap.Int64("chat_id", n.chatID))
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}
