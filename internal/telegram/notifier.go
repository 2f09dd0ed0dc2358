package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cmorley/perp-agent/internal/config"
	"github.com/cmorley/perp-agent/internal/logger"
)

type Notifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	enabled bool
	logger  *logger.Logger
}

func NewNotifier(cfg *config.Config, log *logger.Logger) *Notifier {
	if !cfg.Telegram.Enabled {
		return &Notifier{enabled: false, logger: log}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Error("failed to create telegram bot", "error", err)
		return &Notifier{enabled: false, logger: log}
	}

	log.Info("telegram bot connected", "username", bot.Self.UserName)

	return &Notifier{
		bot:     bot,
		chatID:  cfg.Telegram.ChatID,
		enabled: true,
		logger:  log,
	}
}

func (n *Notifier) NotifyTrade(asset, action string, allocationUSD, quantity, price float64) {
	emoji := "🟢"
	if action == "sell" {
		emoji = "🔴"
	}
	msg := fmt.Sprintf("%s *%s* %s\nNotional: $%.2f\nSize: %g\nPrice: %.4f",
		emoji, action, asset, allocationUSD, quantity, price)
	n.send(msg)
}

func (n *Notifier) NotifyClose(asset, reason string, pnl float64) {
	emoji := "🔴"
	if pnl > 0 {
		emoji = "💰"
	}
	msg := fmt.Sprintf("%s *CLOSE* %s\nReason: %s\nP&L: $%.2f", emoji, asset, reason, pnl)
	n.send(msg)
}

func (n *Notifier) NotifyHalt(reason string) {
	n.send(fmt.Sprintf("🛑 *Trading halted*\n%s", reason))
}

func (n *Notifier) NotifyError(context string, err error) {
	msg := fmt.Sprintf("⚠️ *Error* [%s]\n%v", context, err)
	n.send(msg)
}

func (n *Notifier) NotifyStatus(message string) {
	n.send(message)
}

func (n *Notifier) send(text string) {
	if !n.enabled {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("send telegram message", "error", err)
	}
}
