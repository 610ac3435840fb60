package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/adapter"
	"credit-reset/internal/infra/i18n"
)

// telegramMaxRunes is the Bot API message size limit.
const telegramMaxRunes = 4096

type TelegramOptions struct {
	BotToken string
	ChatID   int64
	Timeout  time.Duration
	// Endpoint overrides tgbotapi.APIEndpoint; tests point it at a local server.
	Endpoint string
	// Translator defaults to English.
	Translator *i18n.Translator
}

// TelegramNotifier posts HTML formatted reports to one chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	tr     *i18n.Translator
	log    *zerolog.Logger
}

var _ Channel = (*TelegramNotifier)(nil)

func NewTelegramNotifier(opts TelegramOptions, logger *zerolog.Logger) (*TelegramNotifier, error) {
	if opts.BotToken == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	if opts.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.BotToken, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: connect bot: %w", err)
	}
	tr := opts.Translator
	if tr == nil {
		tr = i18n.English()
	}
	l := logger.With().Str("component", "TelegramNotifier").Logger()
	l.Info().Str("bot", bot.Self.UserName).Int64("chat_id", opts.ChatID).Msg("telegram notifier ready")
	return &TelegramNotifier{bot: bot, chatID: opts.ChatID, tr: tr, log: &l}, nil
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) SendReport(ctx context.Context, r *model.RunSummary) error {
	return t.send(ctx, renderReport(r, telegramHTML{}, t.tr))
}

func (t *TelegramNotifier) SendStartup(ctx context.Context, rep *adapter.StartupReport, at time.Time) error {
	return t.send(ctx, renderStartup(rep, at, telegramHTML{}, t.tr))
}

func (t *TelegramNotifier) send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, truncateRunes(text, telegramMaxRunes))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}
