package notify

import (
	"github.com/rs/zerolog"

	"credit-reset/internal/clock"
	"credit-reset/internal/config"
	"credit-reset/internal/infra/i18n"
)

// FromConfig builds a Manager over every enabled channel. A channel that cannot be
// constructed is logged and left out; notifications are best effort.
func FromConfig(cfg config.NotifyConfig, clk clock.Clock, logger *zerolog.Logger) *Manager {
	var channels []Channel

	tr, err := i18n.Load(cfg.Language)
	if err != nil {
		logger.Warn().Err(err).Str("language", cfg.Language).Msg("unknown notification language, using english")
		tr = i18n.English()
	}

	if cfg.Telegram.Enabled {
		tg, err := NewTelegramNotifier(TelegramOptions{
			BotToken:   cfg.Telegram.BotToken,
			ChatID:     cfg.Telegram.ChatID,
			Timeout:    cfg.Timeout,
			Translator: tr,
		}, logger)
		if err != nil {
			logger.Error().Err(err).Msg("telegram notifier disabled")
		} else {
			channels = append(channels, tg)
		}
	}
	if cfg.WeCom.Enabled {
		wc, err := NewWeComNotifier(cfg.WeCom.WebhookURL, cfg.Timeout, tr, logger)
		if err != nil {
			logger.Error().Err(err).Msg("wecom notifier disabled")
		} else {
			channels = append(channels, wc)
		}
	}
	if cfg.LocalFile.Enabled {
		lf, err := NewLocalFileNotifier(cfg.LocalFile.Dir, tr, clk, logger)
		if err != nil {
			logger.Error().Err(err).Msg("local file notifier disabled")
		} else {
			channels = append(channels, lf)
		}
	}
	if len(channels) == 0 {
		logger.Warn().Msg("no notification channel enabled")
	}
	return NewManager(channels, cfg.Timeout, clk, logger)
}
