package notification

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/notification/discord"
	"github.com/reclaimarr/reclaimarr/internal/notification/webhook"
)

// Factory creates Notifier instances from Config
type Factory struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewFactory creates a new notification factory
func NewFactory(timeout time.Duration, logger zerolog.Logger) *Factory {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Factory{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With().Str("component", "notification-factory").Logger(),
	}
}

// build creates every enabled notifier in cfg. A notifier with incomplete
// settings is an error so that a typo in the config fails at startup.
func (f *Factory) build(cfg Config) ([]*registration, error) {
	var regs []*registration

	if cfg.Discord.Enabled {
		if cfg.Discord.Settings.WebhookURL == "" {
			return nil, fmt.Errorf("%w: discord webhook_url is required", ErrInvalidSettings)
		}
		regs = append(regs, newRegistration(
			discord.New("discord", cfg.Discord.Settings, f.httpClient, f.logger),
			cfg.Discord.Events,
		))
	}

	if cfg.Webhook.Enabled {
		if cfg.Webhook.Settings.URL == "" {
			return nil, fmt.Errorf("%w: webhook url is required", ErrInvalidSettings)
		}
		regs = append(regs, newRegistration(
			webhook.New("webhook", cfg.Webhook.Settings, f.httpClient, f.logger),
			cfg.Webhook.Events,
		))
	}

	return regs, nil
}
