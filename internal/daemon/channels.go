package daemon

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/standup/internal/config"
	"github.com/harun/standup/internal/telegram"
	"github.com/harun/standup/pkg/channels"
	"github.com/harun/standup/pkg/chat"
	"github.com/harun/standup/pkg/connector"
	"github.com/harun/standup/pkg/dispatch"
	"github.com/harun/standup/pkg/ingress"
	"github.com/harun/standup/pkg/notify"
	"github.com/harun/standup/pkg/roster"
	"github.com/harun/standup/pkg/scrum"
	"github.com/harun/standup/pkg/view"
)

// stack is the per-channel chain from transport to dispatcher. Channels
// share the session store and the turn queue; each has its own roster
// cache and retrying sender over its own messenger.
type stack struct {
	name       string
	roster     *roster.Directory
	dispatcher *dispatch.Dispatcher
}

var newTelegramBot = func(cfg *config.TelegramConfig, tenantID string, log zerolog.Logger) (*telegram.Bot, error) {
	return telegram.New(cfg, tenantID, log)
}

// initializeChannels builds a stack for every enabled channel.
func (d *Daemon) initializeChannels() error {
	d.registry = channels.NewRegistry()
	cfg := d.config

	if cfg.Ingress.Enabled {
		client := connector.New(connector.Options{
			ServiceURL: cfg.Connector.ServiceURL,
			Token:      cfg.Connector.Token,
			PageSize:   cfg.Connector.PageSize,
			Timeout:    time.Duration(cfg.Connector.Timeout) * time.Second,
		}, d.logger.GetZerolog())

		metricsPath := ""
		if cfg.Metrics.Enabled {
			metricsPath = cfg.Metrics.Path
		}
		server := ingress.NewServer(ingress.Options{
			Host:               cfg.Ingress.Host,
			Port:               cfg.Ingress.Port,
			SharedSecret:       cfg.Ingress.SharedSecret,
			RateLimitPerMinute: cfg.Ingress.RateLimit,
			Timeout:            time.Duration(cfg.Ingress.Timeout) * time.Second,
			MetricsPath:        metricsPath,
		}, client, d.logger.GetZerolog())

		if err := d.addChannel(server, client); err != nil {
			return err
		}
	}

	if cfg.Telegram.Enabled {
		bot, err := newTelegramBot(&cfg.Telegram, cfg.TenantID, d.logger.GetZerolog())
		if err != nil {
			return fmt.Errorf("failed to create telegram bot: %w", err)
		}
		if err := d.addChannel(bot, bot); err != nil {
			return err
		}
	}

	d.logger.Info().Strs("channels", d.registry.Names()).Msg("Channels initialized")
	return nil
}

// addChannel wires ch's events through a fresh stack over messenger.
func (d *Daemon) addChannel(ch channels.Channel, messenger chat.Messenger) error {
	st := d.newStack(ch.Name(), messenger)
	if err := d.registry.Register(ch, st.dispatcher); err != nil {
		return fmt.Errorf("failed to register channel %s: %w", ch.Name(), err)
	}
	d.stacks = append(d.stacks, st)
	return nil
}

func (d *Daemon) newStack(name string, messenger chat.Messenger) *stack {
	cfg := d.config
	log := d.logger.GetZerolog().With().Str("channel", name).Logger()

	sender := notify.New(messenger, notify.Policy{
		BaseDelay:   cfg.Retry.BaseDelay(),
		MaxDelay:    cfg.Retry.MaxDelay(),
		MaxAttempts: cfg.Retry.MaxAttempts,
	}, notify.WithLogger(log))

	directory := roster.New(sender, roster.Options{
		CapacityTTL: cfg.Roster.CapacityTTL(),
		PromptTTL:   cfg.Roster.PromptTTL(),
		MaxPages:    cfg.Roster.MaxPages,
		Logger:      log,
	})

	render := view.New(cfg.AppBaseURL)

	machine := scrum.NewMachine(d.store, sender, directory, render, scrum.Config{
		Fanout: cfg.Fanout.Concurrency,
		Logger: log,
	})

	dispatcher := dispatch.New(dispatch.Config{
		TenantID:   cfg.TenantID,
		AppBaseURL: cfg.AppBaseURL,
		MaxMembers: cfg.MaxMembers,
		Logger:     log,
	}, sender, machine, directory, render, d.queue)

	return &stack{name: name, roster: directory, dispatcher: dispatcher}
}
