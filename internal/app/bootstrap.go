// Package app wires the engine together from a workspace: database,
// config, logger, and notification channels.
package app

import (
	"database/sql"
	"os"
	"time"

	"github.com/rs/zerolog"

	"examline/internal/config"
	"examline/internal/db"
	"examline/internal/engine"
	"examline/internal/migrate"
	"examline/internal/notify"
)

// NewLogger returns the service logger. Set EXAMLINE_LOG_JSON for raw JSON
// output instead of the console writer.
func NewLogger() zerolog.Logger {
	if os.Getenv("EXAMLINE_LOG_JSON") != "" {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

// BuildEngine opens the workspace database, applies migrations, loads
// config, and wires the notification dispatcher. The caller owns closing
// the returned DB handle.
func BuildEngine(workspace string) (engine.Engine, *sql.DB, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	log := NewLogger()
	e := engine.New(conn, cfg, log)
	e.Notify = buildDispatcher(cfg, e.Loc, log)
	return e, conn, nil
}

func buildDispatcher(cfg *config.Config, loc *time.Location, log zerolog.Logger) *notify.Dispatcher {
	d := &notify.Dispatcher{Log: log}
	d.Channels = append(d.Channels, &notify.WhatsAppChannel{
		BaseURL:        cfg.Notifications.WhatsApp.BaseURL,
		CountryCode:    cfg.Notifications.WhatsApp.CountryCode,
		ServiceBaseURL: cfg.Service.BaseURL,
		Currency:       cfg.Payments.Currency,
		Location:       loc,
		Log:            log,
	})
	if cfg.Notifications.Mail.Host != "" {
		d.Channels = append(d.Channels, &notify.MailChannel{
			Mailer: &notify.SMTPMailer{
				Host:     cfg.Notifications.Mail.Host,
				Port:     cfg.Notifications.Mail.Port,
				From:     cfg.Notifications.Mail.From,
				Username: cfg.Notifications.Mail.Username,
				Password: os.Getenv("EXAMLINE_SMTP_PASSWORD"),
			},
			ServiceBaseURL: cfg.Service.BaseURL,
			Currency:       cfg.Payments.Currency,
			Location:       loc,
		})
	}
	return d
}
