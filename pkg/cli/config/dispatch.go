package config

import (
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/service/chat"
	"github.com/secmon-lab/vigil/pkg/service/escalation"
	"github.com/urfave/cli/v3"
)

// Dispatch holds the tuning knobs of the verification flow.
type Dispatch struct {
	tickInterval    time.Duration
	responseTimeout time.Duration
	authTimeout     time.Duration
	maxRetries      int
	backoffTTL      time.Duration
	businessHoursTZ string
	messagesPath    string
}

func (x *Dispatch) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:        "tick-interval",
			Usage:       "Dispatch loop tick interval",
			Category:    "Dispatch",
			Value:       5 * time.Second,
			Destination: &x.tickInterval,
			Sources:     cli.EnvVars("VIGIL_TICK_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:        "response-timeout",
			Usage:       "How long to wait for a user response before escalating",
			Category:    "Dispatch",
			Value:       escalation.DefaultResponseTimeout,
			Destination: &x.responseTimeout,
			Sources:     cli.EnvVars("VIGIL_RESPONSE_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:        "auth-timeout",
			Usage:       "How long to wait for a 2FA push before escalating",
			Category:    "Dispatch",
			Value:       escalation.DefaultAuthTimeout,
			Destination: &x.authTimeout,
			Sources:     cli.EnvVars("VIGIL_AUTH_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:        "max-retries",
			Usage:       "Malformed responses tolerated before escalating",
			Category:    "Dispatch",
			Value:       escalation.DefaultMaxRetries,
			Destination: &x.maxRetries,
			Sources:     cli.EnvVars("VIGIL_MAX_RETRIES"),
		},
		&cli.DurationFlag{
			Name:        "backoff-ttl",
			Usage:       "Auto-ignore window after a user verifies an alert class",
			Category:    "Dispatch",
			Value:       escalation.DefaultBackoffTTL,
			Destination: &x.backoffTTL,
			Sources:     cli.EnvVars("VIGIL_BACKOFF_TTL"),
		},
		&cli.StringFlag{
			Name:        "business-hours-tz",
			Usage:       "IANA timezone for business-hours deadline stretching (empty disables)",
			Category:    "Dispatch",
			Destination: &x.businessHoursTZ,
			Sources:     cli.EnvVars("VIGIL_BUSINESS_HOURS_TZ"),
		},
		&cli.StringFlag{
			Name:        "messages",
			Usage:       "Path to a message catalog override file",
			Category:    "Dispatch",
			Destination: &x.messagesPath,
			Sources:     cli.EnvVars("VIGIL_MESSAGES"),
		},
	}
}

func (x Dispatch) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Duration("tick_interval", x.tickInterval),
		slog.Duration("response_timeout", x.responseTimeout),
		slog.Duration("auth_timeout", x.authTimeout),
		slog.Int("max_retries", x.maxRetries),
		slog.Duration("backoff_ttl", x.backoffTTL),
		slog.String("business_hours_tz", x.businessHoursTZ),
		slog.String("messages", x.messagesPath),
	)
}

func (x *Dispatch) TickInterval() time.Duration {
	return x.tickInterval
}

func (x *Dispatch) Policy() (*escalation.Policy, error) {
	policy := &escalation.Policy{
		ResponseTimeout: x.responseTimeout,
		AuthTimeout:     x.authTimeout,
		MaxRetries:      x.maxRetries,
		BackoffTTL:      x.backoffTTL,
	}

	if x.businessHoursTZ != "" {
		loc, err := time.LoadLocation(x.businessHoursTZ)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid business hours timezone",
				goerr.V("tz", x.businessHoursTZ))
		}
		policy.BusinessHours = loc
	}

	return policy, nil
}

func (x *Dispatch) Catalog() (*chat.Catalog, error) {
	if x.messagesPath == "" {
		return chat.NewCatalog()
	}
	return chat.LoadCatalog(x.messagesPath)
}
