package config

import (
	"log/slog"

	"github.com/secmon-lab/vigil/pkg/service/auth"
	"github.com/urfave/cli/v3"
)

type Duo struct {
	host           string
	integrationKey string
	secretKey      string
}

func (x *Duo) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "duo-host",
			Usage:       "Duo API hostname (api-XXXXXXXX.duosecurity.com)",
			Category:    "Duo",
			Destination: &x.host,
			Sources:     cli.EnvVars("VIGIL_DUO_HOST"),
		},
		&cli.StringFlag{
			Name:        "duo-integration-key",
			Usage:       "Duo Auth API integration key",
			Category:    "Duo",
			Destination: &x.integrationKey,
			Sources:     cli.EnvVars("VIGIL_DUO_INTEGRATION_KEY"),
		},
		&cli.StringFlag{
			Name:        "duo-secret-key",
			Usage:       "Duo Auth API secret key",
			Category:    "Duo",
			Destination: &x.secretKey,
			Sources:     cli.EnvVars("VIGIL_DUO_SECRET_KEY"),
		},
	}
}

func (x Duo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", x.host),
		slog.Int("integration-key.len", len(x.integrationKey)),
		slog.Int("secret-key.len", len(x.secretKey)),
	)
}

func (x *Duo) IsConfigured() bool {
	return x.host != "" && x.integrationKey != "" && x.secretKey != ""
}

func (x *Duo) Configure() (*auth.Duo, error) {
	return auth.NewDuo(x.host, x.integrationKey, x.secretKey)
}
