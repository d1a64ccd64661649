package config

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/domain/model/slackmsg"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/service/chat"
	"github.com/urfave/cli/v3"

	sdk "github.com/slack-go/slack"
)

type Slack struct {
	oauthToken    string
	signingSecret string
	reportChannel string
}

func (x *Slack) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "slack-oauth-token",
			Usage:       "Slack OAuth token",
			Category:    "Slack",
			Destination: &x.oauthToken,
			Sources:     cli.EnvVars("VIGIL_SLACK_OAUTH_TOKEN"),
		},
		&cli.StringFlag{
			Name:        "slack-signing-secret",
			Usage:       "Slack signing secret",
			Category:    "Slack",
			Destination: &x.signingSecret,
			Sources:     cli.EnvVars("VIGIL_SLACK_SIGNING_SECRET"),
		},
		&cli.StringFlag{
			Name:        "slack-report-channel",
			Usage:       "Channel ID that receives escalation notices",
			Category:    "Slack",
			Destination: &x.reportChannel,
			Sources:     cli.EnvVars("VIGIL_SLACK_REPORT_CHANNEL"),
		},
	}
}

func (x Slack) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("oauth-token.len", len(x.oauthToken)),
		slog.Int("signing-secret.len", len(x.signingSecret)),
		slog.String("report-channel", x.reportChannel),
	)
}

func (x *Slack) Configure() (*chat.SlackService, error) {
	if x.oauthToken == "" {
		return nil, goerr.New("slack oauth token is not set")
	}

	client := sdk.New(x.oauthToken)
	return chat.NewSlack(client)
}

func (x *Slack) ReportChannel() types.ChannelID {
	return types.ChannelID(x.reportChannel)
}

func (x *Slack) Verifier() slackmsg.PayloadVerifier {
	if x.signingSecret == "" {
		return nil
	}
	return slackmsg.NewPayloadVerifier(x.signingSecret)
}
