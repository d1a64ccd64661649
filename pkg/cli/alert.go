package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/cli/config"
	"github.com/secmon-lab/vigil/pkg/domain/model/alert"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdAlert() *cli.Command {
	return &cli.Command{
		Name:  "alert",
		Usage: "Manage alerts in the store",
		Commands: []*cli.Command{
			cmdAlertNew(),
			cmdAlertList(),
		},
	}
}

func cmdAlertNew() *cli.Command {
	var (
		firestoreCfg config.Firestore
		fingerprint  string
		title        string
		userName     string
		description  string
		reason       string
		url          string
	)

	flags := joinFlags(
		[]cli.Flag{
			&cli.StringFlag{
				Name:        "fingerprint",
				Usage:       "Alert fingerprint (64 hex chars, generated when empty)",
				Destination: &fingerprint,
			},
			&cli.StringFlag{
				Name:        "title",
				Aliases:     []string{"t"},
				Usage:       "Alert title",
				Required:    true,
				Destination: &title,
			},
			&cli.StringFlag{
				Name:        "user",
				Aliases:     []string{"u"},
				Usage:       "Target username",
				Required:    true,
				Destination: &userName,
			},
			&cli.StringFlag{
				Name:        "description",
				Aliases:     []string{"d"},
				Usage:       "Alert description",
				Destination: &description,
			},
			&cli.StringFlag{
				Name:        "reason",
				Aliases:     []string{"r"},
				Usage:       "Why this alert fired",
				Destination: &reason,
			},
			&cli.StringFlag{
				Name:        "url",
				Usage:       "Link back to the detection",
				Destination: &url,
			},
		},
		firestoreCfg.Flags(),
	)

	return &cli.Command{
		Name:  "new",
		Usage: "File one alert directly into the store",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			repo, err := buildRepository(ctx, &firestoreCfg)
			if err != nil {
				return err
			}

			fp := types.AlertFingerprint(fingerprint)
			if fp == types.EmptyAlertFingerprint {
				fp = types.NewAlertFingerprint()
			}

			a, err := alert.New(ctx, fp, types.UserName(userName), title, description, reason)
			if err != nil {
				return err
			}
			a.URL = url

			if existing, err := repo.GetAlert(ctx, fp); err == nil && existing != nil {
				return goerr.New("alert with this fingerprint already exists",
					goerr.V("fingerprint", fp),
					goerr.V("status", existing.Status))
			}

			if err := repo.PutAlert(ctx, *a); err != nil {
				return err
			}

			logging.From(ctx).Info("alert filed", "fingerprint", a.Fingerprint, "user", a.UserName)
			return nil
		},
	}
}

func cmdAlertList() *cli.Command {
	var (
		firestoreCfg config.Firestore
		status       string
		userName     string
		limit        int
	)

	flags := joinFlags(
		[]cli.Flag{
			&cli.StringFlag{
				Name:        "status",
				Usage:       "Filter by status [new|in_progress|complete]",
				Destination: &status,
			},
			&cli.StringFlag{
				Name:        "user",
				Usage:       "Filter by username",
				Destination: &userName,
			},
			&cli.IntFlag{
				Name:        "limit",
				Usage:       "Maximum number of alerts",
				Value:       50,
				Destination: &limit,
			},
		},
		firestoreCfg.Flags(),
	)

	return &cli.Command{
		Name:  "list",
		Usage: "List alerts as JSON",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			repo, err := buildRepository(ctx, &firestoreCfg)
			if err != nil {
				return err
			}

			filter := &alert.QueryFilter{
				Status:   types.AlertStatus(status),
				UserName: types.UserName(userName),
				Limit:    limit,
			}
			if filter.Status != "" {
				if err := filter.Status.Validate(); err != nil {
					return err
				}
			}

			alerts, err := repo.QueryAlerts(ctx, filter)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(alerts)
		},
	}
}
