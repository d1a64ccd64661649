package cli

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/secmon-lab/vigil/pkg/cli/config"
	"github.com/secmon-lab/vigil/pkg/domain/model/suppress"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdIgnore() *cli.Command {
	return &cli.Command{
		Name:  "ignore",
		Usage: "Manage alert suppressions",
		Commands: []*cli.Command{
			cmdIgnoreAdd(),
			cmdIgnoreList(),
		},
	}
}

func cmdIgnoreAdd() *cli.Command {
	var (
		firestoreCfg config.Firestore
		userName     string
		title        string
		reason       string
		ttl          time.Duration
	)

	flags := joinFlags(
		[]cli.Flag{
			&cli.StringFlag{
				Name:        "user",
				Aliases:     []string{"u"},
				Usage:       "Username the suppression applies to",
				Required:    true,
				Destination: &userName,
			},
			&cli.StringFlag{
				Name:        "title",
				Aliases:     []string{"t"},
				Usage:       "Alert title to suppress",
				Required:    true,
				Destination: &title,
			},
			&cli.StringFlag{
				Name:        "reason",
				Aliases:     []string{"r"},
				Usage:       "Why the suppression exists",
				Value:       "added by operator",
				Destination: &reason,
			},
			&cli.DurationFlag{
				Name:        "ttl",
				Usage:       "Suppression lifetime",
				Value:       4 * time.Hour,
				Destination: &ttl,
			},
		},
		firestoreCfg.Flags(),
	)

	return &cli.Command{
		Name:  "add",
		Usage: "Suppress an alert class for a user",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			repo, err := buildRepository(ctx, &firestoreCfg)
			if err != nil {
				return err
			}

			entry, err := suppress.NewIgnore(ctx, types.UserName(userName), title, reason, ttl)
			if err != nil {
				return err
			}
			if err := repo.PutIgnore(ctx, entry); err != nil {
				return err
			}

			logging.From(ctx).Info("ignore added",
				"user", userName, "title", title, "expires_at", entry.ExpiresAt)
			return nil
		},
	}
}

func cmdIgnoreList() *cli.Command {
	var firestoreCfg config.Firestore

	return &cli.Command{
		Name:  "list",
		Usage: "List active suppressions as JSON",
		Flags: firestoreCfg.Flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			repo, err := buildRepository(ctx, &firestoreCfg)
			if err != nil {
				return err
			}

			ignores, err := repo.ListIgnores(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ignores)
		},
	}
}

func cmdBlacklist() *cli.Command {
	return &cli.Command{
		Name:  "blacklist",
		Usage: "Manage users the bot must never contact",
		Commands: []*cli.Command{
			cmdBlacklistAdd(),
			cmdBlacklistRemove(),
			cmdBlacklistList(),
		},
	}
}

func cmdBlacklistAdd() *cli.Command {
	var (
		firestoreCfg config.Firestore
		userName     string
	)

	flags := joinFlags(
		[]cli.Flag{
			&cli.StringFlag{
				Name:        "user",
				Aliases:     []string{"u"},
				Usage:       "Username to blacklist",
				Required:    true,
				Destination: &userName,
			},
		},
		firestoreCfg.Flags(),
	)

	return &cli.Command{
		Name:  "add",
		Usage: "Stop the bot from ever messaging a user",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			repo, err := buildRepository(ctx, &firestoreCfg)
			if err != nil {
				return err
			}

			entry, err := suppress.NewBlacklistEntry(ctx, types.UserName(userName))
			if err != nil {
				return err
			}
			if err := repo.PutBlacklist(ctx, entry); err != nil {
				return err
			}

			logging.From(ctx).Info("user blacklisted", "user", userName)
			return nil
		},
	}
}

func cmdBlacklistRemove() *cli.Command {
	var (
		firestoreCfg config.Firestore
		userName     string
	)

	flags := joinFlags(
		[]cli.Flag{
			&cli.StringFlag{
				Name:        "user",
				Aliases:     []string{"u"},
				Usage:       "Username to remove from the blacklist",
				Required:    true,
				Destination: &userName,
			},
		},
		firestoreCfg.Flags(),
	)

	return &cli.Command{
		Name:  "remove",
		Usage: "Remove a user from the blacklist",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			repo, err := buildRepository(ctx, &firestoreCfg)
			if err != nil {
				return err
			}

			if err := repo.DeleteBlacklist(ctx, types.UserName(userName)); err != nil {
				return err
			}

			logging.From(ctx).Info("user removed from blacklist", "user", userName)
			return nil
		},
	}
}

func cmdBlacklistList() *cli.Command {
	var firestoreCfg config.Firestore

	return &cli.Command{
		Name:  "list",
		Usage: "List blacklisted users as JSON",
		Flags: firestoreCfg.Flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			repo, err := buildRepository(ctx, &firestoreCfg)
			if err != nil {
				return err
			}

			entries, err := repo.ListBlacklist(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		},
	}
}
