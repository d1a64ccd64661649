package cli

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/cli/config"
	server "github.com/secmon-lab/vigil/pkg/controller/http"
	slack_controller "github.com/secmon-lab/vigil/pkg/controller/slack"
	"github.com/secmon-lab/vigil/pkg/domain/interfaces"
	"github.com/secmon-lab/vigil/pkg/domain/model/user"
	"github.com/secmon-lab/vigil/pkg/repository/memory"
	"github.com/secmon-lab/vigil/pkg/service/auth"
	"github.com/secmon-lab/vigil/pkg/service/chat"
	"github.com/secmon-lab/vigil/pkg/service/directory"
	"github.com/secmon-lab/vigil/pkg/service/dispatch"
	"github.com/secmon-lab/vigil/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func cmdServe() *cli.Command {
	var (
		addr         string
		dev          bool
		policyCfg    config.Policy
		sentryCfg    config.Sentry
		slackCfg     config.Slack
		duoCfg       config.Duo
		firestoreCfg config.Firestore
		dispatchCfg  config.Dispatch
	)

	flags := joinFlags(
		[]cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Aliases:     []string{"a"},
				Sources:     cli.EnvVars("VIGIL_ADDR"),
				Usage:       "Listen address (default: 127.0.0.1:8080)",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.BoolFlag{
				Name:        "dev",
				Usage:       "Development mode: in-memory store, console chat, auto-approving 2FA",
				Sources:     cli.EnvVars("VIGIL_DEV"),
				Destination: &dev,
			},
		},
		policyCfg.Flags(),
		sentryCfg.Flags(),
		slackCfg.Flags(),
		duoCfg.Flags(),
		firestoreCfg.Flags(),
		dispatchCfg.Flags(),
	)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the alert verification bot",
		Flags:   flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logging.Default().Info("starting server",
				"addr", addr,
				"dev", dev,
				"policy", policyCfg,
				"sentry", sentryCfg,
				"slack", slackCfg,
				"duo", duoCfg,
				"firestore", firestoreCfg,
				"dispatch", dispatchCfg,
			)

			if err := sentryCfg.Configure(); err != nil {
				return err
			}

			escalationPolicy, err := dispatchCfg.Policy()
			if err != nil {
				return err
			}
			catalog, err := dispatchCfg.Catalog()
			if err != nil {
				return err
			}

			loopOpts := []dispatch.Option{
				dispatch.WithEscalationPolicy(escalationPolicy),
				dispatch.WithCatalog(catalog),
				dispatch.WithTickInterval(dispatchCfg.TickInterval()),
			}
			serverOpts := []server.Options{}

			var repo interfaces.Repository
			var chatClient interfaces.ChatClient
			var authClient interfaces.AuthClient
			var console *chat.Console

			if dev {
				logging.From(ctx).Warn("⚠️  Development mode: nothing is persisted and 2FA always approves")
				repo = memory.New()
				console = chat.NewConsole(os.Stdout, []*user.User{
					{ID: "U-DEV", Name: "dev", RealName: "Dev User"},
				})
				chatClient = console
				authClient = auth.NewNoop()
			} else {
				if !firestoreCfg.IsConfigured() {
					return goerr.New("firestore is required outside dev mode; set --firestore-project-id")
				}
				repo, err = firestoreCfg.Configure(ctx)
				if err != nil {
					return err
				}

				slackSvc, err := slackCfg.Configure()
				if err != nil {
					return err
				}
				chatClient = slackSvc

				if duoCfg.IsConfigured() {
					authClient, err = duoCfg.Configure()
					if err != nil {
						return err
					}
				} else {
					logging.From(ctx).Warn("Duo is not configured; affirmed alerts close without 2FA")
					authClient = auth.NewNoop()
				}

				serverOpts = append(serverOpts, server.WithSlackEvents(
					slack_controller.New(slackSvc), slackCfg.Verifier()))
				loopOpts = append(loopOpts, dispatch.WithReportChannel(slackCfg.ReportChannel()))
			}

			if policyCfg.HasPolicies() {
				policyClient, err := policyCfg.Configure()
				if err != nil {
					return err
				}
				loopOpts = append(loopOpts, dispatch.WithPolicyGate(policyClient))
			}

			dir := directory.New(chatClient, authClient)
			loopOpts = append(loopOpts,
				dispatch.WithRepository(repo),
				dispatch.WithChat(chatClient),
				dispatch.WithAuth(authClient),
				dispatch.WithDirectory(dir),
			)

			loop, err := dispatch.New(loopOpts...)
			if err != nil {
				return err
			}

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           server.New(repo, loop, serverOpts...),
				ReadHeaderTimeout: 10 * time.Second,
			}

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return loop.Run(ctx)
			})
			if console != nil {
				// Lines typed on stdin become messages from the dev user.
				eg.Go(func() error {
					scanner := bufio.NewScanner(os.Stdin)
					for scanner.Scan() {
						console.Inject("U-DEV", scanner.Text())
					}
					return nil
				})
			}
			eg.Go(func() error {
				logging.From(ctx).Info("http server listening", "addr", addr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return goerr.Wrap(err, "http server failed")
				}
				return nil
			})
			eg.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})

			return eg.Wait()
		},
	}
}
