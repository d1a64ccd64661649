package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/cli/config"
	"github.com/secmon-lab/vigil/pkg/domain/interfaces"
	"github.com/urfave/cli/v3"
)

func joinFlags(flags ...[]cli.Flag) []cli.Flag {
	var result []cli.Flag
	for _, flag := range flags {
		result = append(result, flag...)
	}
	return result
}

// buildRepository opens the Firestore repository configured by flags. The
// store commands (alert, ignore, blacklist) need one and cannot fall back to
// memory.
func buildRepository(ctx context.Context, cfg *config.Firestore) (interfaces.Repository, error) {
	if !cfg.IsConfigured() {
		return nil, goerr.New("firestore is not configured; set --firestore-project-id")
	}
	return cfg.Configure(ctx)
}
