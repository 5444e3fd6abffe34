package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/cli/config"
	"github.com/secmon-lab/asclepius/pkg/usecase"
	"github.com/secmon-lab/asclepius/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// cmdSweep runs a single session sweep, for deployments that schedule it externally
func cmdSweep() *cli.Command {
	var appCfg config.AppConfig
	var repoCfg config.Repository

	var flags []cli.Flag
	flags = append(flags, appCfg.Flags()...)
	flags = append(flags, repoCfg.Flags()...)

	return &cli.Command{
		Name:  "sweep",
		Usage: "Expire idle and timed out agent sessions once and exit",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ragCfg, err := appCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to load RAG configuration")
			}

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logging.Default().Error("failed to close repository", "error", err.Error())
				}
			}()

			uc := usecase.New(repo, usecase.WithRAGConfig(ragCfg))
			result, err := uc.Session.Sweep(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to sweep agent sessions")
			}

			fmt.Printf("%s %d terminated, %d marked idle\n",
				color.GreenString("sweep completed:"),
				result.Terminated, result.Idled)
			return nil
		},
	}
}
