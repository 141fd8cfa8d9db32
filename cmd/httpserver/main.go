package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/actions-runner-provisioning-backend/api/runnerhandler"
	"github.com/ruteri/actions-runner-provisioning-backend/cmd/flags"
	"github.com/ruteri/actions-runner-provisioning-backend/httpserver"
	"github.com/urfave/cli/v2"
)

var flagListenAddr = &cli.StringFlag{
	Name:    "listen-addr",
	EnvVars: []string{"LISTEN_ADDR"},
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for API",
}

func main() {
	app := &cli.App{
		Name:  "runner-registration-server",
		Usage: "Serve the GitHub Actions runner registration API",
		Flags: append(append(append([]cli.Flag{
			flagListenAddr,
			flags.LogServiceFlagFn("runner-registration"),
		}, flags.CommonFlags...), flags.ServerFlags...), flags.RunnerFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			registrar, err := flags.NewRegistrar(cCtx, logger)
			if err != nil {
				logger.Error("Failed to configure registration", "err", err)
				return err
			}

			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flagListenAddr.Name))
			server, err := httpserver.New(cfg, runnerhandler.NewHandler(registrar, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server",
				"runnerDir", cCtx.String(flags.RunnerDirFlag.Name),
				"githubHost", cCtx.String(flags.GitHubHostFlag.Name),
				"secretStores", len(cCtx.StringSlice(flags.SecretStoreFlag.Name)))
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
